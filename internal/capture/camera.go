package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/banshee-data/posture.report/internal/monitoring"
)

// CameraConfig describes the local camera pipeline.
type CameraConfig struct {
	Device      string // v4l2 device path; empty selects autovideosrc
	Width       int
	Height      int
	ReadTimeout time.Duration
}

// Camera captures RGB frames from a local webcam.
//
// Pipeline structure:
//
//	v4l2src|autovideosrc → videoconvert → videoscale → capsfilter(RGB) → appsink
//
// Both the appsink and the hand-off to Next keep only the newest frame, so a
// slow detector sees the latest posture rather than a backlog. Opening is
// retried a few times since a webcam is often still held by its last user.
type Camera struct {
	cfg      CameraConfig
	pipeline *gst.Pipeline
	sink     *app.Sink
	frames   chan Frame
	errs     chan error
	seq      uint64
	dropped  uint64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closeOne sync.Once
	done     chan struct{}
}

const (
	openAttempts   = 3
	openRetryDelay = 500 * time.Millisecond
)

// OpenCamera builds and starts the capture pipeline, retrying up to three
// times half a second apart.
func OpenCamera(ctx context.Context, cfg CameraConfig) (*Camera, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}

	gst.Init(nil)

	return withRetry(ctx, openAttempts, openRetryDelay, func() (*Camera, error) {
		return startCamera(ctx, cfg)
	})
}

// startCamera makes one attempt at building and starting the pipeline. A
// failed attempt leaves nothing running.
func startCamera(ctx context.Context, cfg CameraConfig) (c *Camera, err error) {
	pipeline, err := gst.NewPipeline("posture-camera")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() {
		if err != nil {
			if serr := pipeline.SetState(gst.StateNull); serr != nil {
				monitoring.Logf("capture: failed to reset pipeline: %v", serr)
			}
		}
	}()

	var src *gst.Element
	if cfg.Device != "" {
		src, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", cfg.Device)
	} else {
		src, err = gst.NewElement("autovideosrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create autovideosrc: %w", err)
		}
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rgbCaps(cfg.Width, cfg.Height)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, scaler, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link camera pipeline: %w", err)
	}

	c = &Camera{
		cfg:      cfg,
		pipeline: pipeline,
		sink:     sink,
		frames:   make(chan Frame, 1),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start camera pipeline: %w", err)
	}

	busCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.watchBus(busCtx)

	monitoring.Logf("capture: camera started device=%q %dx%d", cfg.Device, cfg.Width, cfg.Height)
	return c, nil
}

func rgbCaps(width, height int) string {
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)
}

// onNewSample copies the mapped buffer, since GStreamer reuses it, and hands
// the frame over without blocking the streaming thread.
func (c *Camera) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := Frame{
		Seq:       atomic.AddUint64(&c.seq, 1),
		Timestamp: time.Now(),
		Width:     c.cfg.Width,
		Height:    c.cfg.Height,
		Data:      frameData,
	}

	if pushNewest(c.frames, frame) {
		atomic.AddUint64(&c.dropped, 1)
		monitoring.Debugf("capture: replaced unread frame with seq=%d, reader busy", frame.Seq)
	}
	return gst.FlowOK
}

// watchBus reports pipeline errors and end-of-stream to Next.
func (c *Camera) watchBus(ctx context.Context) {
	defer c.wg.Done()
	bus := c.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			c.report(ErrEndOfStream)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			monitoring.Logf("capture: pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
			c.report(fmt.Errorf("capture: pipeline error: %s", gerr.Error()))
		}
	}
}

func (c *Camera) report(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// Next returns the newest frame, or ErrReadTimeout if none arrived in time.
func (c *Camera) Next(ctx context.Context) (Frame, error) {
	timer := time.NewTimer(c.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, ErrClosed
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return Frame{}, err
	case <-timer.C:
		return Frame{}, ErrReadTimeout
	}
}

// Dropped returns how many unread frames were replaced by newer ones.
func (c *Camera) Dropped() uint64 { return atomic.LoadUint64(&c.dropped) }

// Close stops the pipeline and releases the camera.
func (c *Camera) Close() error {
	var err error
	c.closeOne.Do(func() {
		close(c.done)
		c.cancel()
		c.wg.Wait()
		err = c.pipeline.SetState(gst.StateNull)
		monitoring.Logf("capture: camera stopped frames=%d dropped=%d",
			atomic.LoadUint64(&c.seq), atomic.LoadUint64(&c.dropped))
	})
	return err
}
