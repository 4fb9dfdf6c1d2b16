package landmarks

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/capture"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
)

// WorkerConfig describes the pose worker subprocess.
type WorkerConfig struct {
	Command string
	Args    []string
	Timeout time.Duration // per-frame deadline, default 2s
}

// Worker runs the pose model as a subprocess speaking length-prefixed
// msgpack on stdin/stdout. Worker stderr is forwarded to the logger.
type Worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	client *client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartWorker spawns the worker process.
func StartWorker(ctx context.Context, cfg WorkerConfig) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("landmarks: worker command is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}
	monitoring.Logf("landmarks: worker started command=%s pid=%d", cfg.Command, cmd.Process.Pid)

	w := &Worker{
		cmd:    cmd,
		stdin:  stdin,
		client: newClient(stdout, stdin, cfg.Timeout),
		cancel: cancel,
	}

	w.wg.Add(2)
	go w.logStderr(stderr)
	go w.waitProcess(ctx)
	return w, nil
}

// Detect sends frame to the worker and waits for its landmarks.
func (w *Worker) Detect(ctx context.Context, frame capture.Frame) (posture.LandmarkSet, error) {
	return w.client.Detect(ctx, frame)
}

// Close closes the worker's stdin, giving it two seconds to exit before it is
// killed.
func (w *Worker) Close() error {
	_ = w.stdin.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		monitoring.Logf("landmarks: worker did not exit, killing pid=%d", w.cmd.Process.Pid)
		w.cancel()
		<-done
	}
	w.cancel()
	return nil
}

func (w *Worker) logStderr(r io.Reader) {
	defer w.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, "[DEBUG]") {
			monitoring.Debugf("landmarks worker: %s", line)
			continue
		}
		monitoring.Logf("landmarks worker: %s", line)
	}
}

func (w *Worker) waitProcess(ctx context.Context) {
	defer w.wg.Done()
	err := w.cmd.Wait()
	switch {
	case ctx.Err() != nil:
		monitoring.Debugf("landmarks: worker stopped: %v", err)
	case err != nil:
		monitoring.Logf("landmarks: worker exited unexpectedly: %v", err)
	default:
		monitoring.Logf("landmarks: worker exited")
	}
}
