package landmarks

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/posture.report/internal/posture"
)

// maxMessageSize bounds a single framed message (a 1080p RGB frame is ~6MB).
const maxMessageSize = 32 << 20

// request is sent to the worker for every frame.
type request struct {
	Seq       uint64 `msgpack:"seq"`
	FrameData []byte `msgpack:"frame_data"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
}

// response is the worker's answer to one request. Detected is false when no
// person was found; Error carries a worker-side failure.
type response struct {
	Seq       uint64                                    `msgpack:"seq"`
	Detected  bool                                      `msgpack:"detected"`
	Landmarks map[posture.LandmarkName]posture.Landmark `msgpack:"landmarks"`
	Error     string                                    `msgpack:"error,omitempty"`
	TotalMS   float64                                   `msgpack:"total_ms,omitempty"`
}

// writeMessage marshals v and writes it with a 4-byte big-endian length prefix.
func writeMessage(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(payload) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v. It returns
// io.EOF untouched when the stream ends cleanly between messages.
func readMessage(r io.Reader, v interface{}) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read message body (%d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
