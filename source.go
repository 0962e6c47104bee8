package rtspd

import (
	"errors"
	"time"
)

// ErrNoFrame is returned by a FrameSource when no frame is available yet.
var ErrNoFrame = errors.New("no frame available")

// Frame is an encoded media frame.
type Frame struct {
	// frame payload. For video, an H264 access unit in Annex-B format.
	Payload []byte

	// presentation timestamp.
	PTS time.Duration
}

// FrameSource provides encoded frames to a stream.
// ReadFrame must not block: when no frame is ready it returns ErrNoFrame
// and the server retries shortly after.
type FrameSource interface {
	ReadFrame() (*Frame, error)
}
