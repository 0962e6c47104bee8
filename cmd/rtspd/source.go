package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/camsrv/rtspd"
)

// one encoded access unit per read
const deviceReadSize = 512 * 1024

// deviceSource reads encoded frames from an encoder device node or a
// FIFO. Every read returns at most one access unit; an empty read
// means no frame is available yet.
type deviceSource struct {
	f     *os.File
	buf   []byte
	start time.Time
}

func openDeviceSource(path string) (*deviceSource, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", path, err)
	}

	return &deviceSource{
		f:     f,
		buf:   make([]byte, deviceReadSize),
		start: time.Now(),
	}, nil
}

func (d *deviceSource) ReadFrame() (*rtspd.Frame, error) {
	n, err := d.f.Read(d.buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return nil, rtspd.ErrNoFrame
		}
		return nil, err
	}
	if n == 0 {
		return nil, rtspd.ErrNoFrame
	}

	payload := make([]byte, n)
	copy(payload, d.buf[:n])

	return &rtspd.Frame{
		Payload: payload,
		PTS:     time.Since(d.start),
	}, nil
}

func (d *deviceSource) Close() error {
	return d.f.Close()
}
