package base

import (
	"bufio"
	"fmt"
)

// interleavedFrameMagicByte is the first byte of an interleaved frame.
const interleavedFrameMagicByte = 0x24

// InterleavedFrame is an interleaved frame, and allows to transfer binary data
// within RTSP/TCP connections. It is used to send and receive RTP and RTCP
// packets with the TCP transport protocol.
type InterleavedFrame struct {
	// channel ID
	Channel int

	// payload
	Payload []byte
}

// Read reads an interleaved frame.
func (f *InterleavedFrame) Read(maxPayloadSize int, rb *bufio.Reader) error {
	var header [4]byte
	for i := range header {
		byt, err := rb.ReadByte()
		if err != nil {
			return err
		}
		header[i] = byt
	}

	if header[0] != interleavedFrameMagicByte {
		return fmt.Errorf("invalid magic byte (0x%.2x)", header[0])
	}

	payloadLen := int(uint16(header[2])<<8 | uint16(header[3]))
	if payloadLen > maxPayloadSize {
		return fmt.Errorf("payload size (%d) greater than maximum allowed (%d)",
			payloadLen, maxPayloadSize)
	}

	f.Channel = int(header[1])
	f.Payload = make([]byte, payloadLen)

	for n := 0; n < payloadLen; {
		read, err := rb.Read(f.Payload[n:])
		if err != nil {
			return err
		}
		n += read
	}

	return nil
}

// MarshalSize returns the size of an InterleavedFrame.
func (f InterleavedFrame) MarshalSize() int {
	return 4 + len(f.Payload)
}

// MarshalTo writes an InterleavedFrame.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	buf[0] = interleavedFrameMagicByte
	buf[1] = byte(f.Channel)
	buf[2] = byte(len(f.Payload) >> 8)
	buf[3] = byte(len(f.Payload))
	n := copy(buf[4:], f.Payload)
	return 4 + n, nil
}

// Marshal writes an InterleavedFrame.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	return buf, err
}
