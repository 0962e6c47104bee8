package base

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

const bodyMaxLength = 128 * 1024

type body []byte

func (b *body) read(header Header, rb *bufio.Reader) error {
	cls, ok := header["Content-Length"]
	if !ok || len(cls) != 1 {
		*b = nil
		return nil
	}

	cl, err := strconv.ParseInt(cls[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Content-Length")
	}

	if cl > bodyMaxLength {
		return fmt.Errorf("Content-Length exceeds %d (it's %d)", bodyMaxLength, cl)
	}

	if cl == 0 {
		*b = nil
		return nil
	}

	*b = make([]byte, cl)
	_, err = io.ReadFull(rb, *b)
	return err
}

func (b body) write(wb *bufio.Writer) error {
	if len(b) == 0 {
		return nil
	}

	_, err := wb.Write(b)
	return err
}
