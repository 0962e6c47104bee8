package base

import (
	"bufio"
	"bytes"
	"fmt"
)

const (
	requestMaxMethodLength   = 64
	requestMaxURLLength      = 2048
	requestMaxProtocolLength = 64
)

// Method is the method of a RTSP request.
type Method string

// methods.
const (
	Announce     Method = "ANNOUNCE"
	Describe     Method = "DESCRIBE"
	GetParameter Method = "GET_PARAMETER"
	Options      Method = "OPTIONS"
	Pause        Method = "PAUSE"
	Play         Method = "PLAY"
	Record       Method = "RECORD"
	Redirect     Method = "REDIRECT"
	Setup        Method = "SETUP"
	SetParameter Method = "SET_PARAMETER"
	Teardown     Method = "TEARDOWN"
)

// Request is a RTSP request.
type Request struct {
	// request method
	Method Method

	// request url
	URL *URL

	// map of header values
	Header Header

	// optional body
	Body []byte
}

// Read reads a request.
func (req *Request) Read(rb *bufio.Reader) error {
	byts, err := readBytesLimited(rb, ' ', requestMaxMethodLength)
	if err != nil {
		return err
	}
	req.Method = Method(byts[:len(byts)-1])

	if req.Method == "" {
		return fmt.Errorf("empty method")
	}

	byts, err = readBytesLimited(rb, ' ', requestMaxURLLength)
	if err != nil {
		return err
	}
	rawURL := string(byts[:len(byts)-1])

	if rawURL != "*" {
		ur, err2 := ParseURL(rawURL)
		if err2 != nil {
			return fmt.Errorf("invalid URL (%v)", rawURL)
		}
		req.URL = ur
	}

	byts, err = readBytesLimited(rb, '\r', requestMaxProtocolLength)
	if err != nil {
		return err
	}
	proto := byts[:len(byts)-1]

	if string(proto) != rtspProtocol10 {
		return fmt.Errorf("expected '%s', got '%s'", rtspProtocol10, proto)
	}

	err = readByteEqual(rb, '\n')
	if err != nil {
		return err
	}

	err = req.Header.read(rb)
	if err != nil {
		return err
	}

	return (*body)(&req.Body).read(req.Header, rb)
}

// Write writes a request.
func (req Request) Write(wb *bufio.Writer) error {
	urStr := "*"
	if req.URL != nil {
		urStr = req.URL.String()
	}

	_, err := wb.Write([]byte(string(req.Method) + " " + urStr + " " + rtspProtocol10 + "\r\n"))
	if err != nil {
		return err
	}

	if req.Header == nil {
		req.Header = make(Header)
	}
	if len(req.Body) != 0 {
		req.Header["Content-Length"] = HeaderValue{fmt.Sprintf("%d", len(req.Body))}
	}

	err = req.Header.write(wb)
	if err != nil {
		return err
	}

	err = body(req.Body).write(wb)
	if err != nil {
		return err
	}

	return wb.Flush()
}

// String implements fmt.Stringer.
func (req Request) String() string {
	var buf bytes.Buffer
	req.Write(bufio.NewWriter(&buf)) //nolint:errcheck
	return buf.String()
}
