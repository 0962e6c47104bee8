package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, s string) *URL {
	u, err := ParseURL(s)
	require.NoError(t, err)
	return u
}

var casesRequest = []struct {
	name string
	byts []byte
	req  Request
}{
	{
		"options",
		[]byte("OPTIONS rtsp://example.com/stream0 RTSP/1.0\r\n" +
			"CSeq: 1\r\n" +
			"\r\n"),
		Request{
			Method: Options,
			Header: Header{
				"CSeq": HeaderValue{"1"},
			},
		},
	},
	{
		"describe",
		[]byte("DESCRIBE rtsp://example.com/stream0 RTSP/1.0\r\n" +
			"Accept: application/sdp\r\n" +
			"CSeq: 2\r\n" +
			"\r\n"),
		Request{
			Method: Describe,
			Header: Header{
				"CSeq":   HeaderValue{"2"},
				"Accept": HeaderValue{"application/sdp"},
			},
		},
	},
	{
		"set_parameter with body",
		[]byte("SET_PARAMETER rtsp://example.com/stream0 RTSP/1.0\r\n" +
			"CSeq: 3\r\n" +
			"Content-Length: 15\r\n" +
			"\r\n" +
			"param: somedata"),
		Request{
			Method: SetParameter,
			Header: Header{
				"CSeq":           HeaderValue{"3"},
				"Content-Length": HeaderValue{"15"},
			},
			Body: []byte("param: somedata"),
		},
	},
}

func TestRequestRead(t *testing.T) {
	for _, c := range casesRequest {
		t.Run(c.name, func(t *testing.T) {
			var req Request
			err := req.Read(bufio.NewReader(bytes.NewBuffer(c.byts)))
			require.NoError(t, err)
			require.Equal(t, c.req.Method, req.Method)
			require.Equal(t, c.req.Header, req.Header)
			require.Equal(t, c.req.Body, req.Body)
			require.Equal(t, "rtsp://example.com/stream0", req.URL.String())
		})
	}
}

func TestRequestWrite(t *testing.T) {
	for _, c := range casesRequest {
		t.Run(c.name, func(t *testing.T) {
			req := c.req
			req.URL = mustParseURL(t, "rtsp://example.com/stream0")

			var buf bytes.Buffer
			err := req.Write(bufio.NewWriter(&buf))
			require.NoError(t, err)
			require.Equal(t, c.byts, buf.Bytes())
		})
	}
}

func TestRequestReadErrors(t *testing.T) {
	for _, c := range []struct {
		name string
		byts []byte
	}{
		{
			"empty method",
			[]byte(" rtsp://example.com RTSP/1.0\r\n\r\n"),
		},
		{
			"invalid URL",
			[]byte("OPTIONS http://example.com RTSP/1.0\r\n\r\n"),
		},
		{
			"invalid protocol",
			[]byte("OPTIONS rtsp://example.com RTSP/2.0\r\n\r\n"),
		},
		{
			"truncated",
			[]byte("OPTIONS rtsp://example.com RTSP/1.0\r\nCSeq: 1\r\n"),
		},
	} {
		t.Run(c.name, func(t *testing.T) {
			var req Request
			err := req.Read(bufio.NewReader(bytes.NewBuffer(c.byts)))
			require.Error(t, err)
		})
	}
}
