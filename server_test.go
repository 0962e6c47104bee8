package rtspd

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/camsrv/rtspd/pkg/auth"
	"github.com/camsrv/rtspd/pkg/base"
	"github.com/camsrv/rtspd/pkg/headers"
	"github.com/camsrv/rtspd/pkg/sdp"
)

// a minimal access unit with a SPS, a PPS and an IDR slice
var testAccessUnit = []byte{
	0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e, 0xab, 0x40, 0xb0, 0x4b,
	0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80,
	0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0x33, 0xff,
}

// testSource returns the same access unit on every read.
type testSource struct {
	mutex   sync.Mutex
	payload []byte
	reads   int
}

func newTestSource() *testSource {
	return &testSource{payload: testAccessUnit}
}

func (s *testSource) ReadFrame() (*Frame, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.payload == nil {
		return nil, ErrNoFrame
	}

	s.reads++
	return &Frame{
		Payload: s.payload,
		PTS:     time.Duration(s.reads) * 40 * time.Millisecond,
	}, nil
}

func mustParseURL(t *testing.T, s string) *base.URL {
	u, err := base.ParseURL(s)
	require.NoError(t, err)
	return u
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// doRequest performs a request/response exchange, discarding any
// interleaved frame that arrives before the response.
func doRequest(t *testing.T, bw *bufio.Writer, br *bufio.Reader, req base.Request) *base.Response {
	err := req.Write(bw)
	require.NoError(t, err)

	for {
		byts, err := br.Peek(1)
		require.NoError(t, err)

		if byts[0] == '$' {
			var fr base.InterleavedFrame
			err = fr.Read(2048, br)
			require.NoError(t, err)
			continue
		}

		var res base.Response
		err = res.Read(br)
		require.NoError(t, err)
		return &res
	}
}

func readSession(t *testing.T, res *base.Response) string {
	var sx headers.Session
	err := sx.Unmarshal(res.Header["Session"])
	require.NoError(t, err)
	return sx.Session
}

func startTestServer(t *testing.T, s *Server) *ServerStream {
	if s.RTSPAddress == "" {
		s.RTSPAddress = "localhost:8554"
	}
	if s.Log == nil {
		s.Log = testLogger()
	}

	st, err := s.AddStream(newTestSource(), nil)
	require.NoError(t, err)

	err = s.Start()
	require.NoError(t, err)

	return st
}

func dialServer(t *testing.T, address string) (net.Conn, *bufio.Reader, *bufio.Writer) {
	nconn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	return nconn, bufio.NewReader(nconn), bufio.NewWriter(nconn)
}

func TestServerOptions(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	res := doRequest(t, bw, br, base.Request{
		Method: base.Options,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"1"}, res.Header["CSeq"])
	require.Equal(t, base.HeaderValue{"rtspd"}, res.Header["Server"])
	require.Contains(t, res.Header["Public"][0], "DESCRIBE")
	require.Contains(t, res.Header["Public"][0], "SETUP")
}

func TestServerCloseWithoutStart(t *testing.T) {
	s := &Server{}
	s.Close()
	s.Close()
}

func TestServerConnGoroutineCleanup(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	baseline := runtime.NumGoroutine()

	for i := 0; i < 10; i++ {
		nconn, br, bw := dialServer(t, "localhost:8554")

		res := doRequest(t, bw, br, base.Request{
			Method: base.Options,
			URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
			Header: base.Header{
				"CSeq": base.HeaderValue{"1"},
			},
		})
		require.Equal(t, base.StatusOK, res.StatusCode)

		nconn.Close()
	}

	// goroutines tied to closed connections must terminate
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+2
	}, time.Second, 10*time.Millisecond)
}

func TestServerCSeqMissing(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	res := doRequest(t, bw, br, base.Request{
		Method: base.Options,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{},
	})
	require.Equal(t, base.StatusBadRequest, res.StatusCode)
}

func TestServerDescribe(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	res := doRequest(t, bw, br, base.Request{
		Method: base.Describe,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"2"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"application/sdp"}, res.Header["Content-Type"])
	require.NoError(t, sdp.Validate(res.Body))
	require.Contains(t, string(res.Body), "m=video 0 RTP/AVP 96")
	require.Contains(t, string(res.Body), "a=rtpmap:96 H264/90000")

	res = doRequest(t, bw, br, base.Request{
		Method: base.Describe,
		URL:    mustParseURL(t, "rtsp://localhost:8554/nonexisting"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"3"},
		},
	})
	require.Equal(t, base.StatusNotFound, res.StatusCode)
}

func deliveryPtr(v headers.TransportDelivery) *headers.TransportDelivery {
	return &v
}

func TestServerPlayTCP(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	inTH := headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		Delivery:       deliveryPtr(headers.TransportDeliveryUnicast),
		InterleavedIDs: &[2]int{0, 1},
	}

	res := doRequest(t, bw, br, base.Request{
		Method: base.Setup,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0/track0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"1"},
			"Transport": inTH.Marshal(),
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	var outTH headers.Transport
	err := outTH.Unmarshal(res.Header["Transport"])
	require.NoError(t, err)
	require.Equal(t, headers.TransportProtocolTCP, outTH.Protocol)
	require.Equal(t, &[2]int{0, 1}, outTH.InterleavedIDs)
	require.NotNil(t, outTH.SSRC)

	session := readSession(t, res)
	require.NotEmpty(t, session)
	require.Contains(t, res.Header["Session"][0], "timeout=60")

	res = doRequest(t, bw, br, base.Request{
		Method: base.Play,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"2"},
			"Session": base.HeaderValue{session},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Contains(t, res.Header["RTP-Info"][0], "url=rtsp://localhost:8554/stream0/track0")

	// frames start flowing on channel 0
	var fr base.InterleavedFrame
	nconn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	err = fr.Read(2048, br)
	require.NoError(t, err)
	require.Equal(t, 0, fr.Channel)

	var pkt rtp.Packet
	err = pkt.Unmarshal(fr.Payload)
	require.NoError(t, err)
	require.Equal(t, uint8(96), pkt.PayloadType)
	require.Equal(t, *outTH.SSRC, pkt.SSRC)
	nconn.SetReadDeadline(time.Time{}) //nolint:errcheck

	res = doRequest(t, bw, br, base.Request{
		Method: base.Pause,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"3"},
			"Session": base.HeaderValue{session},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = doRequest(t, bw, br, base.Request{
		Method: base.Teardown,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"4"},
			"Session": base.HeaderValue{session},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Nil(t, s.findSession(session))
}

func TestServerPlayUDP(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rtpConn.Close()

	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rtcpConn.Close()

	nconn, br, bw := dialServer(t, "127.0.0.1:8554")
	defer nconn.Close()

	clientPorts := [2]int{
		rtpConn.LocalAddr().(*net.UDPAddr).Port,
		rtcpConn.LocalAddr().(*net.UDPAddr).Port,
	}

	inTH := headers.Transport{
		Delivery:    deliveryPtr(headers.TransportDeliveryUnicast),
		ClientPorts: &clientPorts,
	}

	res := doRequest(t, bw, br, base.Request{
		Method: base.Setup,
		URL:    mustParseURL(t, "rtsp://127.0.0.1:8554/stream0/track0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"1"},
			"Transport": inTH.Marshal(),
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	var outTH headers.Transport
	err = outTH.Unmarshal(res.Header["Transport"])
	require.NoError(t, err)
	require.Equal(t, headers.TransportProtocolUDP, outTH.Protocol)
	require.Equal(t, &clientPorts, outTH.ClientPorts)
	require.NotNil(t, outTH.ServerPorts)
	require.Equal(t, outTH.ServerPorts[0]+1, outTH.ServerPorts[1])
	require.NotNil(t, outTH.SSRC)

	session := readSession(t, res)

	res = doRequest(t, bw, br, base.Request{
		Method: base.Play,
		URL:    mustParseURL(t, "rtsp://127.0.0.1:8554/stream0"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"2"},
			"Session": base.HeaderValue{session},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	buf := make([]byte, 2048)
	rtpConn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	n, _, err := rtpConn.ReadFrom(buf)
	require.NoError(t, err)

	var pkt rtp.Packet
	err = pkt.Unmarshal(buf[:n])
	require.NoError(t, err)
	require.Equal(t, uint8(96), pkt.PayloadType)
	require.Equal(t, *outTH.SSRC, pkt.SSRC)
}

func TestServerSetupErrors(t *testing.T) {
	s := &Server{MaxSessions: 1}
	startTestServer(t, s)
	defer s.Close()

	t.Run("unknown stream", func(t *testing.T) {
		nconn, br, bw := dialServer(t, "localhost:8554")
		defer nconn.Close()

		inTH := headers.Transport{
			Protocol:       headers.TransportProtocolTCP,
			InterleavedIDs: &[2]int{0, 1},
		}

		res := doRequest(t, bw, br, base.Request{
			Method: base.Setup,
			URL:    mustParseURL(t, "rtsp://localhost:8554/nonexisting/track0"),
			Header: base.Header{
				"CSeq":      base.HeaderValue{"1"},
				"Transport": inTH.Marshal(),
			},
		})
		require.Equal(t, base.StatusNotFound, res.StatusCode)
	})

	t.Run("audio track disabled", func(t *testing.T) {
		nconn, br, bw := dialServer(t, "localhost:8554")
		defer nconn.Close()

		inTH := headers.Transport{
			Protocol:       headers.TransportProtocolTCP,
			InterleavedIDs: &[2]int{2, 3},
		}

		res := doRequest(t, bw, br, base.Request{
			Method: base.Setup,
			URL:    mustParseURL(t, "rtsp://localhost:8554/stream0/track1"),
			Header: base.Header{
				"CSeq":      base.HeaderValue{"1"},
				"Transport": inTH.Marshal(),
			},
		})
		require.Equal(t, base.StatusNotFound, res.StatusCode)
	})

	t.Run("udp without client ports", func(t *testing.T) {
		nconn, br, bw := dialServer(t, "localhost:8554")
		defer nconn.Close()

		res := doRequest(t, bw, br, base.Request{
			Method: base.Setup,
			URL:    mustParseURL(t, "rtsp://localhost:8554/stream0/track0"),
			Header: base.Header{
				"CSeq":      base.HeaderValue{"1"},
				"Transport": base.HeaderValue{"RTP/AVP;unicast"},
			},
		})
		require.Equal(t, base.StatusUnsupportedTransport, res.StatusCode)

		// the refused setup must not leave a session behind
		require.Equal(t, 0, s.Stats().Sessions)
	})

	t.Run("session table full", func(t *testing.T) {
		nconn1, br1, bw1 := dialServer(t, "localhost:8554")
		defer nconn1.Close()

		inTH := headers.Transport{
			Protocol:       headers.TransportProtocolTCP,
			InterleavedIDs: &[2]int{0, 1},
		}

		res := doRequest(t, bw1, br1, base.Request{
			Method: base.Setup,
			URL:    mustParseURL(t, "rtsp://localhost:8554/stream0/track0"),
			Header: base.Header{
				"CSeq":      base.HeaderValue{"1"},
				"Transport": inTH.Marshal(),
			},
		})
		require.Equal(t, base.StatusOK, res.StatusCode)

		nconn2, br2, bw2 := dialServer(t, "localhost:8554")
		defer nconn2.Close()

		res = doRequest(t, bw2, br2, base.Request{
			Method: base.Setup,
			URL:    mustParseURL(t, "rtsp://localhost:8554/stream0/track0"),
			Header: base.Header{
				"CSeq":      base.HeaderValue{"1"},
				"Transport": inTH.Marshal(),
			},
		})
		require.Equal(t, base.StatusServiceUnavailable, res.StatusCode)
	})
}

func TestServerSessionNotFound(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	for _, method := range []base.Method{base.Play, base.Pause, base.Teardown} {
		res := doRequest(t, bw, br, base.Request{
			Method: method,
			URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
			Header: base.Header{
				"CSeq":    base.HeaderValue{"1"},
				"Session": base.HeaderValue{"12345678"},
			},
		})
		require.Equal(t, base.StatusSessionNotFound, res.StatusCode)
	}
}

func TestServerNotImplemented(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	for _, method := range []base.Method{base.Announce, base.Record, base.Redirect} {
		res := doRequest(t, bw, br, base.Request{
			Method: method,
			URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
			Header: base.Header{
				"CSeq": base.HeaderValue{"1"},
			},
		})
		require.Equal(t, base.StatusNotImplemented, res.StatusCode)
	}
}

func TestServerUnknownMethod(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	res := doRequest(t, bw, br, base.Request{
		Method: base.Method("INVALID"),
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	})
	require.Equal(t, base.StatusMethodNotAllowed, res.StatusCode)
}

func TestServerKeepalive(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	inTH := headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		InterleavedIDs: &[2]int{0, 1},
	}

	res := doRequest(t, bw, br, base.Request{
		Method: base.Setup,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0/track0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"1"},
			"Transport": inTH.Marshal(),
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	session := readSession(t, res)

	ss := s.findSession(session)
	require.NotNil(t, ss)

	ss.mutex.Lock()
	ss.lastActivity = time.Now().Add(-30 * time.Second)
	ss.mutex.Unlock()

	res = doRequest(t, bw, br, base.Request{
		Method: base.GetParameter,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"2"},
			"Session": base.HeaderValue{session},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{session}, res.Header["Session"])

	require.False(t, ss.hasTimedOut(time.Now()))
}

func TestServerSessionTimeout(t *testing.T) {
	s := &Server{}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	inTH := headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		InterleavedIDs: &[2]int{0, 1},
	}

	res := doRequest(t, bw, br, base.Request{
		Method: base.Setup,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0/track0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"1"},
			"Transport": inTH.Marshal(),
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	session := readSession(t, res)

	ss := s.findSession(session)
	require.NotNil(t, ss)

	ss.mutex.Lock()
	ss.lastActivity = time.Now().Add(-61 * time.Second)
	ss.mutex.Unlock()

	s.closeTimedOutSessions()
	require.Nil(t, s.findSession(session))
}

func md5HexTest(in string) string {
	h := md5.Sum([]byte(in))
	return hex.EncodeToString(h[:])
}

func TestServerAuth(t *testing.T) {
	users := auth.NewUserStore("testrealm")
	err := users.AddUser("myuser", "mypass")
	require.NoError(t, err)

	s := &Server{Users: users}
	startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	// OPTIONS does not require credentials
	res := doRequest(t, bw, br, base.Request{
		Method: base.Options,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	// other methods do
	res = doRequest(t, bw, br, base.Request{
		Method: base.Describe,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"2"},
		},
	})
	require.Equal(t, base.StatusUnauthorized, res.StatusCode)

	var challenge headers.Authenticate
	err = challenge.Unmarshal(res.Header["WWW-Authenticate"])
	require.NoError(t, err)
	require.Equal(t, headers.AuthDigestMD5, challenge.Method)
	require.Equal(t, "testrealm", challenge.Realm)
	nonce1 := challenge.Nonce

	// a failed attempt gets a fresh nonce
	res = doRequest(t, bw, br, base.Request{
		Method: base.Describe,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"3"},
		},
	})
	require.Equal(t, base.StatusUnauthorized, res.StatusCode)

	err = challenge.Unmarshal(res.Header["WWW-Authenticate"])
	require.NoError(t, err)
	require.NotEqual(t, nonce1, challenge.Nonce)

	// valid digest credentials
	uri := "rtsp://localhost:8554/stream0"
	ha1 := md5HexTest("myuser:testrealm:mypass")
	ha2 := md5HexTest("DESCRIBE:" + uri)
	response := md5HexTest(ha1 + ":" + challenge.Nonce + ":" + ha2)

	authHeader := headers.Authorization{
		Method:   headers.AuthDigestMD5,
		Username: "myuser",
		Realm:    "testrealm",
		Nonce:    challenge.Nonce,
		URI:      uri,
		Response: response,
	}

	res = doRequest(t, bw, br, base.Request{
		Method: base.Describe,
		URL:    mustParseURL(t, uri),
		Header: base.Header{
			"CSeq":          base.HeaderValue{"4"},
			"Authorization": authHeader.Marshal(),
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
}

func TestServerStats(t *testing.T) {
	s := &Server{}
	st := startTestServer(t, s)
	defer s.Close()

	nconn, br, bw := dialServer(t, "localhost:8554")
	defer nconn.Close()

	inTH := headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		InterleavedIDs: &[2]int{0, 1},
	}

	res := doRequest(t, bw, br, base.Request{
		Method: base.Setup,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0/track0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"1"},
			"Transport": inTH.Marshal(),
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	session := readSession(t, res)

	res = doRequest(t, bw, br, base.Request{
		Method: base.Play,
		URL:    mustParseURL(t, "rtsp://localhost:8554/stream0"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"2"},
			"Session": base.HeaderValue{session},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	var fr base.InterleavedFrame
	nconn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	err := fr.Read(2048, br)
	require.NoError(t, err)

	stats := s.Stats()
	require.Len(t, stats.Streams, 1)
	require.Equal(t, st.Name(), stats.Streams[0].Name)
	require.NotZero(t, stats.Streams[0].RTPPackets)

	ss := s.findSession(session)
	require.NotNil(t, ss)
	info := ss.Info()
	require.True(t, strings.HasPrefix(info, "Session "+session+":"))
	require.Contains(t, info, "State: playing")
	require.Contains(t, info, "Packets: ")
}
