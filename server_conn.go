package rtspd

import (
	"bufio"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/camsrv/rtspd/pkg/auth"
	"github.com/camsrv/rtspd/pkg/base"
	"github.com/camsrv/rtspd/pkg/headers"
	"github.com/camsrv/rtspd/pkg/liberrors"
)

const supportedMethods = "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN, GET_PARAMETER, SET_PARAMETER"

// ServerConn is a RTSP connection towards a client.
type ServerConn struct {
	s     *Server
	nconn net.Conn
	br    *bufio.Reader
	bw    *bufio.Writer

	// protects the outgoing side of the connection, shared between
	// responses and interleaved frames
	writeMutex sync.Mutex

	// nonce of the last challenge sent on this connection.
	// A fresh one is generated for every challenge.
	authNonce string
}

func newServerConn(s *Server, nconn net.Conn) *ServerConn {
	return &ServerConn{
		s:     s,
		nconn: nconn,
		br:    bufio.NewReader(nconn),
		bw:    bufio.NewWriter(nconn),
	}
}

func (sc *ServerConn) run() {
	defer sc.s.wg.Done()
	defer sc.nconn.Close()

	// unblock reads when the server is closed; the goroutine exits
	// together with the connection
	readDone := make(chan struct{})
	defer close(readDone)

	go func() {
		select {
		case <-sc.s.ctx.Done():
			sc.nconn.Close()
		case <-readDone:
		}
	}()

	sc.s.Log.Debug("connection opened", "remote", sc.nconn.RemoteAddr())

	for {
		var req base.Request
		err := req.Read(sc.br)
		if err != nil {
			select {
			case <-sc.s.ctx.Done():
				err = liberrors.ErrServerTerminated{}
			default:
			}
			sc.s.Log.Debug("connection closed",
				"remote", sc.nconn.RemoteAddr(), "reason", err)
			return
		}

		res := sc.handleRequest(&req)

		err = sc.writeResponse(res)
		if err != nil {
			sc.s.Log.Debug("connection closed",
				"remote", sc.nconn.RemoteAddr(), "reason", err)
			return
		}
	}
}

func (sc *ServerConn) writeResponse(res *base.Response) error {
	sc.writeMutex.Lock()
	defer sc.writeMutex.Unlock()

	sc.nconn.SetWriteDeadline(time.Now().Add(sc.s.WriteTimeout)) //nolint:errcheck
	return res.Write(sc.bw)
}

// writeInterleavedFrame sends a binary frame within the connection.
func (sc *ServerConn) writeInterleavedFrame(channel int, payload []byte) error {
	sc.writeMutex.Lock()
	defer sc.writeMutex.Unlock()

	f := base.InterleavedFrame{
		Channel: channel,
		Payload: payload,
	}
	byts, err := f.Marshal()
	if err != nil {
		return err
	}

	sc.nconn.SetWriteDeadline(time.Now().Add(sc.s.WriteTimeout)) //nolint:errcheck
	_, err = sc.bw.Write(byts)
	if err != nil {
		return err
	}
	return sc.bw.Flush()
}

func (sc *ServerConn) handleRequest(req *base.Request) *base.Response {
	cseq, cseqOK := req.Header["CSeq"]
	if !cseqOK || len(cseq) != 1 {
		sc.s.Log.Warn("request rejected",
			"remote", sc.nconn.RemoteAddr(), "err", liberrors.ErrServerCSeqMissing{})
		return &base.Response{
			StatusCode: base.StatusBadRequest,
			Header:     base.Header{"Server": base.HeaderValue{serverHeader}},
		}
	}

	sc.s.Log.Debug("request",
		"remote", sc.nconn.RemoteAddr(), "method", req.Method, "cseq", cseq[0])

	// "*" is accepted for OPTIONS only
	if req.URL == nil && req.Method != base.Options {
		return sc.newResponse(base.StatusBadRequest, cseq)
	}

	// every method except OPTIONS requires valid credentials
	if sc.s.Users != nil && req.Method != base.Options {
		err := auth.Validate(req, sc.s.Users, sc.authNonce)
		if err != nil {
			sc.s.Log.Info("request rejected", "remote", sc.nconn.RemoteAddr(),
				"err", fmt.Errorf("%w: %w", liberrors.ErrServerAuth{}, err))

			nonce, err2 := auth.GenerateNonce()
			if err2 != nil {
				return sc.newResponse(base.StatusInternalServerError, cseq)
			}
			sc.authNonce = nonce

			res := sc.newResponse(base.StatusUnauthorized, cseq)
			res.Header["WWW-Authenticate"] = auth.GenerateWWWAuthenticate(
				sc.s.AuthMethod, sc.s.Users.Realm(), nonce)
			return res
		}
	}

	switch req.Method {
	case base.Options:
		res := sc.newResponse(base.StatusOK, cseq)
		res.Header["Public"] = base.HeaderValue{supportedMethods}
		return res

	case base.Describe:
		return sc.handleDescribe(req, cseq)

	case base.Setup:
		return sc.handleSetup(req, cseq)

	case base.Play:
		return sc.handlePlay(req, cseq)

	case base.Pause:
		return sc.handlePause(req, cseq)

	case base.Teardown:
		return sc.handleTeardown(req, cseq)

	case base.GetParameter, base.SetParameter:
		return sc.handleParameter(req, cseq)

	case base.Announce, base.Record, base.Redirect:
		return sc.newResponse(base.StatusNotImplemented, cseq)
	}

	sc.s.Log.Warn("request rejected", "remote", sc.nconn.RemoteAddr(),
		"err", liberrors.ErrServerUnhandledRequest{Request: req})
	return sc.newResponse(base.StatusMethodNotAllowed, cseq)
}

func (sc *ServerConn) newResponse(code base.StatusCode, cseq base.HeaderValue) *base.Response {
	return &base.Response{
		StatusCode: code,
		Header: base.Header{
			"CSeq":   cseq,
			"Server": base.HeaderValue{serverHeader},
		},
	}
}

// requestPath extracts the stream path and the track id from a request
// URL. The track id defaults to the video track when the URL carries no
// track control suffix.
func requestPath(req *base.Request) (string, int, bool) {
	pathAndQuery, ok := req.URL.RTSPPathAndQuery()
	if !ok {
		return "", 0, false
	}

	path, _ := base.PathSplitQuery(pathAndQuery)
	path = strings.TrimSuffix(path, "/")

	if i := strings.LastIndex(path, "/track"); i >= 0 {
		switch path[i+1:] {
		case videoControl:
			return path[:i], videoTrackID, true

		case audioControl:
			return path[:i], audioTrackID, true
		}
		return "", 0, false
	}

	return path, videoTrackID, true
}

func (sc *ServerConn) localIP() string {
	return sc.nconn.LocalAddr().(*net.TCPAddr).IP.String()
}

func (sc *ServerConn) sessionFromRequest(req *base.Request) (*ServerSession, error) {
	v, ok := req.Header["Session"]
	if !ok {
		return nil, liberrors.ErrServerSessionNotFound{}
	}

	var h headers.Session
	err := h.Unmarshal(v)
	if err != nil {
		return nil, err
	}

	ss := sc.s.findSession(h.Session)
	if ss == nil {
		return nil, liberrors.ErrServerSessionNotFound{}
	}

	return ss, nil
}

func (sc *ServerConn) sessionHeader(ss *ServerSession) base.HeaderValue {
	timeout := uint(sc.s.SessionTimeout / time.Second)
	return headers.Session{
		Session: ss.secretID,
		Timeout: &timeout,
	}.Marshal()
}

func (sc *ServerConn) handleDescribe(req *base.Request, cseq base.HeaderValue) *base.Response {
	path, _, ok := requestPath(req)
	if !ok {
		sc.s.Log.Info("describe failed",
			"remote", sc.nconn.RemoteAddr(), "err", liberrors.ErrServerInvalidPath{})
		return sc.newResponse(base.StatusBadRequest, cseq)
	}

	st := sc.s.findStream(path)
	if st == nil {
		sc.s.Log.Info("describe failed",
			"remote", sc.nconn.RemoteAddr(), "err", liberrors.ErrServerStreamNotFound{Path: path})
		return sc.newResponse(base.StatusNotFound, cseq)
	}

	byts, err := st.Description(sc.localIP(), sc.s.AudioEnabled)
	if err != nil {
		return sc.newResponse(base.StatusInternalServerError, cseq)
	}

	res := sc.newResponse(base.StatusOK, cseq)
	res.Header["Content-Type"] = base.HeaderValue{"application/sdp"}
	res.Header["Content-Base"] = base.HeaderValue{req.URL.String() + "/"}
	res.Body = byts
	return res
}

func (sc *ServerConn) handleSetup(req *base.Request, cseq base.HeaderValue) *base.Response {
	path, trackID, ok := requestPath(req)
	if !ok {
		sc.s.Log.Info("setup failed",
			"remote", sc.nconn.RemoteAddr(), "err", liberrors.ErrServerInvalidPath{})
		return sc.newResponse(base.StatusBadRequest, cseq)
	}

	st := sc.s.findStream(path)
	if st == nil {
		return sc.newResponse(base.StatusNotFound, cseq)
	}

	if trackID == audioTrackID && !sc.s.AudioEnabled {
		return sc.newResponse(base.StatusNotFound, cseq)
	}

	var inTH headers.Transport
	err := inTH.Unmarshal(req.Header["Transport"])
	if err != nil {
		sc.s.Log.Info("setup failed", "remote", sc.nconn.RemoteAddr(),
			"err", liberrors.ErrServerTransportHeaderInvalid{Err: err})
		return sc.newResponse(base.StatusUnsupportedTransport, cseq)
	}

	// a setup without a session creates one; with a session it adds a track
	created := false
	ss, err := sc.sessionFromRequest(req)
	if err != nil {
		ss, err = sc.s.newSession(sc)
		if err != nil {
			sc.s.Log.Warn("setup failed", "remote", sc.nconn.RemoteAddr(), "err", err)
			return sc.newResponse(base.StatusServiceUnavailable, cseq)
		}
		created = true
	}

	// a failed setup must not leave a fresh session in the table
	abort := func(code base.StatusCode) *base.Response {
		if created {
			sc.s.removeSession(ss)
		}
		return sc.newResponse(code, cseq)
	}

	err = ss.checkState(ServerSessionStateInitial, ServerSessionStateReady)
	if err != nil {
		return abort(base.StatusMethodNotValidInThisState)
	}

	sm, err := newServerSessionMedia(ss, trackID)
	if err != nil {
		return abort(base.StatusInternalServerError)
	}

	outTH := headers.Transport{
		Protocol: inTH.Protocol,
		Delivery: func() *headers.TransportDelivery {
			d := headers.TransportDeliveryUnicast
			return &d
		}(),
		SSRC: &sm.ssrc,
	}

	if inTH.Protocol == headers.TransportProtocolTCP {
		ids := [2]int{trackID * 2, trackID*2 + 1}
		if inTH.InterleavedIDs != nil {
			ids = *inTH.InterleavedIDs
		}
		sm.initializeTCP(ids)
		outTH.InterleavedIDs = &ids
	} else {
		if inTH.ClientPorts == nil {
			sc.s.Log.Info("setup failed", "remote", sc.nconn.RemoteAddr(),
				"err", liberrors.ErrServerUnsupportedTransport{Value: req.Header["Transport"][0]})
			return abort(base.StatusUnsupportedTransport)
		}

		peerIP := sc.nconn.RemoteAddr().(*net.TCPAddr).IP
		err = sm.initializeUDP(peerIP, *inTH.ClientPorts)
		if err != nil {
			return abort(base.StatusInternalServerError)
		}

		serverPorts := sm.serverPorts()
		outTH.ClientPorts = inTH.ClientPorts
		outTH.ServerPorts = &serverPorts
	}

	ss.setStream(path, st)
	ss.setupMedia(sm)
	ss.setState(ServerSessionStateReady)

	sc.s.Log.Info("session ready", "session", ss.secretID,
		"path", path, "track", trackID, "protocol", inTH.Protocol)

	res := sc.newResponse(base.StatusOK, cseq)
	res.Header["Transport"] = outTH.Marshal()
	res.Header["Session"] = sc.sessionHeader(ss)
	return res
}

func (sc *ServerConn) handlePlay(req *base.Request, cseq base.HeaderValue) *base.Response {
	ss, err := sc.sessionFromRequest(req)
	if err != nil {
		return sc.newResponse(base.StatusSessionNotFound, cseq)
	}

	// PLAY while playing is a no-op
	err = ss.checkState(ServerSessionStateReady, ServerSessionStatePlaying)
	if err != nil {
		sc.s.Log.Info("play failed", "session", ss.secretID, "err", err)
		return sc.newResponse(base.StatusMethodNotValidInThisState, cseq)
	}

	ss.setState(ServerSessionStatePlaying)
	sc.s.Log.Info("session playing", "session", ss.secretID, "path", ss.currentPath())

	res := sc.newResponse(base.StatusOK, cseq)
	res.Header["Session"] = sc.sessionHeader(ss)
	res.Header["RTP-Info"] = sc.rtpInfo(req, ss)
	return res
}

// rtpInfo generates the RTP-Info header of a PLAY response, with one
// url entry per setupped track.
func (sc *ServerConn) rtpInfo(req *base.Request, ss *ServerSession) base.HeaderValue {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	baseURL := req.URL.Scheme + "://" + req.URL.Host + "/" + ss.path

	var entries []string
	for trackID := range ss.medias {
		control := videoControl
		if trackID == audioTrackID {
			control = audioControl
		}
		entries = append(entries, "url="+baseURL+"/"+control)
	}
	sort.Strings(entries)

	return base.HeaderValue{strings.Join(entries, ",")}
}

func (sc *ServerConn) handlePause(req *base.Request, cseq base.HeaderValue) *base.Response {
	ss, err := sc.sessionFromRequest(req)
	if err != nil {
		return sc.newResponse(base.StatusSessionNotFound, cseq)
	}

	// PAUSE while already paused is a no-op
	err = ss.checkState(ServerSessionStatePlaying, ServerSessionStateReady)
	if err != nil {
		sc.s.Log.Info("pause failed", "session", ss.secretID, "err", err)
		return sc.newResponse(base.StatusMethodNotValidInThisState, cseq)
	}

	ss.setState(ServerSessionStateReady)
	sc.s.Log.Info("session paused", "session", ss.secretID)

	res := sc.newResponse(base.StatusOK, cseq)
	res.Header["Session"] = sc.sessionHeader(ss)
	return res
}

func (sc *ServerConn) handleTeardown(req *base.Request, cseq base.HeaderValue) *base.Response {
	ss, err := sc.sessionFromRequest(req)
	if err != nil {
		return sc.newResponse(base.StatusSessionNotFound, cseq)
	}

	sc.s.Log.Info("session teardown", "session", ss.secretID, "info", ss.Info())
	sc.s.removeSession(ss)

	res := sc.newResponse(base.StatusOK, cseq)
	res.Header["Session"] = base.HeaderValue{ss.secretID}
	return res
}

// handleParameter serves GET_PARAMETER and SET_PARAMETER, which are
// used by most clients as session keepalives.
func (sc *ServerConn) handleParameter(req *base.Request, cseq base.HeaderValue) *base.Response {
	res := sc.newResponse(base.StatusOK, cseq)

	if _, ok := req.Header["Session"]; ok {
		ss, err := sc.sessionFromRequest(req)
		if err != nil {
			return sc.newResponse(base.StatusSessionNotFound, cseq)
		}

		ss.refreshActivity()
		res.Header["Session"] = base.HeaderValue{ss.secretID}
	}

	return res
}
