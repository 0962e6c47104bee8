// Package rtspd implements an embedded multi-stream RTSP server.
package rtspd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camsrv/rtspd/pkg/auth"
	"github.com/camsrv/rtspd/pkg/headers"
	"github.com/camsrv/rtspd/pkg/liberrors"
)

const (
	serverHeader = "rtspd"

	defaultRTSPAddress    = ":8554"
	defaultMaxStreams     = 4
	defaultMaxSessions    = 10
	defaultSessionTimeout = 60 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultFramePeriod    = 10 * time.Millisecond

	sessionSweepPeriod = 10 * time.Second
)

// Server is a RTSP server that serves up to MaxStreams streams
// to up to MaxSessions concurrent sessions.
type Server struct {
	//
	// RTSP parameters (all optional)
	//
	// the address of the RTSP listener.
	RTSPAddress string
	// maximum number of streams.
	MaxStreams int
	// maximum number of concurrent sessions.
	MaxSessions int
	// inactive sessions are closed after this timeout.
	SessionTimeout time.Duration
	// timeout of read operations.
	ReadTimeout time.Duration
	// timeout of write operations.
	WriteTimeout time.Duration
	// interval between frame distributions.
	FramePeriod time.Duration
	// serve the audio track of streams that have one.
	AudioEnabled bool

	//
	// authentication (optional)
	//
	// credentials; when nil, authentication is disabled.
	Users *auth.UserStore
	// method proposed in WWW-Authenticate challenges; Digest by default.
	AuthMethod headers.AuthMethod

	//
	// logging (optional)
	//
	Log *slog.Logger

	ctx       context.Context
	ctxCancel context.CancelFunc
	listener  net.Listener
	wg        sync.WaitGroup
	closeOnce sync.Once

	// lock order: streamMutex before sessionMutex
	streamMutex sync.RWMutex
	streams     []*ServerStream

	sessionMutex  sync.RWMutex
	sessions      map[string]*ServerSession
	sessionNumber atomic.Uint64
}

// Start starts the server: it opens the listener and spawns the
// accept, frame distribution and session timeout workers.
func (s *Server) Start() error {
	if s.RTSPAddress == "" {
		s.RTSPAddress = defaultRTSPAddress
	}
	if s.MaxStreams <= 0 {
		s.MaxStreams = defaultMaxStreams
	}
	if s.MaxSessions <= 0 {
		s.MaxSessions = defaultMaxSessions
	}
	if s.SessionTimeout <= 0 {
		s.SessionTimeout = defaultSessionTimeout
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = defaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = defaultWriteTimeout
	}
	if s.FramePeriod <= 0 {
		s.FramePeriod = defaultFramePeriod
	}
	if s.Log == nil {
		s.Log = slog.Default()
	}

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())

	if s.streams == nil {
		s.streams = make([]*ServerStream, s.MaxStreams)
	}
	if s.sessions == nil {
		s.sessions = make(map[string]*ServerSession)
	}

	var err error
	s.listener, err = net.Listen("tcp", s.RTSPAddress)
	if err != nil {
		s.ctxCancel()
		return err
	}

	s.wg.Add(3)
	go s.runAccept()
	go s.runFrameDistribution()
	go s.runSessionSweep()

	s.Log.Info("server started", "address", s.RTSPAddress)

	return nil
}

// Close closes the server: it stops the workers, closes the listener
// and tears down every session. It can be called multiple times.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		// the server may have never been started
		if s.ctxCancel != nil {
			s.ctxCancel()
		}
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()

		s.sessionMutex.Lock()
		sessions := make([]*ServerSession, 0, len(s.sessions))
		for _, ss := range s.sessions {
			sessions = append(sessions, ss)
		}
		s.sessions = make(map[string]*ServerSession)
		s.sessionMutex.Unlock()

		for _, ss := range sessions {
			ss.close()
		}

		if s.Log != nil {
			s.Log.Info("server closed")
		}
	})
}

// AddStream registers a stream in the first free slot and returns it.
// The stream is served at path "stream<N>", where N is the slot index.
// audioSource is optional; it is served as a second track when
// AudioEnabled is set.
// Streams may be added before or after Start.
func (s *Server) AddStream(videoSource FrameSource, audioSource FrameSource) (*ServerStream, error) {
	if videoSource == nil {
		return nil, fmt.Errorf("video source is required")
	}

	s.streamMutex.Lock()
	defer s.streamMutex.Unlock()

	if s.streams == nil {
		if s.MaxStreams <= 0 {
			s.MaxStreams = defaultMaxStreams
		}
		s.streams = make([]*ServerStream, s.MaxStreams)
	}

	for i, slot := range s.streams {
		if slot == nil {
			st := &ServerStream{
				name:        fmt.Sprintf("stream%d", i),
				videoSource: videoSource,
				audioSource: audioSource,
			}
			s.streams[i] = st
			return st, nil
		}
	}

	return nil, liberrors.ErrServerTooManyStreams{Max: s.MaxStreams}
}

func (s *Server) findStream(path string) *ServerStream {
	s.streamMutex.RLock()
	defer s.streamMutex.RUnlock()

	for _, st := range s.streams {
		if st != nil && st.name == path {
			return st
		}
	}
	return nil
}

// newSession allocates a session, assigning it a numeric id from the
// per-server counter and a secret id. It returns an error when the
// session table is full.
func (s *Server) newSession(sc *ServerConn) (*ServerSession, error) {
	s.sessionMutex.Lock()
	defer s.sessionMutex.Unlock()

	if len(s.sessions) >= s.MaxSessions {
		return nil, liberrors.ErrServerTooManySessions{Max: s.MaxSessions}
	}

	ss := newServerSession(s, sc, s.sessionNumber.Add(1))
	s.sessions[ss.secretID] = ss

	s.Log.Debug("session created",
		"session", ss.secretID, "remote", ss.remoteAddr)

	return ss, nil
}

func (s *Server) findSession(secretID string) *ServerSession {
	s.sessionMutex.RLock()
	defer s.sessionMutex.RUnlock()

	return s.sessions[secretID]
}

// removeSession unregisters and tears down a session.
// Removing a session twice is harmless.
func (s *Server) removeSession(ss *ServerSession) {
	s.sessionMutex.Lock()
	_, ok := s.sessions[ss.secretID]
	delete(s.sessions, ss.secretID)
	s.sessionMutex.Unlock()

	if ok {
		ss.close()
		s.Log.Debug("session removed", "session", ss.secretID)
	}
}

func (s *Server) runAccept() {
	defer s.wg.Done()

	for {
		nconn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.Log.Error("accept failed", "err", err)
			}
			return
		}

		sc := newServerConn(s, nconn)
		s.wg.Add(1)
		go sc.run()
	}
}

func (s *Server) runSessionSweep() {
	defer s.wg.Done()

	t := time.NewTicker(sessionSweepPeriod)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.closeTimedOutSessions()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) closeTimedOutSessions() {
	now := time.Now()

	s.sessionMutex.Lock()
	var expired []*ServerSession
	for _, ss := range s.sessions {
		if ss.hasTimedOut(now) {
			expired = append(expired, ss)
			delete(s.sessions, ss.secretID)
		}
	}
	s.sessionMutex.Unlock()

	for _, ss := range expired {
		s.Log.Info("session closed", "session", ss.secretID,
			"info", ss.Info(), "reason", liberrors.ErrServerSessionTimedOut{})
		ss.close()
	}
}

// StreamStats are the statistics of a stream.
type StreamStats struct {
	Name       string
	RTPPackets uint64
	RTPBytes   uint64
}

// Stats are the statistics of a server.
type Stats struct {
	Streams         []StreamStats
	Sessions        int
	SessionsPlaying int
	RTPPackets      uint64
	RTPBytes        uint64
}

// Stats returns server statistics.
func (s *Server) Stats() Stats {
	var st Stats

	s.streamMutex.RLock()
	for _, stream := range s.streams {
		if stream == nil {
			continue
		}
		ss := stream.Stats()
		st.Streams = append(st.Streams, ss)
		st.RTPPackets += ss.RTPPackets
		st.RTPBytes += ss.RTPBytes
	}
	s.streamMutex.RUnlock()

	s.sessionMutex.RLock()
	st.Sessions = len(s.sessions)
	for _, ss := range s.sessions {
		if ss.State() == ServerSessionStatePlaying {
			st.SessionsPlaying++
		}
	}
	s.sessionMutex.RUnlock()

	return st
}
