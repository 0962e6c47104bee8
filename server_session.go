package rtspd

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camsrv/rtspd/pkg/liberrors"
)

// ServerSessionState is a state of a ServerSession.
type ServerSessionState int

// states.
const (
	ServerSessionStateInitial ServerSessionState = iota
	ServerSessionStateReady
	ServerSessionStatePlaying
	ServerSessionStateRecording
)

// String implements fmt.Stringer.
func (s ServerSessionState) String() string {
	switch s {
	case ServerSessionStateInitial:
		return "initial"
	case ServerSessionStateReady:
		return "ready"
	case ServerSessionStatePlaying:
		return "playing"
	case ServerSessionStateRecording:
		return "recording"
	}
	return "unknown"
}

// ServerSession is a session of a Server.
type ServerSession struct {
	s          *Server
	sc         *ServerConn
	number     uint64
	secretID   string
	remoteAddr string
	created    time.Time

	mutex        sync.RWMutex
	state        ServerSessionState
	lastActivity time.Time
	path         string
	stream       *ServerStream
	medias       map[int]*serverSessionMedia

	closeOnce sync.Once
}

func newServerSession(s *Server, sc *ServerConn, number uint64) *ServerSession {
	now := time.Now()

	return &ServerSession{
		s:            s,
		sc:           sc,
		number:       number,
		secretID:     uuid.New().String(),
		remoteAddr:   sc.nconn.RemoteAddr().String(),
		created:      now,
		state:        ServerSessionStateInitial,
		lastActivity: now,
		medias:       make(map[int]*serverSessionMedia),
	}
}

// SecretID returns the value of the Session header of the session.
func (ss *ServerSession) SecretID() string {
	return ss.secretID
}

// State returns the state of the session.
func (ss *ServerSession) State() ServerSessionState {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()
	return ss.state
}

// setState sets the state and refreshes the activity timer.
func (ss *ServerSession) setState(state ServerSessionState) {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	ss.state = state
	ss.lastActivity = time.Now()
}

func (ss *ServerSession) refreshActivity() {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	ss.lastActivity = time.Now()
}

func (ss *ServerSession) hasTimedOut(now time.Time) bool {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()
	return now.Sub(ss.lastActivity) > ss.s.SessionTimeout
}

// checkState returns an error when the current state is not
// in the given list.
func (ss *ServerSession) checkState(allowed ...ServerSessionState) error {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	for _, a := range allowed {
		if ss.state == a {
			return nil
		}
	}

	allowedList := make([]fmt.Stringer, len(allowed))
	for i, a := range allowed {
		allowedList[i] = a
	}

	return liberrors.ErrServerInvalidState{
		AllowedList: allowedList,
		State:       ss.state,
	}
}

func (ss *ServerSession) currentPath() string {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()
	return ss.path
}

// setupMedia configures the transport of a track.
// The previous transport of the track, if any, is replaced.
func (ss *ServerSession) setupMedia(sm *serverSessionMedia) {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if prev, ok := ss.medias[sm.trackID]; ok {
		prev.close()
	}
	ss.medias[sm.trackID] = sm
	ss.lastActivity = time.Now()
}

func (ss *ServerSession) setStream(path string, stream *ServerStream) {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	ss.path = path
	ss.stream = stream
}

func (ss *ServerSession) streamRef() *ServerStream {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()
	return ss.stream
}

// writeFrame packetizes a frame and sends it on the transport of the
// given track.
func (ss *ServerSession) writeFrame(trackID int, payload []byte, pts time.Duration, ntp time.Time) error {
	ss.mutex.RLock()
	sm := ss.medias[trackID]
	ss.mutex.RUnlock()

	if sm == nil {
		return nil
	}

	return sm.writePacketRTP(payload, pts, ntp)
}

// rtpStats returns the total packets and bytes sent on every track.
func (ss *ServerSession) rtpStats() (uint64, uint64) {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	var packets, bytes uint64
	for _, sm := range ss.medias {
		packets += sm.rtpPackets.Load()
		bytes += sm.rtpBytes.Load()
	}
	return packets, bytes
}

// Info returns a human-readable description of the session.
func (ss *ServerSession) Info() string {
	ss.mutex.RLock()
	state := ss.state
	lastActivity := ss.lastActivity
	ss.mutex.RUnlock()

	packets, bytes := ss.rtpStats()
	now := time.Now()

	return fmt.Sprintf("Session %s: %s, State: %s, Age: %ds, Idle: %ds, Packets: %d, Bytes: %d",
		ss.secretID,
		ss.remoteAddr,
		state,
		int(now.Sub(ss.created).Seconds()),
		int(now.Sub(lastActivity).Seconds()),
		packets,
		bytes)
}

// close tears down the transports of the session. It is idempotent.
func (ss *ServerSession) close() {
	ss.closeOnce.Do(func() {
		ss.mutex.Lock()
		medias := ss.medias
		ss.medias = make(map[int]*serverSessionMedia)
		ss.mutex.Unlock()

		for _, sm := range medias {
			sm.close()
		}
	})
}
