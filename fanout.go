package rtspd

import (
	"errors"
	"time"
)

const (
	frameReadRetries = 3
	frameReadBackoff = 20 * time.Millisecond
)

// runFrameDistribution periodically pulls frames from the sources of
// every registered stream and fans them out to playing sessions.
func (s *Server) runFrameDistribution() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.FramePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			s.distributeFrames()
		}
	}
}

func (s *Server) distributeFrames() {
	s.streamMutex.RLock()
	streams := make([]*ServerStream, 0, len(s.streams))
	for _, st := range s.streams {
		if st != nil {
			streams = append(streams, st)
		}
	}
	s.streamMutex.RUnlock()

	ntp := time.Now()

	for _, st := range streams {
		frame := s.readFrameWithRetry(st.videoSource)
		if frame != nil && len(frame.Payload) > 0 {
			st.updateParameterSets(frame.Payload)
			s.writeFrameToSessions(st, videoTrackID, frame, ntp)
		}

		if s.AudioEnabled && st.audioSource != nil {
			frame = s.readFrameWithRetry(st.audioSource)
			if frame != nil && len(frame.Payload) > 0 {
				s.writeFrameToSessions(st, audioTrackID, frame, ntp)
			}
		}
	}
}

// readFrameWithRetry reads a frame from a source, retrying a few times
// with a short backoff when the source has no frame available yet.
func (s *Server) readFrameWithRetry(src FrameSource) *Frame {
	for i := 0; ; i++ {
		frame, err := src.ReadFrame()
		if err == nil {
			return frame
		}

		if !errors.Is(err, ErrNoFrame) {
			s.Log.Warn("frame source error", "err", err)
			return nil
		}

		if i >= frameReadRetries-1 {
			return nil
		}
		time.Sleep(frameReadBackoff)
	}
}

func (s *Server) writeFrameToSessions(st *ServerStream, trackID int, frame *Frame, ntp time.Time) {
	s.sessionMutex.RLock()
	sessions := make([]*ServerSession, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.sessionMutex.RUnlock()

	for _, ss := range sessions {
		if ss.State() != ServerSessionStatePlaying || ss.streamRef() != st {
			continue
		}

		err := ss.writeFrame(trackID, frame.Payload, frame.PTS, ntp)
		if err != nil {
			s.Log.Debug("frame write failed",
				"session", ss.secretID, "track", trackID, "err", err)
		}
	}
}
