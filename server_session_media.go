package rtspd

import (
	"crypto/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/camsrv/rtspd/internal/rtcpsender"
)

// maxPacketSize is the size of the RTP packet buffer. Payloads that
// would overflow it are truncated, not fragmented.
const maxPacketSize = 1500

const rtcpReadPollPeriod = 1 * time.Second

func randomUint(byteCount int) (uint64, error) {
	buf := make([]byte, byteCount)
	_, err := rand.Read(buf)
	if err != nil {
		return 0, err
	}

	var v uint64
	for _, b := range buf {
		v = (v << 8) | uint64(b)
	}
	return v, nil
}

// multiplyAndDivide computes v * m / d without overflowing.
func multiplyAndDivide(v, m, d int64) int64 {
	secs := v / d
	dec := v % d
	return secs*m + dec*m/d
}

// serverSessionMedia is the transport of a single track of a session.
// It owns the SSRC, the sequence number and, in UDP mode, the
// RTP/RTCP socket pair and the RTCP reporter.
type serverSessionMedia struct {
	ss          *ServerSession
	trackID     int
	payloadType uint8
	clockRate   int

	ssrc           uint32
	sequenceNumber uint16
	writeMutex     sync.Mutex

	// UDP transport
	udpRTP   *net.UDPConn
	udpRTCP  *net.UDPConn
	peerRTP  *net.UDPAddr
	peerRTCP *net.UDPAddr

	// TCP transport
	interleavedIDs *[2]int

	rtcpSender    *rtcpsender.RTCPSender
	rtcpTerminate chan struct{}
	rtcpDone      chan struct{}

	rtpPackets atomic.Uint64
	rtpBytes   atomic.Uint64

	closeOnce sync.Once
}

func newServerSessionMedia(ss *ServerSession, trackID int) (*serverSessionMedia, error) {
	ssrc, err := randomUint(4)
	if err != nil {
		return nil, err
	}

	seq, err := randomUint(2)
	if err != nil {
		return nil, err
	}

	sm := &serverSessionMedia{
		ss:             ss,
		trackID:        trackID,
		payloadType:    videoPayloadType,
		clockRate:      videoClockRate,
		ssrc:           uint32(ssrc),
		sequenceNumber: uint16(seq),
	}

	if trackID == audioTrackID {
		sm.payloadType = audioPayloadType
		sm.clockRate = audioClockRate
	}

	return sm, nil
}

// bindUDPPair opens two consecutive ports in range 10000-65535;
// rtp is even and rtcp is odd. On partial failure the already-open
// socket is closed and another pair is tried.
func bindUDPPair() (*net.UDPConn, *net.UDPConn, error) {
	for {
		v, err := randomUint(4)
		if err != nil {
			return nil, nil, err
		}
		rtpPort := int(v%((65535-10000)/2))*2 + 10000

		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: rtpPort})
		if err != nil {
			continue
		}

		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: rtpPort + 1})
		if err != nil {
			rtpConn.Close()
			continue
		}

		return rtpConn, rtcpConn, nil
	}
}

// initializeUDP opens the RTP/RTCP socket pair.
func (sm *serverSessionMedia) initializeUDP(peerIP net.IP, clientPorts [2]int) error {
	rtpConn, rtcpConn, err := bindUDPPair()
	if err != nil {
		return err
	}

	sm.udpRTP = rtpConn
	sm.udpRTCP = rtcpConn
	sm.peerRTP = &net.UDPAddr{IP: peerIP, Port: clientPorts[0]}
	sm.peerRTCP = &net.UDPAddr{IP: peerIP, Port: clientPorts[1]}

	sm.rtcpSender = &rtcpsender.RTCPSender{
		SSRC:      sm.ssrc,
		ClockRate: sm.clockRate,
		WritePacketRTCP: func(pkt rtcp.Packet) {
			byts, err2 := pkt.Marshal()
			if err2 != nil {
				return
			}
			sm.udpRTCP.WriteToUDP(byts, sm.peerRTCP) //nolint:errcheck
		},
	}
	err = sm.rtcpSender.Initialize()
	if err != nil {
		rtpConn.Close()
		rtcpConn.Close()
		return err
	}

	sm.rtcpTerminate = make(chan struct{})
	sm.rtcpDone = make(chan struct{})
	go sm.runRTCPReader()

	return nil
}

// initializeTCP configures the interleaved transport.
// No report loop is started: in interleaved mode the RTSP connection
// itself carries the stream and reports are not required to keep the
// transport open.
func (sm *serverSessionMedia) initializeTCP(interleavedIDs [2]int) {
	ids := interleavedIDs
	sm.interleavedIDs = &ids

	sm.rtcpSender = &rtcpsender.RTCPSender{
		SSRC:      sm.ssrc,
		ClockRate: sm.clockRate,
		TimeNow:   time.Now,
	}
}

func udpPort(c *net.UDPConn) int {
	return c.LocalAddr().(*net.UDPAddr).Port
}

// serverPorts returns the local ports of the RTP/RTCP socket pair.
func (sm *serverSessionMedia) serverPorts() [2]int {
	return [2]int{
		udpPort(sm.udpRTP),
		udpPort(sm.udpRTCP),
	}
}

// runRTCPReader polls the RTCP socket and classifies everything the
// client sends back (receiver reports, SDES, BYE).
func (sm *serverSessionMedia) runRTCPReader() {
	defer close(sm.rtcpDone)

	buf := make([]byte, maxPacketSize)

	for {
		select {
		case <-sm.rtcpTerminate:
			return
		default:
		}

		sm.udpRTCP.SetReadDeadline(time.Now().Add(rtcpReadPollPeriod)) //nolint:errcheck
		n, _, err := sm.udpRTCP.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		sm.rtcpSender.ProcessPacketRTCP(buf[:n]) //nolint:errcheck
	}
}

// writePacketRTP packetizes a payload and sends it.
// The sequence number and the counters advance only after a fully
// successful send.
func (sm *serverSessionMedia) writePacketRTP(payload []byte, pts time.Duration, ntp time.Time) error {
	sm.writeMutex.Lock()
	defer sm.writeMutex.Unlock()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    sm.payloadType,
			SequenceNumber: sm.sequenceNumber,
			Timestamp:      uint32(multiplyAndDivide(int64(pts), int64(sm.clockRate), int64(time.Second))),
			SSRC:           sm.ssrc,
		},
		Payload: payload,
	}

	headerSize := pkt.Header.MarshalSize()
	if headerSize+len(payload) > maxPacketSize {
		pkt.Payload = payload[:maxPacketSize-headerSize]
	}

	buf := make([]byte, maxPacketSize)
	n, err := pkt.MarshalTo(buf)
	if err != nil {
		return err
	}

	if sm.interleavedIDs != nil {
		err = sm.ss.sc.writeInterleavedFrame(sm.interleavedIDs[0], buf[:n])
	} else {
		_, err = sm.udpRTP.WriteToUDP(buf[:n], sm.peerRTP)
	}
	if err != nil {
		return err
	}

	sm.sequenceNumber++
	sm.rtpPackets.Add(1)
	sm.rtpBytes.Add(uint64(n))
	if st := sm.ss.streamRef(); st != nil {
		st.rtpPackets.Add(1)
		st.rtpBytes.Add(uint64(n))
	}
	sm.rtcpSender.ProcessPacketRTP(pkt, ntp, true)

	return nil
}

// close shuts down the transport. It is idempotent.
func (sm *serverSessionMedia) close() {
	sm.closeOnce.Do(func() {
		if sm.rtcpTerminate != nil {
			close(sm.rtcpTerminate)
			<-sm.rtcpDone
		}
		if sm.udpRTP != nil {
			sm.rtcpSender.Close()
			sm.udpRTP.Close()
			sm.udpRTCP.Close()
		}
	})
}
