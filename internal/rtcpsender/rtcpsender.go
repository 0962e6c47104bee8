// Package rtcpsender contains a utility to generate and classify RTCP reports.
package rtcpsender

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// seconds since 1st January 1900
// higher 32 bits are the integer part, lower 32 bits are the fractional part
func ntpTimeGoToRTCP(v time.Time) uint64 {
	s := uint64(v.UnixNano()) + 2208988800*1000000000
	return (s/1000000000)<<32 | (s % 1000000000)
}

// ReceivedStats counts the inbound RTCP packets, by type.
type ReceivedStats struct {
	SenderReports   uint32
	ReceiverReports uint32
	SDES            uint32
	Byes            uint32
	Apps            uint32
	Unknown         uint32
}

// RTCPSender generates periodic RTCP sender reports for an outgoing RTP
// stream, and classifies the RTCP packets received from the client.
type RTCPSender struct {
	SSRC            uint32
	ClockRate       int
	Period          time.Duration
	TimeNow         func() time.Time
	WritePacketRTCP func(rtcp.Packet)

	mutex sync.RWMutex

	// data from RTP packets
	firstRTPPacketSent bool
	lastTimeRTP        uint32
	lastTimeNTP        time.Time
	lastTimeSystem     time.Time
	lastSequenceNumber uint16
	packetCount        uint32
	octetCount         uint32

	received ReceivedStats

	terminate chan struct{}
	done      chan struct{}
}

// Initialize initializes a RTCPSender and starts the report loop.
func (rs *RTCPSender) Initialize() error {
	if rs.ClockRate <= 0 {
		return fmt.Errorf("invalid clock rate (%d)", rs.ClockRate)
	}

	if rs.Period <= 0 {
		rs.Period = 5 * time.Second
	}

	if rs.TimeNow == nil {
		rs.TimeNow = time.Now
	}

	rs.terminate = make(chan struct{})
	rs.done = make(chan struct{})

	go rs.run()

	return nil
}

// Close closes the RTCPSender.
func (rs *RTCPSender) Close() {
	close(rs.terminate)
	<-rs.done
}

func (rs *RTCPSender) run() {
	defer close(rs.done)

	t := time.NewTicker(rs.Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			report := rs.report()
			if report == nil {
				// no packet sent yet, keep the channel alive
				report = rs.ReceiverReport()
			}
			rs.WritePacketRTCP(report)

		case <-rs.terminate:
			return
		}
	}
}

func (rs *RTCPSender) report() rtcp.Packet {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if !rs.firstRTPPacketSent {
		return nil
	}

	systemTimeDiff := rs.TimeNow().Sub(rs.lastTimeSystem)
	ntpTime := rs.lastTimeNTP.Add(systemTimeDiff)
	rtpTime := rs.lastTimeRTP + uint32(systemTimeDiff.Seconds()*float64(rs.ClockRate))

	return &rtcp.SenderReport{
		SSRC:        rs.SSRC,
		NTPTime:     ntpTimeGoToRTCP(ntpTime),
		RTPTime:     rtpTime,
		PacketCount: rs.packetCount,
		OctetCount:  rs.octetCount,
	}
}

// ReceiverReport generates an empty receiver report with a single
// zeroed report block, useful as a keepalive on streams that have not
// started flowing yet.
func (rs *RTCPSender) ReceiverReport() rtcp.Packet {
	return &rtcp.ReceiverReport{
		SSRC:    rs.SSRC,
		Reports: []rtcp.ReceptionReport{{}},
	}
}

// ProcessPacketRTP extracts data from outgoing RTP packets.
func (rs *RTCPSender) ProcessPacketRTP(pkt *rtp.Packet, ntp time.Time, ptsEqualsDTS bool) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if ptsEqualsDTS {
		rs.firstRTPPacketSent = true
		rs.lastTimeRTP = pkt.Timestamp
		rs.lastTimeNTP = ntp
		rs.lastTimeSystem = rs.TimeNow()
	}

	rs.lastSequenceNumber = pkt.SequenceNumber

	rs.packetCount++
	rs.octetCount += uint32(len(pkt.Payload))
}

// ProcessPacketRTCP classifies a RTCP packet (or compound packet)
// received from the client.
func (rs *RTCPSender) ProcessPacketRTCP(buf []byte) error {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return err
	}

	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	for _, pkt := range packets {
		switch pkt.(type) {
		case *rtcp.SenderReport:
			rs.received.SenderReports++

		case *rtcp.ReceiverReport:
			rs.received.ReceiverReports++

		case *rtcp.SourceDescription:
			rs.received.SDES++

		case *rtcp.Goodbye:
			rs.received.Byes++

		case *rtcp.ApplicationDefined:
			rs.received.Apps++

		default:
			rs.received.Unknown++
		}
	}

	return nil
}

// Stats are statistics.
type Stats struct {
	LastSequenceNumber uint16
	LastRTP            uint32
	LastNTP            time.Time
	PacketCount        uint32
	OctetCount         uint32
	Received           ReceivedStats
}

// Stats returns statistics.
func (rs *RTCPSender) Stats() *Stats {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()

	if !rs.firstRTPPacketSent {
		return nil
	}

	return &Stats{
		LastSequenceNumber: rs.lastSequenceNumber,
		LastRTP:            rs.lastTimeRTP,
		LastNTP:            rs.lastTimeNTP,
		PacketCount:        rs.packetCount,
		OctetCount:         rs.octetCount,
		Received:           rs.received,
	}
}
