package rtspd

import (
	"encoding/base64"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/camsrv/rtspd/pkg/sdp"
)

const (
	videoPayloadType = 96
	audioPayloadType = 97

	videoClockRate = 90000
	audioClockRate = 44100

	videoControl = "track0"
	audioControl = "track1"

	videoTrackID = 0
	audioTrackID = 1
)

// ServerStream is a stream served by a Server.
type ServerStream struct {
	name        string
	videoSource FrameSource
	audioSource FrameSource

	mutex sync.RWMutex
	sps   []byte
	pps   []byte

	rtpPackets atomic.Uint64
	rtpBytes   atomic.Uint64
}

// Name returns the path at which the stream is served.
func (st *ServerStream) Name() string {
	return st.name
}

// updateParameterSets scans an access unit for SPS and PPS NAL units
// and caches them. Scanning stops once both are known.
func (st *ServerStream) updateParameterSets(accessUnit []byte) {
	st.mutex.RLock()
	done := st.sps != nil && st.pps != nil
	st.mutex.RUnlock()
	if done {
		return
	}

	var au h264.AnnexB
	err := au.Unmarshal(accessUnit)
	if err != nil {
		return
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}

		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			st.sps = append([]byte(nil), nalu...)

		case h264.NALUTypePPS:
			st.pps = append([]byte(nil), nalu...)
		}
	}
}

func (st *ServerStream) parameterSets() ([]byte, []byte) {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.sps, st.pps
}

// Description generates the SDP description of the stream.
// localAddress is the address written in the origin and connection
// fields. The audio track is included only when withAudio is set.
func (st *ServerStream) Description(localAddress string, withAudio bool) ([]byte, error) {
	d := sdp.NewSessionDescription()
	d.SetOriginAddress(localAddress)
	d.SetConnection(localAddress)

	// media sections are prepended: add audio first so that video
	// is the first section of the document
	if withAudio && st.audioSource != nil {
		d.AddMedia("audio", 0, audioPayloadType)
		d.SetMediaControl("audio", audioControl) //nolint:errcheck
	}

	d.AddMedia("video", 0, videoPayloadType)
	d.SetMediaControl("video", videoControl) //nolint:errcheck

	fmtp := "packetization-mode=1;profile-level-id=42001e"
	if sps, pps := st.parameterSets(); sps != nil && pps != nil {
		fmtp += ";sprop-parameter-sets=" +
			base64.StdEncoding.EncodeToString(sps) + "," +
			base64.StdEncoding.EncodeToString(pps)
	}
	d.SetMediaFmtp("video", fmtp) //nolint:errcheck

	return d.Marshal()
}

// Stats returns the statistics of the stream.
func (st *ServerStream) Stats() StreamStats {
	return StreamStats{
		Name:       st.name,
		RTPPackets: st.rtpPackets.Load(),
		RTPBytes:   st.rtpBytes.Load(),
	}
}
