package sdp

import (
	"strconv"

	psdp "github.com/pion/sdp/v3"
)

// ErrMediaNotFound is returned when no media of the given type exists.
type ErrMediaNotFound struct {
	Type string
}

// Error implements the error interface.
func (e ErrMediaNotFound) Error() string {
	return "media '" + e.Type + "' not found"
}

var directionKeys = map[string]struct{}{
	"sendrecv": {},
	"sendonly": {},
	"recvonly": {},
	"inactive": {},
}

func defaultRtpmap(payloadType uint8) string {
	switch payloadType {
	case 96:
		return "H264/90000"

	case 97:
		return "MPEG4-GENERIC/44100/2"

	case 8:
		return "PCMA/8000"

	case 0:
		return "PCMU/8000"
	}
	return ""
}

// AddMedia adds a media section with the given type, port and payload type.
// The media is inserted BEFORE existing ones: the last added media is the
// first in the generated document.
// When the payload type is a known one, a default rtpmap attribute is added.
func (s *SessionDescription) AddMedia(typ string, port int, payloadType uint8) *psdp.MediaDescription {
	pt := strconv.FormatUint(uint64(payloadType), 10)

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   typ,
			Port:    psdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{pt},
		},
	}

	if rtpmap := defaultRtpmap(payloadType); rtpmap != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{
			Key:   "rtpmap",
			Value: pt + " " + rtpmap,
		})
	}

	s.MediaDescriptions = append([]*psdp.MediaDescription{md}, s.MediaDescriptions...)

	return md
}

func (s *SessionDescription) findMedia(typ string) *psdp.MediaDescription {
	for _, md := range s.MediaDescriptions {
		if md.MediaName.Media == typ {
			return md
		}
	}
	return nil
}

func setAttribute(md *psdp.MediaDescription, key string, value string) {
	for i, attr := range md.Attributes {
		if attr.Key == key {
			md.Attributes[i].Value = value
			return
		}
	}
	md.Attributes = append(md.Attributes, psdp.Attribute{Key: key, Value: value})
}

// SetMediaAttribute sets an attribute on the first media with the given type,
// replacing it if already present.
func (s *SessionDescription) SetMediaAttribute(typ string, key string, value string) error {
	md := s.findMedia(typ)
	if md == nil {
		return ErrMediaNotFound{Type: typ}
	}

	setAttribute(md, key, value)
	return nil
}

// SetMediaRtpmap sets the rtpmap attribute of the first media with the
// given type. rtpmap is the encoding part only ("H264/90000").
func (s *SessionDescription) SetMediaRtpmap(typ string, rtpmap string) error {
	md := s.findMedia(typ)
	if md == nil {
		return ErrMediaNotFound{Type: typ}
	}

	setAttribute(md, "rtpmap", md.MediaName.Formats[0]+" "+rtpmap)
	return nil
}

// SetMediaFmtp sets the fmtp attribute of the first media with the
// given type.
func (s *SessionDescription) SetMediaFmtp(typ string, fmtp string) error {
	md := s.findMedia(typ)
	if md == nil {
		return ErrMediaNotFound{Type: typ}
	}

	setAttribute(md, "fmtp", md.MediaName.Formats[0]+" "+fmtp)
	return nil
}

// SetMediaControl sets the control attribute of the first media with the
// given type.
func (s *SessionDescription) SetMediaControl(typ string, control string) error {
	return s.SetMediaAttribute(typ, "control", control)
}

// SetMediaDirection sets the direction attribute (sendrecv, sendonly,
// recvonly or inactive) of the first media with the given type,
// replacing any existing direction.
func (s *SessionDescription) SetMediaDirection(typ string, direction string) error {
	if _, ok := directionKeys[direction]; !ok {
		return errSDPInvalidSyntax
	}

	md := s.findMedia(typ)
	if md == nil {
		return ErrMediaNotFound{Type: typ}
	}

	for i, attr := range md.Attributes {
		if _, ok := directionKeys[attr.Key]; ok {
			md.Attributes[i].Key = direction
			md.Attributes[i].Value = ""
			return nil
		}
	}

	md.Attributes = append(md.Attributes, psdp.Attribute{Key: direction})
	return nil
}
