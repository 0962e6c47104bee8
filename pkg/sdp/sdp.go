// Package sdp contains a SDP encoder/decoder compatible with most RTSP
// implementations.
package sdp

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	psdp "github.com/pion/sdp/v3"
)

var errSDPInvalidSyntax = fmt.Errorf("invalid syntax")

// SessionDescription is a SDP session description.
type SessionDescription psdp.SessionDescription

// NewSessionDescription allocates a SessionDescription with sane defaults:
// protocol version 0, an unspecified origin address, and a zero timing field.
func NewSessionDescription() *SessionDescription {
	now := uint64(time.Now().Unix()) //nolint:gosec

	return &SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "RTSP Session",
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}
}

// Attribute returns the value of an attribute, and whether it exists.
func (s *SessionDescription) Attribute(key string) (string, bool) {
	return (*psdp.SessionDescription)(s).Attribute(key)
}

// attributeRank returns the position of a media attribute in the
// generated document. rtpmap, fmtp, control and direction attributes
// come first, in this order; other attributes keep their relative order.
func attributeRank(key string) int {
	switch key {
	case "rtpmap":
		return 0
	case "fmtp":
		return 1
	case "control":
		return 2
	case "sendrecv", "sendonly", "recvonly", "inactive":
		return 3
	}
	return 4
}

// Marshal encodes the SessionDescription.
// Fields are written in standard order: v, o, s, optional session fields,
// timing, session attributes, then every media section.
func (s *SessionDescription) Marshal() ([]byte, error) {
	for _, md := range s.MediaDescriptions {
		sort.SliceStable(md.Attributes, func(i, j int) bool {
			return attributeRank(md.Attributes[i].Key) < attributeRank(md.Attributes[j].Key)
		})
	}

	return (*psdp.SessionDescription)(s).Marshal()
}

// SetOriginAddress sets the unicast address of the origin field.
func (s *SessionDescription) SetOriginAddress(address string) {
	s.Origin.UnicastAddress = address
}

// SetSessionName sets the session name.
func (s *SessionDescription) SetSessionName(name string) {
	s.SessionName = psdp.SessionName(name)
}

// SetConnection sets the session-level connection field.
func (s *SessionDescription) SetConnection(address string) {
	s.ConnectionInformation = &psdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: "IP4",
		Address:     &psdp.Address{Address: address},
	}
}

// SetSessionAttribute sets a session-level attribute,
// replacing it if already present.
func (s *SessionDescription) SetSessionAttribute(key string, value string) {
	for i, attr := range s.Attributes {
		if attr.Key == key {
			s.Attributes[i].Value = value
			return
		}
	}
	s.Attributes = append(s.Attributes, psdp.Attribute{Key: key, Value: value})
}

// Validate performs a structural check of an encoded session
// description, verifying that the mandatory fields are present.
func Validate(byts []byte) error {
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !bytes.Contains(byts, []byte(field)) {
			return fmt.Errorf("missing field '%s'", field)
		}
	}
	return nil
}
