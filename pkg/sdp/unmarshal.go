package sdp

import (
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

func (s *SessionDescription) unmarshalOrigin(value string) {
	fields := strings.Fields(value)
	if len(fields) != 6 {
		return
	}

	s.Origin.Username = fields[0]
	// some implementations send non-numeric session ids; tolerate them
	s.Origin.SessionID, _ = strconv.ParseUint(fields[1], 10, 64)      //nolint:errcheck
	s.Origin.SessionVersion, _ = strconv.ParseUint(fields[2], 10, 64) //nolint:errcheck
	s.Origin.NetworkType = fields[3]
	s.Origin.AddressType = fields[4]
	s.Origin.UnicastAddress = fields[5]
}

func unmarshalConnection(value string) *psdp.ConnectionInformation {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return nil
	}

	return &psdp.ConnectionInformation{
		NetworkType: fields[0],
		AddressType: fields[1],
		Address:     &psdp.Address{Address: fields[2]},
	}
}

func (s *SessionDescription) unmarshalTiming(value string) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return
	}

	var td psdp.TimeDescription
	td.Timing.StartTime, _ = strconv.ParseUint(fields[0], 10, 64) //nolint:errcheck
	td.Timing.StopTime, _ = strconv.ParseUint(fields[1], 10, 64)  //nolint:errcheck
	s.TimeDescriptions = append(s.TimeDescriptions, td)
}

func unmarshalMedia(value string) (*psdp.MediaDescription, error) {
	fields := strings.Fields(value)
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w `m=%v`", errSDPInvalidSyntax, value)
	}

	port, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w `m=%v`", errSDPInvalidSyntax, value)
	}

	return &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   fields[0],
			Port:    psdp.RangedPort{Value: int(port)},
			Protos:  strings.Split(fields[2], "/"),
			Formats: fields[3:],
		},
	}, nil
}

func unmarshalAttribute(value string) psdp.Attribute {
	i := strings.IndexRune(value, ':')
	if i > 0 {
		return psdp.NewAttribute(value[:i], value[i+1:])
	}
	return psdp.NewPropertyAttribute(value)
}

// Unmarshal decodes a SessionDescription.
// The parser is tolerant: it processes the fields it knows about
// (v, o, s, c, t, m, a), silently skips everything else and drops
// media sections it cannot decode.
func (s *SessionDescription) Unmarshal(byts []byte) error {
	*s = SessionDescription{}

	str := string(byts)
	var curMedia *psdp.MediaDescription

	for _, line := range strings.Split(str, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if len(line) < 2 || line[1] != '=' {
			continue
		}

		key, value := line[0], line[2:]

		switch key {
		case 'v':
			tmp, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w `v=%v`", errSDPInvalidSyntax, value)
			}
			s.Version = psdp.Version(tmp)

		case 'o':
			s.unmarshalOrigin(value)

		case 's':
			s.SessionName = psdp.SessionName(value)

		case 'c':
			ci := unmarshalConnection(value)
			if ci == nil {
				continue
			}
			if curMedia != nil {
				curMedia.ConnectionInformation = ci
			} else {
				s.ConnectionInformation = ci
			}

		case 't':
			s.unmarshalTiming(value)

		case 'm':
			md, err := unmarshalMedia(value)
			if err != nil {
				// a malformed media line is skipped, together with
				// the connection and attribute lines that follow it
				curMedia = &psdp.MediaDescription{}
				continue
			}
			s.MediaDescriptions = append(s.MediaDescriptions, md)
			curMedia = md

		case 'a':
			attr := unmarshalAttribute(value)
			if curMedia != nil {
				curMedia.Attributes = append(curMedia.Attributes, attr)
			} else {
				s.Attributes = append(s.Attributes, attr)
			}
		}

		// every other field is skipped
	}

	if len(s.MediaDescriptions) == 0 && s.SessionName == "" {
		return fmt.Errorf("%w: empty description", errSDPInvalidSyntax)
	}

	return nil
}
