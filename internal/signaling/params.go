package signaling

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Params are the negotiation-relevant fields of a descriptor.
type Params struct {
	Type        webrtc.SDPType
	ICEUfrag    string
	ICEPwd      string
	Fingerprint string
	Candidates  []string
}

// Inspect checks that desc is an offer or answer whose SDP parses and carries
// ICE credentials and a DTLS fingerprint, and returns those fields.
func Inspect(desc webrtc.SessionDescription) (Params, error) {
	if desc.Type != webrtc.SDPTypeOffer && desc.Type != webrtc.SDPTypeAnswer {
		return Params{}, fmt.Errorf("%w: unexpected type %q", ErrMalformedDescriptor, desc.Type.String())
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return Params{}, fmt.Errorf("%w: no media sections", ErrMalformedDescriptor)
	}

	p := Params{
		Type:        desc.Type,
		ICEUfrag:    lookup(&parsed, "ice-ufrag"),
		ICEPwd:      lookup(&parsed, "ice-pwd"),
		Fingerprint: lookup(&parsed, "fingerprint"),
	}
	for _, md := range parsed.MediaDescriptions {
		for _, a := range md.Attributes {
			if a.Key == "candidate" {
				p.Candidates = append(p.Candidates, a.Value)
			}
		}
	}

	switch {
	case p.ICEUfrag == "" || p.ICEPwd == "":
		return Params{}, fmt.Errorf("%w: missing ICE credentials", ErrMalformedDescriptor)
	case p.Fingerprint == "":
		return Params{}, fmt.Errorf("%w: missing DTLS fingerprint", ErrMalformedDescriptor)
	}

	return p, nil
}

// lookup returns an attribute from the first media section that has it, or
// from the session level.
func lookup(s *sdp.SessionDescription, key string) string {
	for _, md := range s.MediaDescriptions {
		if v, ok := md.Attribute(key); ok && v != "" {
			return v
		}
	}
	if v, ok := s.Attribute(key); ok {
		return v
	}
	return ""
}
