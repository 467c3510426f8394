// Package signaling converts connection descriptors to and from the portable
// text form operators copy and paste between hosts.
//
// The canonical form is one line: base64url (unpadded) over DEFLATE over a
// JSON envelope carrying the SDP type, the SDP, and a BLAKE3 checksum. The
// checksum only catches truncated or mangled pastes; anyone holding a
// descriptor can still try to connect.
package signaling

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/pion/webrtc/v4"
	"github.com/zeebo/blake3"
)

// ErrMalformedDescriptor is returned for any input that does not decode to a
// well-formed offer or answer.
var ErrMalformedDescriptor = errors.New("malformed connection descriptor")

const (
	maxDescriptorSize = 64 * 1024 // upper bound on the inflated JSON
	checksumSize      = 16
)

// envelope is the JSON structure inside the compact form. Plain JSON with
// only type and sdp is accepted on input as well.
type envelope struct {
	Type webrtc.SDPType `json:"type"`
	SDP  string         `json:"sdp"`
	Sum  string         `json:"sum,omitempty"`
}

// Encode serializes a complete local description into the compact text form.
func Encode(desc webrtc.SessionDescription) (string, error) {
	if _, err := Inspect(desc); err != nil {
		return "", err
	}

	raw, err := json.Marshal(envelope{Type: desc.Type, SDP: desc.SDP, Sum: checksum(desc)})
	if err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("compress descriptor: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("compress descriptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compress descriptor: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode parses either the compact form or plain JSON. Whitespace anywhere in
// the compact form is ignored, since terminals like to wrap long pastes.
func Decode(text string) (webrtc.SessionDescription, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty input", ErrMalformedDescriptor)
	}

	raw := []byte(text)
	if !strings.HasPrefix(text, "{") {
		var err error
		if raw, err = inflate(strings.Join(strings.Fields(text), "")); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}

	desc := webrtc.SessionDescription{Type: env.Type, SDP: env.SDP}
	if env.Sum != "" && env.Sum != checksum(desc) {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: checksum mismatch", ErrMalformedDescriptor)
	}
	if _, err := Inspect(desc); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return desc, nil
}

func inflate(text string) ([]byte, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(text, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, maxDescriptorSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	if len(raw) > maxDescriptorSize {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrMalformedDescriptor, maxDescriptorSize)
	}
	return raw, nil
}

func checksum(desc webrtc.SessionDescription) string {
	sum := blake3.Sum256([]byte(desc.Type.String() + "\n" + desc.SDP))
	return hex.EncodeToString(sum[:checksumSize])
}
