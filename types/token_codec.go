package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Token type tags used in the persisted envelope.
const (
	tokenTypeGlobal = "global"
	tokenTypeMerged = "merged"
	tokenTypeReplay = "replay"
)

// ErrUnsupportedToken is returned when a token type has no persisted form.
var ErrUnsupportedToken = errors.New("unsupported tracking token type")

var nullJSON = []byte("null")

// tokenEnvelope is the tagged JSON form of a tracking token.
type tokenEnvelope struct {
	Type    string          `json:"type"`
	Index   int64           `json:"index,omitempty"`
	Lower   json.RawMessage `json:"lower,omitempty"`
	Upper   json.RawMessage `json:"upper,omitempty"`
	Reset   json.RawMessage `json:"reset,omitempty"`
	Current json.RawMessage `json:"current,omitempty"`
}

// MarshalToken encodes a tracking token for storage.
//
// A nil token encodes as JSON null. Nested tokens (merged halves, replay
// context) are encoded recursively.
//
// Parameters:
//   - t: Token to encode (may be nil)
//
// Returns:
//   - []byte: JSON encoding
//   - error: ErrUnsupportedToken for token types without a persisted form
func MarshalToken(t TrackingToken) ([]byte, error) {
	if t == nil {
		return nullJSON, nil
	}

	var env tokenEnvelope
	var err error

	switch tok := t.(type) {
	case GlobalSequenceToken:
		env = tokenEnvelope{Type: tokenTypeGlobal, Index: tok.Index}
	case MergedToken:
		env.Type = tokenTypeMerged
		if env.Lower, err = MarshalToken(tok.LowerSegment); err != nil {
			return nil, err
		}
		if env.Upper, err = MarshalToken(tok.UpperSegment); err != nil {
			return nil, err
		}
	case ReplayToken:
		env.Type = tokenTypeReplay
		if env.Reset, err = MarshalToken(tok.TokenAtReset); err != nil {
			return nil, err
		}
		if env.Current, err = MarshalToken(tok.Current); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedToken, t)
	}

	return json.Marshal(env)
}

// UnmarshalToken decodes a token produced by MarshalToken.
//
// Empty input and JSON null decode to a nil token.
//
// Parameters:
//   - data: Encoded token
//
// Returns:
//   - TrackingToken: Decoded token (nil for null)
//   - error: Decoding error or ErrUnsupportedToken for unknown type tags
func UnmarshalToken(data []byte) (TrackingToken, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, nullJSON) {
		return nil, nil
	}

	var env tokenEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode tracking token: %w", err)
	}

	switch env.Type {
	case tokenTypeGlobal:
		return GlobalSequenceToken{Index: env.Index}, nil
	case tokenTypeMerged:
		lower, err := UnmarshalToken(env.Lower)
		if err != nil {
			return nil, err
		}
		upper, err := UnmarshalToken(env.Upper)
		if err != nil {
			return nil, err
		}

		return MergedToken{LowerSegment: lower, UpperSegment: upper}, nil
	case tokenTypeReplay:
		reset, err := UnmarshalToken(env.Reset)
		if err != nil {
			return nil, err
		}
		current, err := UnmarshalToken(env.Current)
		if err != nil {
			return nil, err
		}

		return ReplayToken{TokenAtReset: reset, Current: current}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedToken, env.Type)
	}
}
