package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelope is the JSON shape shared by all message kinds. Optional fields are
// pointers so a present-but-zero coordinate survives the round trip.
type envelope struct {
	Type     Kind           `json:"type"`
	Peer     PeerID         `json:"peerId"`
	X        *float64       `json:"x,omitempty"`
	Y        *float64       `json:"y,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Encode serializes m to exactly one line of text, without the trailing
// newline. The output never contains an embedded line terminator:
// encoding/json escapes control characters inside strings.
func Encode(m Message) (string, error) {
	env := envelope{Type: m.Kind(), Peer: m.PeerID()}
	switch v := m.(type) {
	case Hello, Bye, CloseRequest:
		// discriminator and identity only
	case CoordinateUpdate:
		x, y := v.X, v.Y
		env.X, env.Y = &x, &y
	case Configuration:
		env.Settings = v.Settings
	default:
		return "", fmt.Errorf("wire: unsupported message type %T", m)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("wire: encode %s: %w", m.Kind(), err)
	}
	return string(b), nil
}

// Decode parses one line into a message. It is total: malformed text, a
// missing or unknown discriminator, an out-of-range identity, or a kind that
// is not valid in the wanted direction all yield (nil, false). Callers must
// treat false as "ignore this line".
func Decode(line string, want Direction) (Message, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, false
	}
	if !env.Peer.Valid() {
		return nil, false
	}
	var m Message
	switch env.Type {
	case KindHello:
		m = Hello{Peer: env.Peer}
	case KindBye:
		m = Bye{Peer: env.Peer}
	case KindCoordinate:
		if env.X == nil || env.Y == nil {
			return nil, false
		}
		m = CoordinateUpdate{Peer: env.Peer, X: *env.X, Y: *env.Y}
	case KindConfiguration:
		m = Configuration{Peer: env.Peer, Settings: env.Settings}
	case KindCloseRequest:
		m = CloseRequest{Peer: env.Peer}
	default:
		return nil, false
	}
	if m.Direction() != want {
		return nil, false
	}
	return m, true
}
