// Package wire defines the typed messages exchanged between the hub and its
// peers, and their single-line text encoding. Every message carries a `type`
// discriminator and the numeric identity of the peer it concerns. A message
// type is valid in exactly one direction; direction is a property of the Go
// type, not a wire field.
package wire

// PeerID is the logical identity of a peer process. It is chosen by the peer,
// announced in its hello, and stays stable across reconnects.
type PeerID int

// MaxPeers is the highest logical identity supported by a hub.
const MaxPeers = 6

// Valid reports whether id is inside the supported identity range.
func (id PeerID) Valid() bool { return id >= 1 && id <= MaxPeers }

// Kind is the wire discriminator of a message variant.
type Kind string

const (
	KindHello         Kind = "hello"
	KindBye           Kind = "bye"
	KindCoordinate    Kind = "coordinateUpdate"
	KindConfiguration Kind = "configuration"
	KindCloseRequest  Kind = "closeRequest"
)

// Direction tells which party is allowed to send a message kind.
type Direction uint8

const (
	// ToHub marks messages a peer sends to the hub.
	ToHub Direction = iota + 1
	// ToPeer marks messages the hub sends to a peer.
	ToPeer
)

// Message is one immutable protocol message.
type Message interface {
	Kind() Kind
	Direction() Direction
	PeerID() PeerID
}

// Hello announces a peer's logical identity. It must be the first line a
// peer sends after opening the channel.
type Hello struct {
	Peer PeerID
}

func (Hello) Kind() Kind           { return KindHello }
func (Hello) Direction() Direction { return ToHub }
func (m Hello) PeerID() PeerID     { return m.Peer }

// Bye tells the hub the peer is going away. Delivery is best effort; the hub
// also treats a closed transport as a goodbye.
type Bye struct {
	Peer PeerID
}

func (Bye) Kind() Kind           { return KindBye }
func (Bye) Direction() Direction { return ToHub }
func (m Bye) PeerID() PeerID     { return m.Peer }

// CoordinateUpdate carries a new position for the peer to apply.
type CoordinateUpdate struct {
	Peer PeerID
	X, Y float64
}

func (CoordinateUpdate) Kind() Kind           { return KindCoordinate }
func (CoordinateUpdate) Direction() Direction { return ToPeer }
func (m CoordinateUpdate) PeerID() PeerID     { return m.Peer }

// Configuration carries an opaque settings document to a peer, typically
// built once per handshake by the hub's configurer.
type Configuration struct {
	Peer     PeerID
	Settings map[string]any
}

func (Configuration) Kind() Kind           { return KindConfiguration }
func (Configuration) Direction() Direction { return ToPeer }
func (m Configuration) PeerID() PeerID     { return m.Peer }

// CloseRequest asks a peer to say goodbye and shut itself down.
type CloseRequest struct {
	Peer PeerID
}

func (CloseRequest) Kind() Kind           { return KindCloseRequest }
func (CloseRequest) Direction() Direction { return ToPeer }
func (m CloseRequest) PeerID() PeerID     { return m.Peer }
