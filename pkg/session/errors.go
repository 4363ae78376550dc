package session

import "errors"

var (
	// ErrNotConnected reports a send to an identity without a registered
	// connection. The registry is left untouched.
	ErrNotConnected = errors.New("session: peer is not connected")

	// ErrInvalidPeer reports an identity outside the supported range. This
	// is a caller defect, not an environmental condition.
	ErrInvalidPeer = errors.New("session: peer identity out of range")

	// ErrWrongDirection reports a message kind that the sending side is not
	// allowed to emit. Also a caller defect.
	ErrWrongDirection = errors.New("session: message kind not valid in this direction")

	// ErrPeerClosed reports use of a Peer after its terminal Close.
	ErrPeerClosed = errors.New("session: peer session is closed")
)
