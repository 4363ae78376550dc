// Package channel provides the local byte-stream transport the hub and its
// peers meet on: a single well-known name, resolved to a Unix domain socket,
// a Windows named pipe, or an in-process channel for tests. Changing the name
// is a breaking compatibility change for every party on the machine.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Channel opens or serves the well-known byte-stream endpoint.
type Channel interface {
	// Name returns the well-known channel name.
	Name() string
	// Listen claims the channel for accepting connections. Only one
	// listener may hold the name at a time; a second claim fails busy.
	Listen() (net.Listener, error)
	// Dial opens one connection to the current listener. It honors ctx for
	// cancellation and deadline.
	Dial(ctx context.Context) (net.Conn, error)
}

// ErrChannelBusy reports that the well-known name is already claimed by a
// live listener.
var ErrChannelBusy = errors.New("channel name is busy")

// Supported channel kinds.
const (
	KindUnix = "unix"
	KindPipe = "pipe"
	KindMem  = "mem"
)

// New builds a channel of the given kind bound to name. KindPipe is only
// available on Windows.
func New(kind, name string) (Channel, error) {
	if name == "" {
		return nil, errors.New("channel: empty name")
	}
	switch kind {
	case KindUnix:
		return newUnixChannel(name), nil
	case KindPipe:
		return newPipeChannel(name)
	case KindMem:
		return newMemChannel(name), nil
	default:
		return nil, fmt.Errorf("channel: unknown kind %q", kind)
	}
}

// IsBusy reports whether err means the channel name is occupied by another
// listener.
func IsBusy(err error) bool {
	return errors.Is(err, ErrChannelBusy) || errors.Is(err, syscall.EADDRINUSE)
}
