//go:build windows

package channel

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/Microsoft/go-winio"
)

// pipeChannel serves the well-known name as a Windows named pipe under the
// \\.\pipe\ namespace.
type pipeChannel struct {
	name string
}

func newPipeChannel(name string) (Channel, error) {
	return &pipeChannel{name: name}, nil
}

func (c *pipeChannel) Name() string { return c.name }

func (c *pipeChannel) path() string { return `\\.\pipe\` + c.name }

func (c *pipeChannel) Listen() (net.Listener, error) {
	ln, err := winio.ListenPipe(c.path(), nil)
	if err != nil {
		// Claiming a pipe name another process already serves surfaces as
		// access denied rather than address in use.
		if errors.Is(err, syscall.Errno(5)) { // ERROR_ACCESS_DENIED
			return nil, ErrChannelBusy
		}
		return nil, err
	}
	return ln, nil
}

func (c *pipeChannel) Dial(ctx context.Context) (net.Conn, error) {
	return winio.DialPipeContext(ctx, c.path())
}
