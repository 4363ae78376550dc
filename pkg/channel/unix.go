package channel

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// unixChannel maps the well-known name to a socket file in the system temp
// directory, so all processes of one machine resolve the same endpoint.
type unixChannel struct {
	name string
}

func newUnixChannel(name string) *unixChannel { return &unixChannel{name: name} }

func (c *unixChannel) Name() string { return c.name }

func (c *unixChannel) path() string {
	return filepath.Join(os.TempDir(), c.name+".sock")
}

func (c *unixChannel) Listen() (net.Listener, error) {
	path := c.path()
	ln, err := net.Listen("unix", path)
	if err == nil {
		return ln, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, err
	}
	// The socket file exists. If nothing answers it is a leftover from a
	// crashed process and can be removed; if something answers, the name is
	// genuinely busy.
	probe, derr := net.DialTimeout("unix", path, 250*time.Millisecond)
	if derr == nil {
		_ = probe.Close()
		return nil, ErrChannelBusy
	}
	if rerr := os.Remove(path); rerr != nil {
		return nil, rerr
	}
	return net.Listen("unix", path)
}

func (c *unixChannel) Dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", c.path())
}
