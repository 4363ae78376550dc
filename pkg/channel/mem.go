package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// memChannel is a process-local channel used by tests: connections are
// net.Pipe pairs handed from dialer to listener through a named registry.
type memChannel struct {
	name string
}

var memRegistry = struct {
	mu        sync.Mutex
	listeners map[string]*memListener
}{listeners: make(map[string]*memListener)}

func newMemChannel(name string) *memChannel { return &memChannel{name: name} }

func (c *memChannel) Name() string { return c.name }

func (c *memChannel) Listen() (net.Listener, error) {
	memRegistry.mu.Lock()
	defer memRegistry.mu.Unlock()
	if _, occupied := memRegistry.listeners[c.name]; occupied {
		return nil, fmt.Errorf("mem channel %q: %w", c.name, ErrChannelBusy)
	}
	ln := &memListener{
		name:   c.name,
		accept: make(chan net.Conn),
		done:   make(chan struct{}),
	}
	memRegistry.listeners[c.name] = ln
	return ln, nil
}

func (c *memChannel) Dial(ctx context.Context) (net.Conn, error) {
	memRegistry.mu.Lock()
	ln := memRegistry.listeners[c.name]
	memRegistry.mu.Unlock()
	if ln == nil {
		return nil, fmt.Errorf("mem channel %q: no listener", c.name)
	}
	local, remote := net.Pipe()
	select {
	case ln.accept <- remote:
		return local, nil
	case <-ln.done:
		_ = local.Close()
		return nil, fmt.Errorf("mem channel %q: listener closed", c.name)
	case <-ctx.Done():
		_ = local.Close()
		return nil, ctx.Err()
	}
}

type memListener struct {
	name      string
	accept    chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *memListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		memRegistry.mu.Lock()
		if memRegistry.listeners[l.name] == l {
			delete(memRegistry.listeners, l.name)
		}
		memRegistry.mu.Unlock()
	})
	return nil
}

func (l *memListener) Addr() net.Addr { return memAddr(l.name) }

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }
