// Package session implements the hub/peer session layer: per-connection
// outbound write serialization, the hub's accept/handshake/registry machinery,
// and the peer's connect/retry/read-loop state machine. Messages travel as
// wire lines over a channel.Channel.
package session

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"pipesync/pkg/wire"
)

const defaultWriteTimeout = 10 * time.Second

// ErrConnClosed is returned by Enqueue once the connection is closed.
var ErrConnClosed = errors.New("session: connection closed")

// Conn owns the outbound half of one established channel connection. All
// writes go through a single writer goroutine fed by an unbounded FIFO queue,
// so concurrent senders never interleave partial lines and never block on
// transport I/O. Reading from the underlying conn stays with the caller.
type Conn struct {
	raw          net.Conn
	log          *zap.Logger
	writeTimeout time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []wire.Message
	closed bool

	done      chan struct{}
	rawOnce   sync.Once
	downOnce  sync.Once
	onRelease func()
}

// newConn wraps raw and starts the writer loop. onRelease, if non-nil, runs
// exactly once when the connection is fully torn down, no matter how many
// times Close is called or whether the transport failed first.
func newConn(raw net.Conn, writeTimeout time.Duration, onRelease func(), log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	c := &Conn{
		raw:          raw,
		log:          log,
		writeTimeout: writeTimeout,
		onRelease:    onRelease,
		done:         make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.writeLoop()
	return c
}

// Enqueue appends m to the outbound queue. It returns once the message is
// accepted, not once it is written.
func (c *Conn) Enqueue(m wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.queue = append(c.queue, m)
	c.cond.Signal()
	return nil
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	bw := bufio.NewWriter(c.raw)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 {
			// Queue completed: closed with nothing left to drain.
			c.mu.Unlock()
			return
		}
		m := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		line, err := wire.Encode(m)
		if err != nil {
			c.log.Warn("dropping unencodable message", zap.String("kind", string(m.Kind())), zap.Error(err))
			continue
		}
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if _, err = bw.WriteString(line); err == nil {
			if err = bw.WriteByte('\n'); err == nil {
				err = bw.Flush()
			}
		}
		if err != nil {
			c.log.Debug("write failed, aborting connection", zap.Error(err))
			c.abort()
			return
		}
	}
}

// abort ends the writer after a transport failure. The failure stays local to
// this connection.
func (c *Conn) abort() {
	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	c.cond.Broadcast()
	c.rawOnce.Do(func() { _ = c.raw.Close() })
}

// Close signals the writer loop to stop, lets it drain already-queued
// messages, waits for it to finish, releases the transport, and invokes the
// release callback exactly once. Safe to call repeatedly and concurrently
// with a transport failure.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	<-c.done
	c.rawOnce.Do(func() { _ = c.raw.Close() })
	c.downOnce.Do(func() {
		if c.onRelease != nil {
			c.onRelease()
		}
	})
	return nil
}
