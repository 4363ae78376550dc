package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"pipesync/pkg/channel"
	"pipesync/pkg/wire"
)

const (
	defaultRetryDelay  = 300 * time.Millisecond
	defaultDialTimeout = 2 * time.Second

	coordinateBuffer    = 64
	configurationBuffer = 8
)

// Peer is the client role of the session: it repeatedly tries to open the
// well-known channel, announces its fixed logical identity, and exposes the
// hub's messages as per-category output streams.
type Peer struct {
	id  wire.PeerID
	ch  channel.Channel
	log *zap.Logger

	retryDelay   time.Duration
	dialTimeout  time.Duration
	writeTimeout time.Duration

	mu             sync.Mutex
	conn           *Conn
	cancel         context.CancelFunc
	closed         bool
	closeRequested bool
	wg             sync.WaitGroup

	states  *bus[ConnectionState]
	coords  chan wire.CoordinateUpdate
	configs chan wire.Configuration
}

// PeerOption customizes a Peer.
type PeerOption func(*Peer)

// WithPeerLogger sets the peer's logger. Defaults to the no-op logger.
func WithPeerLogger(l *zap.Logger) PeerOption { return func(p *Peer) { p.log = l } }

// WithRetryDelay sets the pause between connect attempts.
func WithRetryDelay(d time.Duration) PeerOption { return func(p *Peer) { p.retryDelay = d } }

// WithDialTimeout bounds each individual connect attempt.
func WithDialTimeout(d time.Duration) PeerOption { return func(p *Peer) { p.dialTimeout = d } }

// WithPeerWriteTimeout bounds each outbound line write.
func WithPeerWriteTimeout(d time.Duration) PeerOption { return func(p *Peer) { p.writeTimeout = d } }

// NewPeer builds a peer session with the given fixed identity. An identity
// outside the supported range is a caller defect and fails immediately.
func NewPeer(ch channel.Channel, id wire.PeerID, opts ...PeerOption) (*Peer, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeer, id)
	}
	p := &Peer{
		id:          id,
		ch:          ch,
		log:         zap.NewNop(),
		retryDelay:  defaultRetryDelay,
		dialTimeout: defaultDialTimeout,
		coords:      make(chan wire.CoordinateUpdate, coordinateBuffer),
		configs:     make(chan wire.Configuration, configurationBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.Int("peer", int(id)))
	p.states = newBus[ConnectionState]("peer-state", p.log)
	return p, nil
}

// ID returns the peer's fixed logical identity.
func (p *Peer) ID() wire.PeerID { return p.id }

// Coordinates streams coordinate updates addressed to this peer.
func (p *Peer) Coordinates() <-chan wire.CoordinateUpdate { return p.coords }

// Configurations streams configuration documents addressed to this peer.
func (p *Peer) Configurations() <-chan wire.Configuration { return p.configs }

// States returns an independent stream of connection-state transitions plus
// its cancel function.
func (p *Peer) States() (<-chan ConnectionState, func()) { return p.states.Subscribe() }

// CloseRequested reports whether the hub asked this peer to leave. A polite
// peer does not reconnect after that.
func (p *Peer) CloseRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeRequested
}

// Connected reports whether the peer currently holds a live connection.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Connect dials the channel until it succeeds or ctx ends. Transport
// failures are retried transparently after the retry delay; cancellation is
// the only failure surfaced to the caller. On success the hello has been
// enqueued and the read loop is running.
func (p *Peer) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	if p.conn != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.states.Publish(StateConnecting)
	for {
		dctx, dcancel := context.WithTimeout(ctx, p.dialTimeout)
		raw, err := p.ch.Dial(dctx)
		dcancel()
		if err != nil {
			if ctx.Err() != nil {
				p.states.Publish(StateDisconnected)
				return ctx.Err()
			}
			p.log.Debug("dial failed, retrying",
				zap.Duration("retry", p.retryDelay), zap.Error(err))
			if !sleepCtx(ctx, p.retryDelay) {
				p.states.Publish(StateDisconnected)
				return ctx.Err()
			}
			continue
		}

		rctx, rcancel := context.WithCancel(context.Background())
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			rcancel()
			_ = raw.Close()
			return ErrPeerClosed
		}
		conn := newConn(raw, p.writeTimeout, nil, p.log)
		p.conn = conn
		p.cancel = rcancel
		p.wg.Add(1)
		p.mu.Unlock()

		_ = conn.Enqueue(wire.Hello{Peer: p.id})
		p.log.Info("connected to hub", zap.String("channel", p.ch.Name()))
		p.states.Publish(StateConnected)
		go p.readLoop(rctx, rcancel, raw, conn)
		return nil
	}
}

// readLoop consumes hub lines until the transport drops or the session is
// cancelled. Lines that do not decode, or that carry a foreign identity, are
// discarded: several identities share the line framing without cross-talk.
func (p *Peer) readLoop(ctx context.Context, cancel context.CancelFunc, raw net.Conn, conn *Conn) {
	defer p.wg.Done()
	defer cancel()

	// Unblock the reader when the session is cancelled.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	br := bufio.NewReader(raw)
loop:
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			break
		}
		m, ok := wire.Decode(line, wire.ToPeer)
		if !ok || m.PeerID() != p.id {
			continue
		}
		switch v := m.(type) {
		case wire.CoordinateUpdate:
			select {
			case p.coords <- v:
			default:
				p.log.Warn("coordinate consumer too slow, dropping update")
			}
		case wire.Configuration:
			select {
			case p.configs <- v:
			default:
				p.log.Warn("configuration consumer too slow, dropping document")
			}
		case wire.CloseRequest:
			p.log.Info("close requested by hub")
			p.mu.Lock()
			p.closeRequested = true
			p.mu.Unlock()
			p.sendBye(conn)
			break loop
		}
	}

	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
		p.cancel = nil
	}
	p.mu.Unlock()
	_ = conn.Close()
	p.log.Info("disconnected from hub")
	p.states.Publish(StateDisconnected)
}

// sendBye tells the hub we are leaving. Best effort: losing the bye must
// never prevent local teardown.
func (p *Peer) sendBye(conn *Conn) {
	attempt(p.log, "send bye", func() error {
		return conn.Enqueue(wire.Bye{Peer: p.id})
	})
}

// Disconnect ends the current connection, attempting a bye first, and waits
// for the read loop to finish. Safe to call repeatedly and concurrently with
// a natural disconnection.
func (p *Peer) Disconnect() {
	p.mu.Lock()
	conn := p.conn
	cancel := p.cancel
	p.mu.Unlock()

	if conn != nil {
		p.sendBye(conn)
	}
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Close disconnects and permanently ends the session: no further transitions
// are possible and the output streams are completed.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.Disconnect()
	p.states.Close()
	close(p.coords)
	close(p.configs)
}
