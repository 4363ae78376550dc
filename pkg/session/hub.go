package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"pipesync/pkg/channel"
	"pipesync/pkg/peers"
	"pipesync/pkg/wire"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultAcceptBackoff    = 500 * time.Millisecond
)

// Configurer builds the settings document sent to a peer right after its
// handshake. Returning nil settings skips the message; an error is swallowed
// and never fails the handshake.
type Configurer func(wire.PeerID) (map[string]any, error)

// Hub is the server role of the session: it claims the well-known channel
// name, accepts peer connections, performs the hello handshake, and keeps at
// most one live connection per logical identity.
type Hub struct {
	ch        channel.Channel
	log       *zap.Logger
	stats     *peers.Stats
	configure Configurer

	handshakeTimeout time.Duration
	acceptBackoff    time.Duration
	writeTimeout     time.Duration

	mu       sync.Mutex
	started  bool
	stopping bool
	ln       net.Listener
	cancel   context.CancelFunc
	conns    map[wire.PeerID]*hubConn

	wg sync.WaitGroup

	connEvents *bus[ConnectionEvent]
	inbound    *bus[InboundEvent]
}

// hubConn is the hub-side record of one registered peer connection.
type hubConn struct {
	id   wire.PeerID
	conn *Conn
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub's logger. Defaults to the no-op logger.
func WithHubLogger(l *zap.Logger) HubOption { return func(h *Hub) { h.log = l } }

// WithStats wires a peers.Stats that the hub updates as traffic flows.
func WithStats(s *peers.Stats) HubOption { return func(h *Hub) { h.stats = s } }

// WithConfigurer installs the per-handshake configuration builder.
func WithConfigurer(f Configurer) HubOption { return func(h *Hub) { h.configure = f } }

// WithHandshakeTimeout bounds how long a fresh connection may take to send
// its hello line.
func WithHandshakeTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.handshakeTimeout = d }
}

// WithAcceptBackoff sets the delay applied after listen/accept failures
// before retrying.
func WithAcceptBackoff(d time.Duration) HubOption { return func(h *Hub) { h.acceptBackoff = d } }

// WithHubWriteTimeout bounds each outbound line write.
func WithHubWriteTimeout(d time.Duration) HubOption { return func(h *Hub) { h.writeTimeout = d } }

// NewHub builds a hub bound to ch. Call Start to begin accepting.
func NewHub(ch channel.Channel, opts ...HubOption) *Hub {
	h := &Hub{
		ch:               ch,
		log:              zap.NewNop(),
		handshakeTimeout: defaultHandshakeTimeout,
		acceptBackoff:    defaultAcceptBackoff,
		conns:            make(map[wire.PeerID]*hubConn),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.connEvents = newBus[ConnectionEvent]("connection", h.log)
	h.inbound = newBus[InboundEvent]("inbound", h.log)
	return h
}

// Start begins the accept loop. It does not block and is idempotent; a hub
// that has been stopped stays stopped.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopping {
		return
	}
	h.started = true
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(1)
	go h.acceptLoop(ctx)
}

// Stop cancels the accept loop, waits for it to end, then closes and
// releases every registered connection. Idempotent and safe to call on a hub
// that never started.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopping = true
	cancel := h.cancel
	h.cancel = nil
	ln := h.ln
	h.ln = nil
	recs := make([]*hubConn, 0, len(h.conns))
	for _, rec := range h.conns {
		recs = append(recs, rec)
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	// Closing the transports unblocks the per-connection read loops, which
	// then deregister themselves.
	for _, rec := range recs {
		_ = rec.conn.Close()
	}
	h.wg.Wait()
	h.connEvents.Close()
	h.inbound.Close()
}

// SubscribeConnection returns an independent stream of connect/disconnect
// transitions plus its cancel function.
func (h *Hub) SubscribeConnection() (<-chan ConnectionEvent, func()) {
	return h.connEvents.Subscribe()
}

// SubscribeInbound returns an independent stream of post-handshake inbound
// messages plus its cancel function.
func (h *Hub) SubscribeInbound() (<-chan InboundEvent, func()) {
	return h.inbound.Subscribe()
}

// IsConnected reports whether id currently has a registered connection.
func (h *Hub) IsConnected(id wire.PeerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[id]
	return ok
}

// ConnectedIDs returns a point-in-time copy of the registered identities,
// sorted ascending.
func (h *Hub) ConnectedIDs() []wire.PeerID {
	h.mu.Lock()
	ids := make([]wire.PeerID, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Send enqueues a hub-to-peer message on the connection registered for id.
// It never creates a connection as a side effect.
func (h *Hub) Send(id wire.PeerID, m wire.Message) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPeer, id)
	}
	if m.Direction() != wire.ToPeer {
		return fmt.Errorf("%w: %s", ErrWrongDirection, m.Kind())
	}
	h.mu.Lock()
	rec := h.conns[id]
	h.mu.Unlock()
	if rec == nil {
		return fmt.Errorf("peer %d: %w", id, ErrNotConnected)
	}
	if err := rec.conn.Enqueue(m); err != nil {
		return fmt.Errorf("peer %d: %w", id, ErrNotConnected)
	}
	if h.stats != nil {
		if line, err := wire.Encode(m); err == nil {
			h.stats.RecordOutbound(id, len(line)+1)
		}
	}
	return nil
}

// Broadcast enqueues m for every currently registered peer. Peers that
// vanish mid-broadcast are skipped.
func (h *Hub) Broadcast(m wire.Message) error {
	if m.Direction() != wire.ToPeer {
		return fmt.Errorf("%w: %s", ErrWrongDirection, m.Kind())
	}
	for _, id := range h.ConnectedIDs() {
		if err := h.Send(id, m); err != nil {
			h.log.Debug("broadcast skipped peer", zap.Int("peer", int(id)), zap.Error(err))
		}
	}
	return nil
}

func (h *Hub) acceptLoop(ctx context.Context) {
	defer h.wg.Done()
	for ctx.Err() == nil {
		ln, err := h.ch.Listen()
		if err != nil {
			if channel.IsBusy(err) {
				h.log.Warn("channel name busy, retrying", zap.String("channel", h.ch.Name()))
			} else {
				h.log.Warn("listen failed, retrying", zap.Error(err))
			}
			if !sleepCtx(ctx, h.acceptBackoff) {
				return
			}
			continue
		}

		h.mu.Lock()
		if h.stopping {
			h.mu.Unlock()
			_ = ln.Close()
			return
		}
		h.ln = ln
		h.mu.Unlock()
		h.log.Info("accepting peers", zap.String("channel", h.ch.Name()))

		for {
			raw, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.log.Warn("accept failed", zap.Error(err))
				_ = ln.Close()
				if !sleepCtx(ctx, h.acceptBackoff) {
					return
				}
				break // re-listen
			}
			// One handler per connection; a slow peer must not block
			// others from connecting.
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.handle(ctx, raw)
			}()
		}
	}
}

// handle performs the handshake and runs the per-connection read loop.
func (h *Hub) handle(ctx context.Context, raw net.Conn) {
	br := bufio.NewReader(raw)

	// The first line must be a valid hello; anything else drops the
	// connection silently.
	_ = raw.SetReadDeadline(time.Now().Add(h.handshakeTimeout))
	first, err := br.ReadString('\n')
	if err != nil {
		_ = raw.Close()
		return
	}
	m, ok := wire.Decode(first, wire.ToHub)
	hello, isHello := m.(wire.Hello)
	if !ok || !isHello {
		h.log.Debug("dropping connection without hello")
		_ = raw.Close()
		return
	}
	id := hello.Peer
	_ = raw.SetReadDeadline(time.Time{})

	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		_ = raw.Close()
		return
	}
	rec := &hubConn{id: id}
	rec.conn = newConn(raw, h.writeTimeout, func() { h.retire(rec) }, h.log.With(zap.Int("peer", int(id))))
	old := h.conns[id]
	h.conns[id] = rec
	h.mu.Unlock()

	if old != nil {
		// Same identity reconnected: the displaced record is released
		// outside the registry lock and fires its own disconnect event.
		h.log.Info("replacing existing connection", zap.Int("peer", int(id)))
		_ = old.conn.Close()
	}
	if h.stats != nil {
		h.stats.RecordConnect(id)
	}
	h.log.Info("peer connected", zap.Int("peer", int(id)))
	h.connEvents.Publish(ConnectionEvent{Peer: id, State: StateConnected})

	if h.configure != nil {
		attempt(h.log, "send configuration", func() error {
			settings, err := h.configure(id)
			if err != nil {
				return err
			}
			if settings == nil {
				return nil
			}
			return rec.conn.Enqueue(wire.Configuration{Peer: id, Settings: settings})
		})
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			break
		}
		in, ok := wire.Decode(line, wire.ToHub)
		if !ok {
			// Malformed or wrong-direction traffic: ignore the line.
			continue
		}
		if h.stats != nil {
			h.stats.RecordInbound(id, len(line))
		}
		if _, bye := in.(wire.Bye); bye {
			h.log.Info("peer said goodbye", zap.Int("peer", int(id)))
			break
		}
		// Other inbound kinds are not acted on at this layer; upper layers
		// may subscribe to them.
		h.inbound.Publish(InboundEvent{Peer: id, Msg: in})
	}
	_ = rec.conn.Close()
}

// retire deregisters rec and emits its disconnect event. It runs exactly
// once per record, via the connection's release callback, whether the record
// was torn down by its own read loop, by Stop, or by an identity collision.
func (h *Hub) retire(rec *hubConn) {
	h.mu.Lock()
	// Only remove the registry entry if it is still this record; a
	// replacement for the same identity must survive the old record's
	// teardown.
	if h.conns[rec.id] == rec {
		delete(h.conns, rec.id)
	}
	h.mu.Unlock()
	h.log.Info("peer disconnected", zap.Int("peer", int(rec.id)))
	h.connEvents.Publish(ConnectionEvent{Peer: rec.id, State: StateDisconnected})
}

// sleepCtx waits d unless ctx ends first; it reports whether the full delay
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
