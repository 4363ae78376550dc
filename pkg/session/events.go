package session

import (
	"sync"

	"go.uber.org/zap"

	"pipesync/pkg/wire"
)

// ConnectionState is one position in the session lifecycle.
type ConnectionState uint8

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionEvent reports one connect or disconnect transition of a peer.
type ConnectionEvent struct {
	Peer  wire.PeerID
	State ConnectionState
}

// InboundEvent republishes a post-handshake message received from a
// registered peer. The session layer does not act on these kinds itself;
// they exist for upper layers and forward compatibility.
type InboundEvent struct {
	Peer wire.PeerID
	Msg  wire.Message
}

// subscriberBuffer bounds how far one subscriber may lag before events are
// dropped for it. Dropping beats deadlocking the dispatcher.
const subscriberBuffer = 16

// bus fans events out to independent subscribers. Publishing only appends to
// an internal queue; delivery happens on the bus's own goroutine, so an event
// is never emitted from inside a caller's critical section.
type bus[T any] struct {
	name string
	log  *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	subs   map[int]chan T
	nextID int
	closed bool

	done chan struct{}
}

func newBus[T any](name string, log *zap.Logger) *bus[T] {
	if log == nil {
		log = zap.NewNop()
	}
	b := &bus[T]{
		name: name,
		log:  log,
		subs: make(map[int]chan T),
		done: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

// Subscribe registers a new independent subscriber. The returned cancel
// function closes the subscription; the channel is closed by the bus, either
// on cancel or when the bus itself shuts down.
func (b *bus[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	ch := make(chan T, subscriberBuffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish queues ev for delivery. It never blocks on subscribers.
func (b *bus[T]) Publish(ev T) {
	b.mu.Lock()
	if !b.closed {
		b.queue = append(b.queue, ev)
		b.cond.Signal()
	}
	b.mu.Unlock()
}

// Close drains pending events, closes every subscriber channel, and waits
// for the dispatcher to finish. Idempotent.
func (b *bus[T]) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.cond.Broadcast()
	}
	b.mu.Unlock()
	<-b.done
}

func (b *bus[T]) dispatch() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			for id, ch := range b.subs {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		for id, ch := range b.subs {
			select {
			case ch <- ev:
			default:
				b.log.Warn("event subscriber too slow, dropping event",
					zap.String("stream", b.name), zap.Int("subscriber", id))
			}
		}
		b.mu.Unlock()
	}
}
