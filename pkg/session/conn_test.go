package session

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pipesync/pkg/wire"
)

// readLines collects decoded peer-bound messages from the read side of a
// pipe until it closes.
func readLines(t *testing.T, raw net.Conn, out chan<- wire.Message) {
	t.Helper()
	go func() {
		defer close(out)
		sc := bufio.NewScanner(raw)
		for sc.Scan() {
			if m, ok := wire.Decode(sc.Text(), wire.ToPeer); ok {
				out <- m
			}
		}
	}()
}

func TestConnPreservesEnqueueOrder(t *testing.T) {
	server, client := net.Pipe()
	conn := newConn(server, time.Second, nil, nil)

	got := make(chan wire.Message, 128)
	readLines(t, client, got)

	const n = 100
	for i := 0; i < n; i++ {
		if err := conn.Enqueue(wire.CoordinateUpdate{Peer: 1, X: float64(i), Y: 0}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		select {
		case m := <-got:
			cu := m.(wire.CoordinateUpdate)
			if cu.X != float64(i) {
				t.Fatalf("message %d out of order: got x=%v", i, cu.X)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	_ = conn.Close()
}

func TestConnDrainsQueueOnClose(t *testing.T) {
	server, client := net.Pipe()
	conn := newConn(server, time.Second, nil, nil)

	got := make(chan wire.Message, 16)
	readLines(t, client, got)

	for i := 0; i < 5; i++ {
		if err := conn.Enqueue(wire.CoordinateUpdate{Peer: 2, X: float64(i), Y: 0}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	done := make(chan struct{})
	go func() {
		_ = conn.Close()
		close(done)
	}()

	seen := 0
	for seen < 5 {
		select {
		case m, ok := <-got:
			if !ok {
				t.Fatalf("stream closed after %d of 5 messages", seen)
			}
			if m.(wire.CoordinateUpdate).X != float64(seen) {
				t.Fatalf("drain out of order at %d", seen)
			}
			seen++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out draining, saw %d", seen)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return")
	}
}

func TestConnEnqueueAfterClose(t *testing.T) {
	server, client := net.Pipe()
	go func() {
		sc := bufio.NewScanner(client)
		for sc.Scan() {
		}
	}()
	conn := newConn(server, time.Second, nil, nil)
	_ = conn.Close()
	if err := conn.Enqueue(wire.Bye{Peer: 1}); err != ErrConnClosed {
		t.Fatalf("enqueue after close: got %v, want %v", err, ErrConnClosed)
	}
}

func TestConnReleaseCallbackRunsOnce(t *testing.T) {
	server, client := net.Pipe()
	_ = client.Close() // transport already failed

	var released atomic.Int32
	conn := newConn(server, 100*time.Millisecond, func() { released.Add(1) }, nil)

	// Force a write so the writer loop hits the dead transport too.
	_ = conn.Enqueue(wire.CloseRequest{Peer: 1})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close()
		}()
	}
	wg.Wait()
	if n := released.Load(); n != 1 {
		t.Fatalf("release callback ran %d times, want 1", n)
	}
}

func TestConnWriteFailureIsLocal(t *testing.T) {
	server, client := net.Pipe()
	_ = client.Close()
	conn := newConn(server, 100*time.Millisecond, nil, nil)

	if err := conn.Enqueue(wire.CoordinateUpdate{Peer: 1, X: 1, Y: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// The writer aborts on the failed write; eventually new enqueues are
	// refused rather than anything panicking or blocking.
	deadline := time.After(2 * time.Second)
	for {
		if err := conn.Enqueue(wire.Bye{Peer: 1}); err == ErrConnClosed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("connection never aborted after write failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
	_ = conn.Close()
}

func TestTwoLinesBackToBack(t *testing.T) {
	server, client := net.Pipe()
	conn := newConn(server, time.Second, nil, nil)

	lines := make(chan string, 4)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(client)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	_ = conn.Enqueue(wire.CoordinateUpdate{Peer: 1, X: 1, Y: 2})
	_ = conn.Enqueue(wire.CoordinateUpdate{Peer: 1, X: 3, Y: 4})

	for i, wantX := range []float64{1, 3} {
		select {
		case line := <-lines:
			m, ok := wire.Decode(line, wire.ToPeer)
			if !ok {
				t.Fatalf("line %d did not decode: %q", i, line)
			}
			if m.(wire.CoordinateUpdate).X != wantX {
				t.Fatalf("line %d: x=%v, want %v", i, m.(wire.CoordinateUpdate).X, wantX)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out on line %d", i)
		}
	}
	_ = conn.Close()
}

func TestConnManyConcurrentSenders(t *testing.T) {
	server, client := net.Pipe()
	conn := newConn(server, time.Second, nil, nil)

	got := make(chan wire.Message, 256)
	readLines(t, client, got)

	var wg sync.WaitGroup
	const senders, each = 8, 20
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := conn.Enqueue(wire.Configuration{Peer: 1, Settings: map[string]any{
					"sender": fmt.Sprintf("%d", s),
				}}); err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	for i := 0; i < senders*each; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("lost messages: received %d of %d", i, senders*each)
		}
	}
	_ = conn.Close()
}
