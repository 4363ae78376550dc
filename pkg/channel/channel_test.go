package channel

import (
	"context"
	"testing"
	"time"
)

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New("carrier-pigeon", "x"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := New(KindMem, ""); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestMemListenDialRoundTrip(t *testing.T) {
	ch, err := New(KindMem, "mem-roundtrip")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ln, err := ch.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			buf := make([]byte, 5)
			_, err = c.Read(buf)
			_ = c.Close()
		}
		accepted <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := ch.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.Close()
	if err := <-accepted; err != nil {
		t.Fatalf("accept side: %v", err)
	}
}

func TestMemSecondListenerIsBusy(t *testing.T) {
	ch, _ := New(KindMem, "mem-busy")
	ln, err := ch.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if _, err := ch.Listen(); !IsBusy(err) {
		t.Fatalf("second listen: want busy, got %v", err)
	}
}

func TestMemDialWithoutListener(t *testing.T) {
	ch, _ := New(KindMem, "mem-orphan")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := ch.Dial(ctx); err == nil {
		t.Fatalf("dial without listener should fail")
	}
}

func TestMemNameReleasedAfterClose(t *testing.T) {
	ch, _ := New(KindMem, "mem-release")
	ln, err := ch.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_ = ln.Close()
	ln2, err := ch.Listen()
	if err != nil {
		t.Fatalf("relisten after close: %v", err)
	}
	_ = ln2.Close()
}

func TestUnixListenDial(t *testing.T) {
	ch, err := New(KindUnix, "pipesync-test-unix")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ln, err := ch.Listen()
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			_, _ = c.Write([]byte("ok"))
			_ = c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := ch.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	buf := make([]byte, 2)
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	_ = conn.Close()
}
