package peers

import (
	"path/filepath"
	"sync"
	"testing"

	"pipesync/pkg/wire"
)

func TestCountersAccumulate(t *testing.T) {
	s := New("", nil)
	s.RecordConnect(3)
	s.RecordConnect(3)
	s.RecordInbound(3, 42)
	s.RecordOutbound(3, 10)
	s.RecordOutbound(3, 20)

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot size: got %d, want 1", len(snap))
	}
	c := snap[0]
	if c.Peer != 3 || c.Connects != 2 || c.MsgsIn != 1 || c.MsgsOut != 2 {
		t.Fatalf("unexpected counters: %+v", c)
	}
	if c.BytesIn != 42 || c.BytesOut != 30 {
		t.Fatalf("unexpected byte totals: %+v", c)
	}
	if c.LastSeenUnixMS == 0 {
		t.Fatalf("last seen not stamped")
	}
}

func TestSnapshotSortedByIdentity(t *testing.T) {
	s := New("", nil)
	for _, id := range []wire.PeerID{5, 1, 3} {
		s.RecordConnect(id)
	}
	snap := s.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Peer >= snap[i].Peer {
			t.Fatalf("snapshot not sorted: %+v", snap)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats", "peers.cbor")
	s := New(path, nil)
	s.RecordConnect(1)
	s.RecordInbound(1, 100)
	s.RecordConnect(6)
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New(path, nil)
	if err := restored.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := restored.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("restored %d identities, want 2", len(snap))
	}
	if snap[0].Peer != 1 || snap[0].BytesIn != 100 {
		t.Fatalf("identity 1 counters lost: %+v", snap[0])
	}

	// Counting continues on top of restored totals.
	restored.RecordConnect(1)
	if got := restored.Snapshot()[0].Connects; got != 2 {
		t.Fatalf("connects after restore: got %d, want 2", got)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-written.cbor"), nil)
	if err := s.Load(); err != nil {
		t.Fatalf("load of missing file: %v", err)
	}
}

func TestEmptyPathDisablesPersistence(t *testing.T) {
	s := New("", nil)
	s.RecordConnect(2)
	if err := s.Save(); err != nil {
		t.Fatalf("save with empty path: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("load with empty path: %v", err)
	}
}

func TestConcurrentRecording(t *testing.T) {
	s := New("", nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.RecordInbound(4, 1)
			}
		}()
	}
	wg.Wait()
	if got := s.Snapshot()[0].MsgsIn; got != 800 {
		t.Fatalf("messages in: got %d, want 800", got)
	}
}
