// Package peers keeps per-identity traffic statistics for the hub: connect
// counts, message and byte counters, last-seen timestamps. The set is purely
// observational; persistence failures never affect the session layer.
package peers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"pipesync/pkg/wire"
)

// Counters accumulates traffic totals for one logical identity.
type Counters struct {
	Peer           wire.PeerID `cbor:"peer"`
	Connects       uint64      `cbor:"connects"`
	MsgsIn         uint64      `cbor:"msgsIn"`
	MsgsOut        uint64      `cbor:"msgsOut"`
	BytesIn        uint64      `cbor:"bytesIn"`
	BytesOut       uint64      `cbor:"bytesOut"`
	LastSeenUnixMS int64       `cbor:"lastSeenUnixMs"`
}

// Stats is a concurrent counter set with an optional CBOR snapshot file.
type Stats struct {
	path string
	log  *zap.Logger

	mu sync.Mutex
	m  map[wire.PeerID]*Counters
}

// New builds an empty Stats. path may be empty, in which case Save and Load
// are no-ops.
func New(path string, log *zap.Logger) *Stats {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stats{path: path, log: log, m: make(map[wire.PeerID]*Counters)}
}

func (s *Stats) counters(id wire.PeerID) *Counters {
	c := s.m[id]
	if c == nil {
		c = &Counters{Peer: id}
		s.m[id] = c
	}
	return c
}

// RecordConnect notes one successful handshake for id.
func (s *Stats) RecordConnect(id wire.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(id)
	c.Connects++
	c.LastSeenUnixMS = time.Now().UnixMilli()
}

// RecordInbound accounts one received message of the given wire size.
func (s *Stats) RecordInbound(id wire.PeerID, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(id)
	c.MsgsIn++
	c.BytesIn += uint64(bytes)
	c.LastSeenUnixMS = time.Now().UnixMilli()
}

// RecordOutbound accounts one message accepted for delivery to id.
func (s *Stats) RecordOutbound(id wire.PeerID, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(id)
	c.MsgsOut++
	c.BytesOut += uint64(bytes)
}

// Snapshot returns a point-in-time copy sorted by identity.
func (s *Stats) Snapshot() []Counters {
	s.mu.Lock()
	out := make([]Counters, 0, len(s.m))
	for _, c := range s.m {
		out = append(out, *c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Save writes the current snapshot to the stats file, atomically via a
// temp-file rename.
func (s *Stats) Save() error {
	if s.path == "" {
		return nil
	}
	snap := s.Snapshot()
	b, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("peers: encode snapshot: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("peers: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("peers: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("peers: %w", err)
	}
	s.log.Debug("stats snapshot saved", zap.String("path", s.path), zap.Int("peers", len(snap)))
	return nil
}

// Load merges a previously saved snapshot into the counter set. A missing
// file is not an error.
func (s *Stats) Load() error {
	if s.path == "" {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("peers: %w", err)
	}
	var snap []Counters
	if err := cbor.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("peers: decode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range snap {
		c := snap[i]
		s.m[c.Peer] = &c
	}
	return nil
}
