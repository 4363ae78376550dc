package ring

import (
	"math"
	"testing"
	"time"

	"pipesync/pkg/wire"
)

func TestPositionIsDeterministic(t *testing.T) {
	r := Default()
	x1, y1 := r.Position(3, 5*time.Second)
	x2, y2 := r.Position(3, 5*time.Second)
	if x1 != x2 || y1 != y2 {
		t.Fatalf("same inputs gave different positions")
	}
}

func TestPositionStaysOnRadius(t *testing.T) {
	r := Ring{CenterX: 10, CenterY: -5, Radius: 50, Period: 10 * time.Second}
	for _, d := range []time.Duration{0, time.Second, 7 * time.Second, time.Minute} {
		x, y := r.Position(1, d)
		dist := math.Hypot(x-r.CenterX, y-r.CenterY)
		if math.Abs(dist-r.Radius) > 1e-9 {
			t.Fatalf("at %v distance %v, want %v", d, dist, r.Radius)
		}
	}
}

func TestIdentitiesAreSpreadApart(t *testing.T) {
	r := Ring{Radius: 100, Period: 30 * time.Second}
	seen := make(map[[2]float64]wire.PeerID)
	for id := wire.PeerID(1); id <= wire.MaxPeers; id++ {
		x, y := r.Position(id, 0)
		key := [2]float64{math.Round(x*1e6) / 1e6, math.Round(y*1e6) / 1e6}
		if other, dup := seen[key]; dup {
			t.Fatalf("identities %d and %d share position %v", id, other, key)
		}
		seen[key] = id
	}
}

func TestFullPeriodReturnsToStart(t *testing.T) {
	r := Ring{Radius: 100, Period: 12 * time.Second}
	x0, y0 := r.Position(2, 0)
	x1, y1 := r.Position(2, r.Period)
	if math.Abs(x0-x1) > 1e-6 || math.Abs(y0-y1) > 1e-6 {
		t.Fatalf("one full period moved the peer: (%v,%v) vs (%v,%v)", x0, y0, x1, y1)
	}
}

func TestCheckpointQuantization(t *testing.T) {
	r := Ring{Radius: 100, Checkpoints: 4, Period: 4 * time.Second}
	// Within one quarter turn the checkpoint must not change.
	c0 := r.Checkpoint(1, 0)
	c1 := r.Checkpoint(1, 900*time.Millisecond)
	if c0 != c1 {
		t.Fatalf("checkpoint changed mid-stop: %d vs %d", c0, c1)
	}
	// After a quarter turn it advances by one.
	c2 := r.Checkpoint(1, 1100*time.Millisecond)
	if c2 != (c0+1)%4 {
		t.Fatalf("checkpoint after quarter turn: got %d, want %d", c2, (c0+1)%4)
	}
}

func TestZeroCheckpointsMeansContinuous(t *testing.T) {
	r := Ring{Radius: 100, Period: 10 * time.Second}
	x0, _ := r.Position(1, 0)
	x1, _ := r.Position(1, 100*time.Millisecond)
	if x0 == x1 {
		t.Fatalf("continuous ring did not move")
	}
	if r.Checkpoint(1, time.Second) != 0 {
		t.Fatalf("checkpoint index without checkpoints should be 0")
	}
}
