// Package ring computes the positions peers occupy on a circular track of
// checkpoints. It is a pure calculator: the session layer only moves the
// values it produces.
package ring

import (
	"math"
	"time"

	"pipesync/pkg/wire"
)

// Ring describes the track peers move along: a circle around a center point,
// optionally quantized to a fixed number of checkpoint stops.
type Ring struct {
	CenterX float64
	CenterY float64
	Radius  float64
	// Checkpoints quantizes positions to this many evenly spaced stops.
	// Zero means continuous movement.
	Checkpoints int
	// Period is the time of one full revolution.
	Period time.Duration
}

// Default returns the ring used when no configuration is given.
func Default() Ring {
	return Ring{CenterX: 0, CenterY: 0, Radius: 100, Checkpoints: 12, Period: 30 * time.Second}
}

// angle returns the angular position of id after elapsed time. Identities
// are spread evenly around the circle and all advance at the same angular
// velocity, so they never collide.
func (r Ring) angle(id wire.PeerID, elapsed time.Duration) float64 {
	period := r.Period
	if period <= 0 {
		period = Default().Period
	}
	base := 2 * math.Pi * float64(id-1) / float64(wire.MaxPeers)
	turns := elapsed.Seconds() / period.Seconds()
	a := base + 2*math.Pi*turns
	if r.Checkpoints > 0 {
		step := 2 * math.Pi / float64(r.Checkpoints)
		a = math.Floor(a/step) * step
	}
	return a
}

// Position returns the coordinate of id after elapsed time.
func (r Ring) Position(id wire.PeerID, elapsed time.Duration) (x, y float64) {
	a := r.angle(id, elapsed)
	return r.CenterX + r.Radius*math.Cos(a), r.CenterY + r.Radius*math.Sin(a)
}

// Checkpoint returns the index of the stop id currently occupies. With zero
// configured checkpoints it always returns 0.
func (r Ring) Checkpoint(id wire.PeerID, elapsed time.Duration) int {
	if r.Checkpoints <= 0 {
		return 0
	}
	step := 2 * math.Pi / float64(r.Checkpoints)
	idx := int(math.Floor(r.angle(id, elapsed)/step)) % r.Checkpoints
	if idx < 0 {
		idx += r.Checkpoints
	}
	return idx
}
