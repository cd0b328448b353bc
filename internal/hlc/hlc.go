// Package hlc implements the Hybrid Logical Clock used to order
// operations: (wall_time_ms, logical) pairs, ordered lexicographically.
//
// The update rules follow the spec's §3 definition and the reference
// implementation's core/src/crdt/hlc.rs: on a local tick, if the wall
// clock has advanced past the stored timestamp, reset the logical
// counter; otherwise bump it. On receiving a remote timestamp, adopt the
// componentwise maximum of (local, remote, wall-clock-now) and then bump
// the logical counter once more to keep the update strictly monotone.
package hlc

import (
	"sync"
	"time"
)

// Clock is an HLC value: wall-clock milliseconds since the Unix epoch,
// plus a logical counter that orders events sharing the same wall time.
type Clock struct {
	WallTimeMs uint64
	Logical    uint64
}

// Compare orders two clocks lexicographically: wall time first, then
// logical counter. Returns -1, 0, or 1.
func (c Clock) Compare(other Clock) int {
	switch {
	case c.WallTimeMs < other.WallTimeMs:
		return -1
	case c.WallTimeMs > other.WallTimeMs:
		return 1
	case c.Logical < other.Logical:
		return -1
	case c.Logical > other.Logical:
		return 1
	default:
		return 0
	}
}

// Less reports whether c sorts strictly before other.
func (c Clock) Less(other Clock) bool { return c.Compare(other) < 0 }

// nowMs returns the current wall-clock time in milliseconds. Extracted so
// tests can observe Generator's behavior without faking the OS clock via
// a seam other than this function (kept unexported: no production caller
// needs to override it).
var nowMs = func() uint64 { return uint64(time.Now().UnixMilli()) }

// Generator produces a node's local HLC. It must be used by exactly one
// authoring path per Space — the client façade — since the invariant
// "local HLC strictly monotone across all locally-emitted operations"
// only holds for a single linear sequence of Tick/Receive calls.
type Generator struct {
	mu   sync.Mutex
	last Clock
}

// NewGenerator returns a Generator seeded at the zero clock.
func NewGenerator() *Generator {
	return &Generator{}
}

// Tick advances the clock for a newly-authored local event and returns
// the new value. If wall time has moved past the stored timestamp, the
// logical counter resets to zero; otherwise it increments.
func (g *Generator) Tick() Clock {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := nowMs()
	if now > g.last.WallTimeMs {
		g.last = Clock{WallTimeMs: now, Logical: 0}
	} else {
		g.last.Logical++
	}
	return g.last
}

// Receive merges a remote clock into the local clock on message arrival:
// local becomes the componentwise maximum of (local, remote, now), then
// the logical counter is bumped once more to guarantee the result is
// strictly greater than every input the node has seen.
func (g *Generator) Receive(remote Clock) Clock {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := nowMs()
	wall := g.last.WallTimeMs
	if remote.WallTimeMs > wall {
		wall = remote.WallTimeMs
	}
	if now > wall {
		wall = now
	}

	logical := uint64(0)
	if wall == g.last.WallTimeMs {
		logical = g.last.Logical
	}
	if wall == remote.WallTimeMs && remote.Logical > logical {
		logical = remote.Logical
	}
	logical++

	g.last = Clock{WallTimeMs: wall, Logical: logical}
	return g.last
}

// Peek returns the last emitted clock without advancing it.
func (g *Generator) Peek() Clock {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
