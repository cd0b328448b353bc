package dht

import (
	"context"
	"sync"

	"github.com/spaceway/spaceway/internal/ids"
)

// Loopback is an in-process Transport connecting a fixed set of
// Overlay peers directly, for tests and single-process demos.
type Loopback struct {
	mu    sync.Mutex
	peers map[PeerId]*loopbackNode
}

type loopbackNode struct {
	mu      sync.Mutex
	records map[ids.ID32][]Record
}

// NewLoopback constructs an empty Loopback with the given peer ids
// registered (each with an empty store).
func NewLoopback(peerIds ...PeerId) *Loopback {
	lb := &Loopback{peers: make(map[PeerId]*loopbackNode)}
	for _, id := range peerIds {
		lb.peers[id] = &loopbackNode{records: make(map[ids.ID32][]Record)}
	}
	return lb
}

// View returns a Transport that sees every peer except self, matching
// "Peers() returns candidates other than me."
func (lb *Loopback) View(self PeerId) Transport {
	return &loopbackView{lb: lb, self: self}
}

type loopbackView struct {
	lb   *Loopback
	self PeerId
}

func (v *loopbackView) Peers(ids.ID32) []PeerId {
	v.lb.mu.Lock()
	defer v.lb.mu.Unlock()
	out := make([]PeerId, 0, len(v.lb.peers))
	for id := range v.lb.peers {
		if id != v.self {
			out = append(out, id)
		}
	}
	return out
}

func (v *loopbackView) PutTo(_ context.Context, peer PeerId, rec Record) error {
	v.lb.mu.Lock()
	node := v.lb.peers[peer]
	v.lb.mu.Unlock()
	if node == nil {
		return nil
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	node.records[rec.Key] = mergeLatestPerAuthor(node.records[rec.Key], rec)
	return nil
}

func (v *loopbackView) GetFrom(_ context.Context, peer PeerId, key ids.ID32) ([]Record, error) {
	v.lb.mu.Lock()
	node := v.lb.peers[peer]
	v.lb.mu.Unlock()
	if node == nil {
		return nil, nil
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	return append([]Record(nil), node.records[key]...), nil
}
