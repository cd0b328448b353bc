package holdback

import (
	"testing"
	"time"

	"github.com/spaceway/spaceway/internal/identity"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/op"
)

func newOp(t *testing.T, kp *identity.Keypair, prev ...ids.OpId) *op.Record {
	t.Helper()
	r := &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.PostMessage, PrevOps: prev, Author: kp.UserId()}
	if err := r.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return r
}

func TestDeferThenArrivedReleases(t *testing.T) {
	kp, _ := identity.Generate()
	q := New(nil)

	parent := ids.NewOpId()
	child := newOp(t, kp, parent)

	if err := q.Defer(child, []ids.OpId{parent}); err != nil {
		t.Fatalf("Defer: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 pending entry, got %d", q.Len())
	}

	ready := q.Arrived(parent)
	if len(ready) != 1 || ready[0].OpId != child.OpId {
		t.Fatalf("expected child to be released, got %v", ready)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after release, got %d", q.Len())
	}
}

func TestArrivedPreservesArrivalOrder(t *testing.T) {
	kp, _ := identity.Generate()
	q := New(nil)

	parent := ids.NewOpId()
	first := newOp(t, kp, parent)
	second := newOp(t, kp, parent)

	if err := q.Defer(first, []ids.OpId{parent}); err != nil {
		t.Fatalf("Defer: %v", err)
	}
	if err := q.Defer(second, []ids.OpId{parent}); err != nil {
		t.Fatalf("Defer: %v", err)
	}

	ready := q.Arrived(parent)
	if len(ready) != 2 || ready[0].OpId != first.OpId || ready[1].OpId != second.OpId {
		t.Fatalf("expected arrival order [first, second], got %v", ready)
	}
}

func TestDeferRejectsOverPerAuthorLimit(t *testing.T) {
	kp, _ := identity.Generate()
	q := New(nil, WithMaxPerAuthor(1))

	parent1 := ids.NewOpId()
	parent2 := ids.NewOpId()

	if err := q.Defer(newOp(t, kp, parent1), []ids.OpId{parent1}); err != nil {
		t.Fatalf("Defer: %v", err)
	}
	if err := q.Defer(newOp(t, kp, parent2), []ids.OpId{parent2}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestExpireStalled(t *testing.T) {
	kp, _ := identity.Generate()
	current := time.Unix(0, 0)
	q := New(nil, WithTTL(time.Minute), WithClock(func() time.Time { return current }))

	parent := ids.NewOpId()
	child := newOp(t, kp, parent)
	if err := q.Defer(child, []ids.OpId{parent}); err != nil {
		t.Fatalf("Defer: %v", err)
	}

	current = current.Add(2 * time.Minute)
	stalled := q.ExpireStalled()
	if len(stalled) != 1 || stalled[0] != child.OpId {
		t.Fatalf("expected child to stall, got %v", stalled)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after expiry, got %d", q.Len())
	}
}

func TestMultiLevelHoldbackFixedPoint(t *testing.T) {
	kp, _ := identity.Generate()
	q := New(nil)

	grandparent := ids.NewOpId()
	parent := newOp(t, kp, grandparent)
	child := newOp(t, kp, parent.OpId)

	if err := q.Defer(child, []ids.OpId{parent.OpId}); err != nil {
		t.Fatalf("Defer child: %v", err)
	}
	if err := q.Defer(parent, []ids.OpId{grandparent}); err != nil {
		t.Fatalf("Defer parent: %v", err)
	}

	releasedParents := q.Arrived(grandparent)
	if len(releasedParents) != 1 || releasedParents[0].OpId != parent.OpId {
		t.Fatalf("expected parent released, got %v", releasedParents)
	}

	releasedChildren := q.Arrived(parent.OpId)
	if len(releasedChildren) != 1 || releasedChildren[0].OpId != child.OpId {
		t.Fatalf("expected child released, got %v", releasedChildren)
	}
}
