package validator

import (
	"testing"

	"github.com/spaceway/spaceway/internal/hlc"
	"github.com/spaceway/spaceway/internal/identity"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/op"
)

type fakeAccepted struct {
	m map[ids.OpId]*op.Record
}

func newFakeAccepted() *fakeAccepted { return &fakeAccepted{m: make(map[ids.OpId]*op.Record)} }
func (f *fakeAccepted) Has(id ids.OpId) bool                  { _, ok := f.m[id]; return ok }
func (f *fakeAccepted) Get(id ids.OpId) (*op.Record, bool)    { r, ok := f.m[id]; return r, ok }
func (f *fakeAccepted) accept(r *op.Record)                   { f.m[r.OpId] = r }

type fakeEpoch struct {
	epoch ids.EpochId
	known bool
}

func (f fakeEpoch) CurrentEpoch(ids.SpaceId) (ids.EpochId, bool) { return f.epoch, f.known }

type fakePermissions struct{ allow bool }

func (f fakePermissions) HasPermission(ids.SpaceId, ids.UserId, op.OpType, []ids.OpId) (bool, error) {
	return f.allow, nil
}

type noShape struct{}

func (noShape) CheckShape(*op.Record) error { return nil }

func sign(t *testing.T, kp *identity.Keypair, r *op.Record) *op.Record {
	t.Helper()
	r.Author = kp.UserId()
	if err := r.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return r
}

func TestValidateAccept(t *testing.T) {
	kp, _ := identity.Generate()
	accepted := newFakeAccepted()
	v := New(accepted, fakeEpoch{epoch: 0, known: true}, fakePermissions{allow: true}, noShape{}, nil)

	r := sign(t, kp, &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.CreateSpace, Epoch: 0, HLC: hlc.Clock{WallTimeMs: 1}})

	res := v.Validate(r)
	if res.Verdict != Accept {
		t.Fatalf("expected Accept, got %v (%v)", res.Verdict, res.Reason)
	}
}

func TestValidateDuplicate(t *testing.T) {
	kp, _ := identity.Generate()
	accepted := newFakeAccepted()
	v := New(accepted, fakeEpoch{known: true}, fakePermissions{allow: true}, noShape{}, nil)

	r := sign(t, kp, &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.CreateSpace})
	accepted.accept(r)

	res := v.Validate(r)
	if res.Verdict != Reject || res.Reason == nil {
		t.Fatalf("expected Reject(Duplicate), got %v", res.Verdict)
	}
}

func TestValidateBadSignature(t *testing.T) {
	kp, _ := identity.Generate()
	accepted := newFakeAccepted()
	v := New(accepted, fakeEpoch{known: true}, fakePermissions{allow: true}, noShape{}, nil)

	r := sign(t, kp, &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.CreateSpace})
	r.SpaceId = ids.NewSpaceId() // tamper after sign

	res := v.Validate(r)
	if res.Verdict != Reject {
		t.Fatalf("expected Reject(BadSignature), got %v", res.Verdict)
	}
}

func TestValidateDefersOnMissingPredecessor(t *testing.T) {
	kp, _ := identity.Generate()
	accepted := newFakeAccepted()
	v := New(accepted, fakeEpoch{known: true}, fakePermissions{allow: true}, noShape{}, nil)

	missingParent := ids.NewOpId()
	r := sign(t, kp, &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.PostMessage, PrevOps: []ids.OpId{missingParent}})

	res := v.Validate(r)
	if res.Verdict != Defer || len(res.Missing) != 1 || res.Missing[0] != missingParent {
		t.Fatalf("expected Defer with missing %v, got %v %v", missingParent, res.Verdict, res.Missing)
	}
}

func TestValidateStaleEpochRejectsFuture(t *testing.T) {
	kp, _ := identity.Generate()
	accepted := newFakeAccepted()
	v := New(accepted, fakeEpoch{epoch: 1, known: true}, fakePermissions{allow: true}, noShape{}, nil)

	r := sign(t, kp, &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.PostMessage, Epoch: 5})

	res := v.Validate(r)
	if res.Verdict != Reject {
		t.Fatalf("expected Reject(StaleEpoch) for future epoch, got %v", res.Verdict)
	}
}

func TestValidateAcceptsPastEpochPerOpenQuestionPolicy(t *testing.T) {
	kp, _ := identity.Generate()
	accepted := newFakeAccepted()
	v := New(accepted, fakeEpoch{epoch: 5, known: true}, fakePermissions{allow: true}, noShape{}, nil)

	r := sign(t, kp, &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.PostMessage, Epoch: 1})

	res := v.Validate(r)
	if res.Verdict != Accept {
		t.Fatalf("expected Accept for stale-but-valid epoch, got %v (%v)", res.Verdict, res.Reason)
	}
}

func TestValidateUnauthorized(t *testing.T) {
	kp, _ := identity.Generate()
	accepted := newFakeAccepted()
	v := New(accepted, fakeEpoch{known: true}, fakePermissions{allow: false}, noShape{}, nil)

	r := sign(t, kp, &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.RemoveMember})

	res := v.Validate(r)
	if res.Verdict != Reject {
		t.Fatalf("expected Reject(Unauthorized), got %v", res.Verdict)
	}
}

func TestValidateKeyTransitionSkipsEpochCheck(t *testing.T) {
	kp, _ := identity.Generate()
	accepted := newFakeAccepted()
	v := New(accepted, fakeEpoch{epoch: 0, known: true}, fakePermissions{allow: true}, noShape{}, nil)

	r := sign(t, kp, &op.Record{OpId: ids.NewOpId(), SpaceId: ids.NewSpaceId(), Type: op.KeyCommit, Epoch: 7})

	res := v.Validate(r)
	if res.Verdict != Accept {
		t.Fatalf("expected key-transition op to bypass epoch check, got %v (%v)", res.Verdict, res.Reason)
	}
}
