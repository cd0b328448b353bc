package op

import (
	"testing"

	"github.com/spaceway/spaceway/internal/hlc"
	"github.com/spaceway/spaceway/internal/identity"
	"github.com/spaceway/spaceway/internal/ids"
)

func newSignedRecord(t *testing.T, kp *identity.Keypair) *Record {
	t.Helper()
	payload, err := EncodePayload(CreateSpacePayload{Name: "general", Visibility: VisibilityPublic})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	r := &Record{
		OpId:    ids.NewOpId(),
		SpaceId: ids.NewSpaceId(),
		Type:    CreateSpace,
		Author:  kp.UserId(),
		Epoch:   0,
		HLC:     hlc.Clock{WallTimeMs: 1000, Logical: 0},
		Payload: payload,
	}
	if err := r.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return r
}

func TestSignAndVerify(t *testing.T) {
	kp, _ := identity.Generate()
	r := newSignedRecord(t, kp)

	ok, err := r.VerifySignature()
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid signature")
	}
}

func TestVerifyFailsOnTamperedField(t *testing.T) {
	kp, _ := identity.Generate()
	r := newSignedRecord(t, kp)

	r.Epoch = 99 // tamper after signing

	ok, err := r.VerifySignature()
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if ok {
		t.Fatalf("expected tampered record to fail verification")
	}
}

func TestFrontierAdvance(t *testing.T) {
	f := NewFrontier()
	parent := ids.NewOpId()
	f.Add(parent)

	child := ids.NewOpId()
	f.Advance(child, []ids.OpId{parent})

	list := f.List()
	if len(list) != 1 || list[0] != child {
		t.Fatalf("expected frontier to contain only child, got %v", list)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	kp, _ := identity.Generate()
	want := AddMemberPayload{Member: kp.UserId(), Role: RoleModerator}

	b, err := EncodePayload(want)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	got, err := DecodeAddMember(b)
	if err != nil {
		t.Fatalf("DecodeAddMember: %v", err)
	}
	if got.Member != want.Member || got.Role != want.Role {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}
