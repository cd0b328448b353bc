package groupkey

import (
	"bytes"
	"testing"

	"github.com/spaceway/spaceway/internal/ids"
)

func TestApplyCommitAdvancesEpochDeterministically(t *testing.T) {
	space := ids.NewSpaceId()
	founder, err := NewFounder(space)
	if err != nil {
		t.Fatalf("NewFounder: %v", err)
	}
	mirror, err := NewFounder(space)
	if err != nil {
		t.Fatalf("NewFounder: %v", err)
	}
	mirror.secret = founder.secret // simulate another member starting from the same founding secret

	commit, err := founder.ProposeCommit("add-member")
	if err != nil {
		t.Fatalf("ProposeCommit: %v", err)
	}
	if founder.State() != PendingCommit {
		t.Fatalf("expected PendingCommit state")
	}

	if err := founder.ApplyCommit(1, commit); err != nil {
		t.Fatalf("ApplyCommit (founder): %v", err)
	}
	if err := mirror.ApplyCommit(1, commit); err != nil {
		t.Fatalf("ApplyCommit (mirror): %v", err)
	}

	if founder.secret != mirror.secret {
		t.Fatalf("expected both members to derive the same epoch-1 secret")
	}
	if founder.Epoch() != 1 || founder.State() != Idle {
		t.Fatalf("expected founder at epoch 1, Idle, got epoch=%d state=%v", founder.Epoch(), founder.State())
	}
}

func TestWelcomeRoundTrip(t *testing.T) {
	space := ids.NewSpaceId()
	founder, err := NewFounder(space)
	if err != nil {
		t.Fatalf("NewFounder: %v", err)
	}

	newMember := ids.NewUserId()
	kp, err := GenerateKeyPackage(newMember)
	if err != nil {
		t.Fatalf("GenerateKeyPackage: %v", err)
	}

	sealed, ephPub, err := founder.SealWelcome(kp)
	if err != nil {
		t.Fatalf("SealWelcome: %v", err)
	}

	joined, err := OpenWelcome(space, founder.Epoch(), kp, ephPub, sealed)
	if err != nil {
		t.Fatalf("OpenWelcome: %v", err)
	}
	if joined.secret != founder.secret {
		t.Fatalf("expected welcomed member to recover founder's epoch secret")
	}
	if joined.State() != Welcomed {
		t.Fatalf("expected Welcomed state, got %v", joined.State())
	}
}

func TestSealCommitExcludesNonRecipient(t *testing.T) {
	space := ids.NewSpaceId()
	founder, err := NewFounder(space)
	if err != nil {
		t.Fatalf("NewFounder: %v", err)
	}

	staying := ids.NewUserId()
	stayingKP, err := GenerateKeyPackage(staying)
	if err != nil {
		t.Fatalf("GenerateKeyPackage: %v", err)
	}
	removed := ids.NewUserId()
	removedKP, err := GenerateKeyPackage(removed)
	if err != nil {
		t.Fatalf("GenerateKeyPackage: %v", err)
	}

	commit, err := founder.ProposeCommit("remove-member")
	if err != nil {
		t.Fatalf("ProposeCommit: %v", err)
	}
	sealed, err := SealCommit(commit, []KeyPackage{stayingKP})
	if err != nil {
		t.Fatalf("SealCommit: %v", err)
	}

	opened, ok, err := OpenCommit(sealed, stayingKP)
	if err != nil {
		t.Fatalf("OpenCommit (staying): %v", err)
	}
	if !ok {
		t.Fatalf("expected staying member to be a recipient")
	}
	if opened.Fresh != commit.Fresh {
		t.Fatalf("expected staying member to recover the same Fresh value")
	}

	if _, ok, err := OpenCommit(sealed, removedKP); err != nil {
		t.Fatalf("OpenCommit (removed): %v", err)
	} else if ok {
		t.Fatalf("expected removed member to have no entry in the sealed commit")
	}
}

func TestTrafficKeyDifferByEpoch(t *testing.T) {
	space := ids.NewSpaceId()
	e, err := NewFounder(space)
	if err != nil {
		t.Fatalf("NewFounder: %v", err)
	}
	aead0, err := e.TrafficKey()
	if err != nil {
		t.Fatalf("TrafficKey: %v", err)
	}

	commit, err := e.ProposeCommit("rekey")
	if err != nil {
		t.Fatalf("ProposeCommit: %v", err)
	}
	if err := e.ApplyCommit(1, commit); err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}
	aead1, err := e.TrafficKey()
	if err != nil {
		t.Fatalf("TrafficKey: %v", err)
	}

	plaintext := []byte("hello space")
	nonce := make([]byte, aead0.NonceSize())
	ct0 := aead0.Seal(nil, nonce, plaintext, nil)
	ct1 := aead1.Seal(nil, nonce, plaintext, nil)
	if bytes.Equal(ct0, ct1) {
		t.Fatalf("expected different epochs to produce different ciphertexts")
	}

	if _, err := aead1.Open(nil, nonce, ct0, nil); err == nil {
		t.Fatalf("expected epoch-1 key to fail decrypting epoch-0 ciphertext")
	}
}
