package facade

import (
	"context"
	"sync"
	"testing"

	"github.com/spaceway/spaceway/internal/groupkey"
	"github.com/spaceway/spaceway/internal/identity"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/op"
)

// fakeStore is an in-memory double for Store (facade.go's doc comment:
// "kept as an interface so tests can substitute an in-memory double"),
// with a drain method so a test can replay newly-persisted ops onto
// other nodes' façades in place of a real gossip fabric.
type fakeStore struct {
	mu      sync.Mutex
	ops     map[ids.OpId]*op.Record
	applied []*op.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{ops: make(map[ids.OpId]*op.Record)}
}

func (s *fakeStore) PutOp(r *op.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[r.OpId] = r
	s.applied = append(s.applied, r)
	return nil
}

func (s *fakeStore) GetOp(id ids.OpId) (*op.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ops[id]
	return r, ok, nil
}

func (s *fakeStore) HasOp(id ids.OpId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ops[id]
	return ok
}

func (s *fakeStore) drain() []*op.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.applied
	s.applied = nil
	return out
}

// propagate replays every op newly persisted on from since the last
// drain onto each of to, standing in for the gossip fabric a real
// deployment would use.
func propagate(t *testing.T, from *fakeStore, to ...*Facade) {
	t.Helper()
	for _, r := range from.drain() {
		for _, f := range to {
			if err := f.ApplyRemote(r); err != nil {
				t.Fatalf("ApplyRemote: %v", err)
			}
		}
	}
}

// TestRemoveMemberForwardSecrecy reproduces §8's "Kick forward secrecy"
// scenario end to end through the façade: Charlie is welcomed at epoch
// 2 (reached after the two AddMember rekeys), is removed (triggering a
// rekey to epoch 3), and must not be able to decrypt a message Admin
// posts afterward even though he retained his epoch-2 group-key engine.
func TestRemoveMemberForwardSecrecy(t *testing.T) {
	ctx := context.Background()
	adminKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate (admin): %v", err)
	}
	bobKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate (bob): %v", err)
	}
	charlieKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate (charlie): %v", err)
	}

	adminStore := newFakeStore()
	admin := New(adminKP, adminStore, nil, nil, false, nil)
	bob := New(bobKP, newFakeStore(), nil, nil, false, nil)
	charlie := New(charlieKP, newFakeStore(), nil, nil, false, nil)

	// Bob and Charlie publish key packages (no DHT wired in this test;
	// admin's cache is seeded directly below, as if it had resolved
	// them via the DHT per §4.6).
	bobPkg, err := bob.PublishKeyPackages(ctx)
	if err != nil {
		t.Fatalf("bob.PublishKeyPackages: %v", err)
	}
	charliePkg, err := charlie.PublishKeyPackages(ctx)
	if err != nil {
		t.Fatalf("charlie.PublishKeyPackages: %v", err)
	}
	admin.memberKeys[bobKP.UserId()] = groupkey.KeyPackage{User: bobKP.UserId(), Public: bobPkg.Public}
	admin.memberKeys[charlieKP.UserId()] = groupkey.KeyPackage{User: charlieKP.UserId(), Public: charliePkg.Public}

	created, err := admin.CreateSpace("s", "", op.VisibilityPrivate)
	if err != nil {
		t.Fatalf("CreateSpace: %v", err)
	}
	space := created.SpaceId
	propagate(t, adminStore, bob, charlie)

	if _, err := admin.AddMemberWithRole(space, bobKP.UserId(), op.RoleMember); err != nil {
		t.Fatalf("AddMemberWithRole(bob): %v", err)
	}
	propagate(t, adminStore, bob, charlie)

	if _, err := admin.AddMemberWithRole(space, charlieKP.UserId(), op.RoleMember); err != nil {
		t.Fatalf("AddMemberWithRole(charlie): %v", err)
	}
	propagate(t, adminStore, bob, charlie)

	// Neither bob nor charlie holds a group-key engine yet: the commits
	// applied so far found none to advance on their side. Give bob and
	// charlie their own Welcome into the current group secret the same
	// way a real join would (§4.5 "Welcome bundle"), since the façade's
	// own join flow is out of scope here.
	adminEngine := admin.groupEngine[space]
	if adminEngine == nil {
		t.Fatalf("expected admin to hold a group-key engine for the space")
	}
	sealedBob, ephBob, err := adminEngine.SealWelcome(bobPkg)
	if err != nil {
		t.Fatalf("SealWelcome(bob): %v", err)
	}
	bobEngine, err := groupkey.OpenWelcome(space, adminEngine.Epoch(), *bob.keyPackage, ephBob, sealedBob)
	if err != nil {
		t.Fatalf("OpenWelcome(bob): %v", err)
	}
	bob.groupEngine[space] = bobEngine

	sealedCharlie, ephCharlie, err := adminEngine.SealWelcome(charliePkg)
	if err != nil {
		t.Fatalf("SealWelcome(charlie): %v", err)
	}
	charlieEngine, err := groupkey.OpenWelcome(space, adminEngine.Epoch(), *charlie.keyPackage, ephCharlie, sealedCharlie)
	if err != nil {
		t.Fatalf("OpenWelcome(charlie): %v", err)
	}
	charlie.groupEngine[space] = charlieEngine

	// Charlie keeps a snapshot of his epoch-before-removal engine, the
	// one an attacker who was Charlie would retain after being kicked.
	preRemovalSecretAEAD, err := charlie.groupEngine[space].TrafficKey()
	if err != nil {
		t.Fatalf("TrafficKey (charlie, pre-removal): %v", err)
	}

	if _, err := admin.RemoveMember(space, charlieKP.UserId()); err != nil {
		t.Fatalf("RemoveMember(charlie): %v", err)
	}
	propagate(t, adminStore, bob, charlie)

	// Bob is still a member and must converge on the new epoch.
	if bob.groupEngine[space].Epoch() != admin.groupEngine[space].Epoch() {
		t.Fatalf("expected bob to converge on admin's epoch after removal, bob=%d admin=%d",
			bob.groupEngine[space].Epoch(), admin.groupEngine[space].Epoch())
	}

	chRecord, err := admin.CreateChannel(space, "general")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	thRecord, err := admin.CreateThread(space, chRecord.ChannelId, "welcome")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	propagate(t, adminStore, bob)

	msg, err := admin.PostMessage(space, chRecord.ChannelId, thRecord.ThreadId, []byte("charlie should not read this"))
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	propagate(t, adminStore, bob)
	payload, err := op.DecodePostMessage(msg.Payload)
	if err != nil {
		t.Fatalf("DecodePostMessage: %v", err)
	}

	bobAEAD, err := bob.groupEngine[space].TrafficKey()
	if err != nil {
		t.Fatalf("TrafficKey (bob, post-removal): %v", err)
	}
	plain, err := bobAEAD.Open(nil, payload.Nonce, payload.CipherText, space[:])
	if err != nil {
		t.Fatalf("expected bob (still a member) to decrypt the post-removal message: %v", err)
	}
	if string(plain) != "charlie should not read this" {
		t.Fatalf("unexpected plaintext: %q", plain)
	}

	// Charlie's removal-time engine must not have advanced (he had no
	// entry in the sealed commit's Recipients), and his retained
	// pre-removal traffic key must not open the post-removal message.
	if charlie.groupEngine[space].Epoch() == admin.groupEngine[space].Epoch() {
		t.Fatalf("expected charlie's engine to NOT converge on the post-removal epoch")
	}
	if _, err := preRemovalSecretAEAD.Open(nil, payload.Nonce, payload.CipherText, space[:]); err == nil {
		t.Fatalf("expected charlie's pre-removal traffic key to fail decrypting the post-removal message")
	}
}
