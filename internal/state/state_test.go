package state

import (
	"testing"

	"github.com/spaceway/spaceway/internal/hlc"
	"github.com/spaceway/spaceway/internal/identity"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/op"
)

func mustPayload(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := op.EncodePayload(v)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	return b
}

func TestApplyCreateSpaceSetsOwnerAndAdmin(t *testing.T) {
	kp, _ := identity.Generate()
	p := New()
	spaceID := ids.NewSpaceId()

	r := &op.Record{
		OpId: ids.NewOpId(), SpaceId: spaceID, Type: op.CreateSpace, Author: kp.UserId(),
		HLC:     hlc.Clock{WallTimeMs: 1},
		Payload: mustPayload(t, op.CreateSpacePayload{Name: "general", Visibility: op.VisibilityPublic}),
	}
	if err := p.Apply(r); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	s, ok := p.Space(spaceID)
	if !ok {
		t.Fatalf("expected space to exist")
	}
	if s.Name != "general" || s.Owner != kp.UserId() {
		t.Fatalf("unexpected space state: %+v", s)
	}
	m, ok := s.Members[kp.UserId()]
	if !ok || m.Role != op.RoleAdmin {
		t.Fatalf("expected creator to be admin member, got %+v", m)
	}
}

func TestConflictingSetRoleLowerHLCWins(t *testing.T) {
	kpAdmin, _ := identity.Generate()
	kpTarget, _ := identity.Generate()
	p := New()
	spaceID := ids.NewSpaceId()

	create := &op.Record{
		OpId: ids.NewOpId(), SpaceId: spaceID, Type: op.CreateSpace, Author: kpAdmin.UserId(),
		HLC: hlc.Clock{WallTimeMs: 1}, Payload: mustPayload(t, op.CreateSpacePayload{Name: "s"}),
	}
	if err := p.Apply(create); err != nil {
		t.Fatalf("Apply create: %v", err)
	}

	// Two concurrent SetRole ops on the same target; the lower HLC must
	// win regardless of application order (§4.3).
	early := &op.Record{
		OpId: ids.NewOpId(), SpaceId: spaceID, Type: op.SetRole, Author: kpAdmin.UserId(),
		HLC:     hlc.Clock{WallTimeMs: 10},
		Payload: mustPayload(t, op.SetRolePayload{Member: kpTarget.UserId(), Role: op.RoleModerator}),
	}
	late := &op.Record{
		OpId: ids.NewOpId(), SpaceId: spaceID, Type: op.SetRole, Author: kpAdmin.UserId(),
		HLC:     hlc.Clock{WallTimeMs: 20},
		Payload: mustPayload(t, op.SetRolePayload{Member: kpTarget.UserId(), Role: op.RoleAdmin}),
	}

	// Apply out of HLC order: late first, then early.
	if err := p.Apply(late); err != nil {
		t.Fatalf("Apply late: %v", err)
	}
	if err := p.Apply(early); err != nil {
		t.Fatalf("Apply early: %v", err)
	}

	s, _ := p.Space(spaceID)
	if s.Members[kpTarget.UserId()].Role != op.RoleModerator {
		t.Fatalf("expected lower-HLC SetRole to win, got role %v", s.Members[kpTarget.UserId()].Role)
	}
}

func TestMessagesOrderedByHLCRegardlessOfApplyOrder(t *testing.T) {
	kp, _ := identity.Generate()
	p := New()
	spaceID, channelID, threadID := ids.NewSpaceId(), ids.NewChannelId(), ids.NewThreadId()

	base := op.Record{SpaceId: spaceID, ChannelId: channelID, HasChannel: true, ThreadId: threadID, HasThread: true, Author: kp.UserId()}

	msg2 := base
	msg2.OpId, msg2.Type, msg2.HLC = ids.NewOpId(), op.PostMessage, hlc.Clock{WallTimeMs: 2}
	msg2.Payload = mustPayload(t, op.PostMessagePayload{CipherText: []byte("b")})

	msg1 := base
	msg1.OpId, msg1.Type, msg1.HLC = ids.NewOpId(), op.PostMessage, hlc.Clock{WallTimeMs: 1}
	msg1.Payload = mustPayload(t, op.PostMessagePayload{CipherText: []byte("a")})

	if err := p.Apply(&msg2); err != nil {
		t.Fatalf("Apply msg2: %v", err)
	}
	if err := p.Apply(&msg1); err != nil {
		t.Fatalf("Apply msg1: %v", err)
	}

	s, _ := p.Space(spaceID)
	msgs := s.Channels[channelID].Threads[threadID].Messages
	if len(msgs) != 2 || string(msgs[0].CipherText) != "a" || string(msgs[1].CipherText) != "b" {
		t.Fatalf("expected messages ordered [a, b] by HLC, got %+v", msgs)
	}
}

func TestPermissionViewRequiresAdminForAddMember(t *testing.T) {
	kpAdmin, _ := identity.Generate()
	kpOutsider, _ := identity.Generate()
	p := New()
	spaceID := ids.NewSpaceId()

	create := &op.Record{
		OpId: ids.NewOpId(), SpaceId: spaceID, Type: op.CreateSpace, Author: kpAdmin.UserId(),
		HLC: hlc.Clock{WallTimeMs: 1}, Payload: mustPayload(t, op.CreateSpacePayload{Name: "s"}),
	}
	if err := p.Apply(create); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	pv := PermissionView{P: p}
	if ok, _ := pv.HasPermission(spaceID, kpAdmin.UserId(), op.AddMember, nil); !ok {
		t.Fatalf("expected admin to have AddMember permission")
	}
	if ok, _ := pv.HasPermission(spaceID, kpOutsider.UserId(), op.AddMember, nil); ok {
		t.Fatalf("expected outsider to lack AddMember permission")
	}
}
