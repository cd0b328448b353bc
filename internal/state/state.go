// Package state implements the state materializer (§4.4): an
// in-memory projection of each Space built by folding accepted
// operations in any topological order of the causal DAG, with
// deterministic conflict resolution (§4.3) so that folding the same
// operation set in a different order yields a byte-identical
// projection.
//
// Grounded on the teacher's vertex-set projection
// (_examples/luxfi-consensus/engine/dag) generalized from consensus
// status bits to the spec's richer per-entity folds, and on
// _examples/luxfi-consensus/utils/set for the grow-only member/channel
// collections.
package state

import (
	"sort"

	"github.com/spaceway/spaceway/internal/hlc"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/op"
)

// Space is the materialized projection of one Space (§4.4).
type Space struct {
	Id          ids.SpaceId
	Name        string
	Description string
	Visibility  op.Visibility
	Owner       ids.UserId
	Epoch       ids.EpochId

	// nameStamp/descStamp/visStamp track the winning write's tie-break
	// key for each last-writer-wins field (§4.3).
	nameStamp tieBreak
	descStamp tieBreak
	visStamp  tieBreak

	Members  map[ids.UserId]*Member
	Channels map[ids.ChannelId]*Channel
	Invites  map[[16]byte]*Invite
}

// Member is a Space member's materialized role.
type Member struct {
	User      ids.UserId
	Role      op.Role
	Removed   bool
	roleStamp tieBreak
	addStamp  tieBreak
}

// Channel is a materialized channel within a Space.
type Channel struct {
	Id        ids.ChannelId
	Name      string
	Removed   bool
	Threads   map[ids.ThreadId]*Thread
	addStamp  tieBreak
}

// Thread is a materialized thread within a Channel.
type Thread struct {
	Id       ids.ThreadId
	Title    string
	Messages []*Message
	addStamp tieBreak
}

// Message is one append-only posted message (§4.3: "never conflicts").
type Message struct {
	Id     ids.OpId
	Author ids.UserId
	HLC    hlc.Clock
	CipherText []byte
	Nonce      []byte
}

// Invite is a materialized, not-yet-consumed invite.
type Invite struct {
	Code     [16]byte
	Role     op.Role
	Consumed bool
}

// tieBreak is the §4.3 deterministic conflict-resolution key: lower HLC
// wins, then lower (author, op_id) lexicographically.
type tieBreak struct {
	clock  hlc.Clock
	author ids.UserId
	opID   ids.OpId
	set    bool
}

// wins reports whether candidate should replace the current winner per
// §4.3 rule 1/2.
func (cur tieBreak) wins(cand tieBreak) bool {
	if !cur.set {
		return true
	}
	if cand.clock.Less(cur.clock) {
		return true
	}
	if cur.clock.Less(cand.clock) {
		return false
	}
	if cand.author != cur.author {
		return lessUserId(cand.author, cur.author)
	}
	return lessOpId(cand.opID, cur.opID)
}

func lessUserId(a, b ids.UserId) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func lessOpId(a, b ids.OpId) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Projection holds every Space materialized so far, plus the seal
// point (§4.4: "the HLC up to which all known operations have been
// applied").
type Projection struct {
	spaces map[ids.SpaceId]*Space
	seal   hlc.Clock
}

// New returns an empty Projection.
func New() *Projection {
	return &Projection{spaces: make(map[ids.SpaceId]*Space)}
}

// SealPoint returns the highest HLC among all operations folded so
// far.
func (p *Projection) SealPoint() hlc.Clock { return p.seal }

// Space returns the materialized Space by id, if known.
func (p *Projection) Space(id ids.SpaceId) (*Space, bool) {
	s, ok := p.spaces[id]
	return s, ok
}

// ListSpaces returns every known Space, sorted by id for deterministic
// iteration (§4.4 list_spaces).
func (p *Projection) ListSpaces() []*Space {
	out := make([]*Space, 0, len(p.spaces))
	for _, s := range p.spaces {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id.String() < out[j].Id.String() })
	return out
}

func (p *Projection) space(id ids.SpaceId) *Space {
	s, ok := p.spaces[id]
	if !ok {
		s = &Space{
			Id:       id,
			Members:  make(map[ids.UserId]*Member),
			Channels: make(map[ids.ChannelId]*Channel),
			Invites:  make(map[[16]byte]*Invite),
		}
		p.spaces[id] = s
	}
	return s
}

// Apply folds one accepted operation into the projection. Apply is a
// pure function of (r, current projection state): folding the same
// set of operations in any order converges to the same result (§4.3,
// §4.4), because every mutation here goes through the tieBreak
// last-writer-wins comparison or is a commutative grow/tombstone.
func (p *Projection) Apply(r *op.Record) error {
	stamp := tieBreak{clock: r.HLC, author: r.Author, opID: r.OpId, set: true}

	switch r.Type {
	case op.CreateSpace:
		payload, err := op.DecodeCreateSpace(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		if s.nameStamp.wins(stamp) {
			s.Name = payload.Name
			s.nameStamp = stamp
		}
		if s.descStamp.wins(stamp) {
			s.Description = payload.Description
			s.descStamp = stamp
		}
		if s.visStamp.wins(stamp) {
			s.Visibility = payload.Visibility
			s.visStamp = stamp
		}
		if s.Owner.IsEmpty() {
			s.Owner = r.Author
		}
		p.applyMemberAdd(s, r.Author, op.RoleAdmin, stamp)

	case op.UpdateSpaceVisibility:
		payload, err := op.DecodeUpdateSpaceVisibility(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		if s.visStamp.wins(stamp) {
			s.Visibility = payload.Visibility
			s.visStamp = stamp
		}

	case op.CreateChannel:
		payload, err := op.DecodeCreateChannel(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		ch, ok := s.Channels[r.ChannelId]
		if !ok {
			ch = &Channel{Id: r.ChannelId, Threads: make(map[ids.ThreadId]*Thread)}
			s.Channels[r.ChannelId] = ch
		}
		if ch.addStamp.wins(stamp) {
			ch.Name = payload.Name
			ch.addStamp = stamp
		}

	case op.CreateThread:
		payload, err := op.DecodeCreateThread(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		ch, ok := s.Channels[r.ChannelId]
		if !ok {
			ch = &Channel{Id: r.ChannelId, Threads: make(map[ids.ThreadId]*Thread)}
			s.Channels[r.ChannelId] = ch
		}
		th, ok := ch.Threads[r.ThreadId]
		if !ok {
			th = &Thread{Id: r.ThreadId}
			ch.Threads[r.ThreadId] = th
		}
		if th.addStamp.wins(stamp) {
			th.Title = payload.Title
			th.addStamp = stamp
		}

	case op.PostMessage:
		payload, err := op.DecodePostMessage(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		ch, ok := s.Channels[r.ChannelId]
		if !ok {
			ch = &Channel{Id: r.ChannelId, Threads: make(map[ids.ThreadId]*Thread)}
			s.Channels[r.ChannelId] = ch
		}
		th, ok := ch.Threads[r.ThreadId]
		if !ok {
			th = &Thread{Id: r.ThreadId}
			ch.Threads[r.ThreadId] = th
		}
		th.Messages = append(th.Messages, &Message{
			Id: r.OpId, Author: r.Author, HLC: r.HLC,
			CipherText: payload.CipherText, Nonce: payload.Nonce,
		})
		sort.SliceStable(th.Messages, func(i, j int) bool {
			return th.Messages[i].HLC.Less(th.Messages[j].HLC)
		})

	case op.AddMember:
		payload, err := op.DecodeAddMember(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		p.applyMemberAdd(s, payload.Member, payload.Role, stamp)

	case op.RemoveMember:
		payload, err := op.DecodeRemoveMember(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		if m, ok := s.Members[payload.Member]; ok && m.roleStamp.wins(stamp) {
			m.Removed = true
			m.roleStamp = stamp
		}

	case op.SetRole:
		payload, err := op.DecodeSetRole(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		m, ok := s.Members[payload.Member]
		if !ok {
			m = &Member{User: payload.Member}
			s.Members[payload.Member] = m
		}
		if m.roleStamp.wins(stamp) {
			m.Role = payload.Role
			m.roleStamp = stamp
		}

	case op.CreateInvite:
		payload, err := op.DecodeCreateInvite(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		if _, ok := s.Invites[payload.InviteCode]; !ok {
			s.Invites[payload.InviteCode] = &Invite{Code: payload.InviteCode, Role: payload.Role}
		}

	case op.UseInvite:
		payload, err := op.DecodeUseInvite(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		if inv, ok := s.Invites[payload.InviteCode]; ok {
			inv.Consumed = true
			p.applyMemberAdd(s, r.Author, inv.Role, stamp)
		}

	case op.KeyCommit:
		payload, err := op.DecodeKeyCommit(r.Payload)
		if err != nil {
			return err
		}
		s := p.space(r.SpaceId)
		if payload.NewEpoch > s.Epoch {
			s.Epoch = payload.NewEpoch
		}

	case op.WelcomeRef:
		// WelcomeRef carries no projected state of its own; the new
		// member's membership is established by the AddMember/UseInvite
		// op that triggered it.
	}

	if p.seal.Less(r.HLC) {
		p.seal = r.HLC
	}
	return nil
}

func (p *Projection) applyMemberAdd(s *Space, user ids.UserId, role op.Role, stamp tieBreak) {
	m, ok := s.Members[user]
	if !ok {
		m = &Member{User: user, Role: role, addStamp: stamp, roleStamp: stamp}
		s.Members[user] = m
		return
	}
	if m.roleStamp.wins(stamp) {
		m.Role = role
		m.roleStamp = stamp
	}
}
