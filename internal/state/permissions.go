package state

import (
	"github.com/spaceway/spaceway/internal/errs"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/op"
)

// Adapters satisfying the validator package's collaborator interfaces
// (validator.SpaceEpoch, validator.PermissionChecker,
// validator.ShapeChecker) over a Projection; validator.AcceptedSet is
// satisfied outside this package, by the façade's store adapter.
// The validator is deliberately decoupled from state's concrete types, so
// these adapters are the seam where the two packages meet (§4.1, §4.4).

// Log has the method set of validator.AcceptedSet, the accepted-operation
// log the validator consults for duplicate/causal checks. None of the
// adapters below hold or consult one.
type Log interface {
	Has(id ids.OpId) bool
	Get(id ids.OpId) (*op.Record, bool)
}

// EpochView adapts a Projection to validator.SpaceEpoch.
type EpochView struct{ P *Projection }

func (e EpochView) CurrentEpoch(space ids.SpaceId) (ids.EpochId, bool) {
	s, ok := e.P.Space(space)
	if !ok {
		return 0, false
	}
	return s.Epoch, true
}

// PermissionView adapts a Projection to validator.PermissionChecker,
// implementing the role requirements named in §3's GLOSSARY
// (member/moderator/admin) for each operation kind. Roles are read from
// the projection's current state; the prevOps argument is ignored, so an
// op is checked against its author's present role, not the role folded
// through its own prev_ops.
type PermissionView struct{ P *Projection }

func (pv PermissionView) HasPermission(space ids.SpaceId, author ids.UserId, opType op.OpType, prevOps []ids.OpId) (bool, error) {
	s, ok := pv.P.Space(space)
	if !ok {
		// Creating a Space has no pre-existing membership to check.
		return opType == op.CreateSpace, nil
	}

	switch opType {
	case op.CreateSpace:
		// A SpaceId is only reused by concurrent creation attempts; both
		// are permitted and the CRDT tie-break in Apply picks a winner.
		return true, nil

	case op.PostMessage, op.CreateThread:
		return pv.isActiveMember(s, author), nil

	case op.CreateChannel, op.UpdateSpaceVisibility:
		return pv.hasRoleAtLeast(s, author, op.RoleModerator), nil

	case op.AddMember, op.RemoveMember, op.SetRole, op.CreateInvite:
		return pv.hasRoleAtLeast(s, author, op.RoleAdmin), nil

	case op.UseInvite:
		// Anyone holding a valid, unconsumed invite code may redeem it;
		// the shape checker validates the code itself (§4.1 step 6).
		return true, nil

	case op.KeyCommit:
		return pv.isActiveMember(s, author), nil

	case op.WelcomeRef:
		return pv.hasRoleAtLeast(s, author, op.RoleAdmin), nil

	default:
		return false, errs.ErrMalformed
	}
}

func (pv PermissionView) isActiveMember(s *Space, user ids.UserId) bool {
	m, ok := s.Members[user]
	return ok && !m.Removed
}

func (pv PermissionView) hasRoleAtLeast(s *Space, user ids.UserId, min op.Role) bool {
	m, ok := s.Members[user]
	if !ok || m.Removed {
		return false
	}
	return m.Role >= min
}

// ShapeView adapts a Projection to validator.ShapeChecker, checking
// op-type-specific structural constraints (§4.1 step 6).
type ShapeView struct{ P *Projection }

func (sv ShapeView) CheckShape(r *op.Record) error {
	switch r.Type {
	case op.CreateSpace:
		p, err := op.DecodeCreateSpace(r.Payload)
		if err != nil {
			return err
		}
		if p.Name == "" {
			return errs.ErrMalformed
		}

	case op.CreateChannel:
		p, err := op.DecodeCreateChannel(r.Payload)
		if err != nil {
			return err
		}
		if p.Name == "" || !r.HasChannel {
			return errs.ErrMalformed
		}

	case op.CreateThread:
		p, err := op.DecodeCreateThread(r.Payload)
		if err != nil {
			return err
		}
		if p.Title == "" || !r.HasThread {
			return errs.ErrMalformed
		}
		if _, ok := sv.channel(r); !ok {
			return errs.ErrMalformed
		}

	case op.PostMessage:
		if !r.HasThread {
			return errs.ErrMalformed
		}
		if _, ok := sv.thread(r); !ok {
			return errs.ErrMalformed
		}

	case op.AddMember, op.RemoveMember, op.SetRole:
		// No structural check is made for these op types here; their
		// payloads are decoded only when the projection applies them.

	case op.UseInvite:
		p, err := op.DecodeUseInvite(r.Payload)
		if err != nil {
			return err
		}
		s, ok := sv.P.Space(r.SpaceId)
		if !ok {
			return errs.ErrMalformed
		}
		inv, ok := s.Invites[p.InviteCode]
		if !ok || inv.Consumed {
			return errs.ErrMalformed
		}
	}
	return nil
}

func (sv ShapeView) channel(r *op.Record) (*Channel, bool) {
	s, ok := sv.P.Space(r.SpaceId)
	if !ok {
		return nil, false
	}
	ch, ok := s.Channels[r.ChannelId]
	return ch, ok
}

func (sv ShapeView) thread(r *op.Record) (*Thread, bool) {
	ch, ok := sv.channel(r)
	if !ok {
		return nil, false
	}
	th, ok := ch.Threads[r.ThreadId]
	return th, ok
}
