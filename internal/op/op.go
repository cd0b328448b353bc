// Package op implements the spec's operation record (§3): a signed,
// causally-linked description of a single state change, and the closed
// OpType sum type it carries.
//
// Per §9's "polymorphism over op types" design note, OpType is a closed
// tagged variant dispatched with a type switch — not an open class
// hierarchy. This mirrors the teacher's dag.Block (a flat struct with a
// Payload []byte, see _examples/luxfi-consensus/dag/dag.go) generalized
// from a single payload kind to the spec's twelve operation kinds.
package op

import (
	"github.com/spaceway/spaceway/internal/hlc"
	"github.com/spaceway/spaceway/internal/identity"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/wire"
)

// OpType is the closed set of operation kinds from §3.
type OpType uint8

const (
	CreateSpace OpType = iota + 1
	UpdateSpaceVisibility
	CreateChannel
	CreateThread
	PostMessage
	AddMember
	RemoveMember
	SetRole
	CreateInvite
	UseInvite
	KeyCommit
	WelcomeRef
)

func (t OpType) String() string {
	switch t {
	case CreateSpace:
		return "CreateSpace"
	case UpdateSpaceVisibility:
		return "UpdateSpaceVisibility"
	case CreateChannel:
		return "CreateChannel"
	case CreateThread:
		return "CreateThread"
	case PostMessage:
		return "PostMessage"
	case AddMember:
		return "AddMember"
	case RemoveMember:
		return "RemoveMember"
	case SetRole:
		return "SetRole"
	case CreateInvite:
		return "CreateInvite"
	case UseInvite:
		return "UseInvite"
	case KeyCommit:
		return "KeyCommit"
	case WelcomeRef:
		return "WelcomeRef"
	default:
		return "Unknown"
	}
}

// IsKeyTransition reports whether the op type is a key-transition
// operation (KeyCommit/WelcomeRef), exempted from the validator's
// epoch-match check per §4.1 step 4.
func (t OpType) IsKeyTransition() bool {
	return t == KeyCommit || t == WelcomeRef
}

// Role is a member's permission level within a Space (§3).
type Role uint8

const (
	RoleMember Role = iota
	RoleModerator
	RoleAdmin
)

// Visibility is a Space's visibility level (§3).
type Visibility uint8

const (
	VisibilityPublic Visibility = iota
	VisibilityPrivate
	VisibilityHidden
)

// Record is the signed operation payload described in §3. Fields are
// CBOR field-numbered (`cbor:"N,keyasint"`) for forward compatibility,
// per §6.
type Record struct {
	OpId      ids.OpId    `cbor:"0,keyasint"`
	SpaceId   ids.SpaceId `cbor:"1,keyasint"`
	ChannelId ids.ChannelId `cbor:"2,keyasint"`
	HasChannel bool       `cbor:"3,keyasint"`
	ThreadId  ids.ThreadId `cbor:"4,keyasint"`
	HasThread bool        `cbor:"5,keyasint"`
	Type      OpType      `cbor:"6,keyasint"`
	PrevOps   []ids.OpId  `cbor:"7,keyasint"`
	Author    ids.UserId  `cbor:"8,keyasint"`
	Epoch     ids.EpochId `cbor:"9,keyasint"`
	HLC       hlc.Clock   `cbor:"10,keyasint"`
	WallTimestampS int64  `cbor:"11,keyasint"`
	// Payload is the CBOR-encoded type-specific body; decode with
	// DecodePayload(Type, Payload).
	Payload []byte `cbor:"12,keyasint"`
	// Signature is excluded from the canonical signing bytes (§3: "over
	// a canonical encoding excluding the signature field").
	Signature identity.Signature `cbor:"13,keyasint"`
}

// signingView is Record with the signature omitted, used to build the
// canonical bytes a signature is computed/verified over.
type signingView struct {
	OpId           ids.OpId      `cbor:"0,keyasint"`
	SpaceId        ids.SpaceId   `cbor:"1,keyasint"`
	ChannelId      ids.ChannelId `cbor:"2,keyasint"`
	HasChannel     bool          `cbor:"3,keyasint"`
	ThreadId       ids.ThreadId  `cbor:"4,keyasint"`
	HasThread      bool          `cbor:"5,keyasint"`
	Type           OpType        `cbor:"6,keyasint"`
	PrevOps        []ids.OpId    `cbor:"7,keyasint"`
	Author         ids.UserId    `cbor:"8,keyasint"`
	Epoch          ids.EpochId   `cbor:"9,keyasint"`
	HLC            hlc.Clock     `cbor:"10,keyasint"`
	WallTimestampS int64         `cbor:"11,keyasint"`
	Payload        []byte        `cbor:"12,keyasint"`
}

// SigningBytes returns the canonical encoding of r excluding the
// signature field.
func (r *Record) SigningBytes() ([]byte, error) {
	view := signingView{
		OpId: r.OpId, SpaceId: r.SpaceId, ChannelId: r.ChannelId,
		HasChannel: r.HasChannel, ThreadId: r.ThreadId, HasThread: r.HasThread,
		Type: r.Type, PrevOps: r.PrevOps, Author: r.Author, Epoch: r.Epoch,
		HLC: r.HLC, WallTimestampS: r.WallTimestampS, Payload: r.Payload,
	}
	return wire.Marshal(view)
}

// Sign computes SigningBytes and sets r.Signature using kp. The caller
// must have already set Author to kp.UserId().
func (r *Record) Sign(kp *identity.Keypair) error {
	b, err := r.SigningBytes()
	if err != nil {
		return err
	}
	r.Signature = kp.Sign(b)
	return nil
}

// VerifySignature checks r.Signature against r.Author's public key over
// r's canonical signing bytes (§4.1 step 2).
func (r *Record) VerifySignature() (bool, error) {
	b, err := r.SigningBytes()
	if err != nil {
		return false, err
	}
	return identity.Verify(r.Author, b, r.Signature), nil
}

// Frontier is the set of currently-latest accepted operation IDs with
// no known successors (§9's glossary), used as prev_ops for new ops.
type Frontier map[ids.OpId]struct{}

// NewFrontier returns an empty frontier.
func NewFrontier() Frontier { return make(Frontier) }

// Add inserts an op id into the frontier.
func (f Frontier) Add(id ids.OpId) { f[id] = struct{}{} }

// Remove deletes an op id from the frontier (its successor has arrived).
func (f Frontier) Remove(id ids.OpId) { delete(f, id) }

// List returns the frontier's members as a slice, used to populate
// PrevOps on a newly-authored operation.
func (f Frontier) List() []ids.OpId {
	out := make([]ids.OpId, 0, len(f))
	for id := range f {
		out = append(out, id)
	}
	return out
}

// Advance updates the frontier after accepting op: op joins the
// frontier, and each of its prev_ops is removed (it now has a known
// successor).
func (f Frontier) Advance(opID ids.OpId, prevOps []ids.OpId) {
	for _, p := range prevOps {
		f.Remove(p)
	}
	f.Add(opID)
}
