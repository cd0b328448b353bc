// Package validator implements the operation validator (§4.1): given an
// incoming operation and the current set of accepted operations, decide
// Accept, Reject(reason), or Defer(missing predecessors).
//
// Grounded on the teacher's vertex lifecycle
// (_examples/luxfi-consensus/engine/dag/vertex.go Verify/Accept/Reject)
// generalized from a single Verify call to the spec's six ordered
// checks, and its id-keyed arena-and-index design
// (_examples/luxfi-consensus/dag/dag.go DAG.blocks map[BlockID]*Block)
// for "operations live in a keyed store by id" (§9).
package validator

import (
	"github.com/spaceway/spaceway/internal/errs"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/log"
	"github.com/spaceway/spaceway/internal/op"
)

// Verdict is the validator's outcome for one operation.
type Verdict int

const (
	Accept Verdict = iota
	Reject
	Defer
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "Accept"
	case Reject:
		return "Reject"
	case Defer:
		return "Defer"
	default:
		return "Unknown"
	}
}

// Result is the full outcome of validating one operation.
type Result struct {
	Verdict Verdict
	// Reason is set when Verdict == Reject.
	Reason error
	// Missing is set when Verdict == Defer: the prev_ops not yet known
	// locally.
	Missing []ids.OpId
}

// AcceptedSet is read-only access to the set of operations already
// accepted locally — the "current set of accepted operations" the
// contract is defined against.
type AcceptedSet interface {
	// Has reports whether id has already been accepted.
	Has(id ids.OpId) bool
	// Get returns the accepted operation record by id.
	Get(id ids.OpId) (*op.Record, bool)
}

// SpaceEpoch reports the current epoch for a Space and the highest
// epoch for which a commit is locally known, used by the epoch check
// (§4.1 step 4) and the late-epoch policy decided in SPEC_FULL.md §6(a).
type SpaceEpoch interface {
	CurrentEpoch(space ids.SpaceId) (ids.EpochId, bool)
}

// PermissionChecker answers whether a user holds the permission implied
// by an op type, as materialized through prev_ops (§4.1 step 5). The
// validator does not materialize state itself — that is the state
// package's job — it only asks this narrow question, keeping the
// validator pure with respect to the operation set.
type PermissionChecker interface {
	// HasPermission reports whether author holds the permission implied
	// by opType in space, as of the state folded through prevOps.
	HasPermission(space ids.SpaceId, author ids.UserId, opType op.OpType, prevOps []ids.OpId) (bool, error)
}

// ShapeChecker validates op-type-specific structural constraints (§4.1
// step 6): non-empty names, valid parent existence, etc.
type ShapeChecker interface {
	CheckShape(r *op.Record) error
}

// Validator implements the ordered six-step contract from §4.1. It is
// pure with respect to the accepted operation set: the same (op,
// AcceptedSet) pair always yields the same Result, which is the
// foundation of convergence (§4.1).
type Validator struct {
	accepted    AcceptedSet
	epochs      SpaceEpoch
	permissions PermissionChecker
	shape       ShapeChecker
	log         log.Logger
}

// New constructs a Validator over the given collaborators.
func New(accepted AcceptedSet, epochs SpaceEpoch, permissions PermissionChecker, shape ShapeChecker, logger log.Logger) *Validator {
	if logger == nil {
		logger = log.NewNoOp()
	}
	return &Validator{accepted: accepted, epochs: epochs, permissions: permissions, shape: shape, log: logger}
}

// Validate runs the six ordered checks from §4.1 against r.
func (v *Validator) Validate(r *op.Record) Result {
	// 1. Duplicate.
	if v.accepted.Has(r.OpId) {
		return Result{Verdict: Reject, Reason: errs.ErrDuplicate}
	}

	// 2. Signature.
	ok, err := r.VerifySignature()
	if err != nil || !ok {
		return Result{Verdict: Reject, Reason: errs.ErrBadSignature}
	}

	// 3. Causal readiness.
	var missing []ids.OpId
	for _, p := range r.PrevOps {
		if !v.accepted.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return Result{Verdict: Defer, Missing: missing}
	}

	// 4. Epoch: key-transition ops skip this check; any other op is
	// rejected only when its epoch is ahead of the Space's current epoch
	// (SPEC_FULL.md §6(a)). A late op is accepted and folded rather than
	// rejected, provided its prev_ops are already satisfied (checked
	// above); permission is then checked below against the current
	// projection, not against the op's own epoch.
	if !r.Type.IsKeyTransition() {
		current, known := v.epochs.CurrentEpoch(r.SpaceId)
		if known && r.Epoch > current {
			return Result{Verdict: Reject, Reason: errs.ErrStaleEpoch}
		}
	}

	// 5. Semantic/permission.
	authorized, err := v.permissions.HasPermission(r.SpaceId, r.Author, r.Type, r.PrevOps)
	if err != nil {
		return Result{Verdict: Reject, Reason: errs.Wrap(errs.ErrUnauthorized, err.Error())}
	}
	if !authorized {
		return Result{Verdict: Reject, Reason: errs.ErrUnauthorized}
	}

	// 6. Shape.
	if v.shape != nil {
		if err := v.shape.CheckShape(r); err != nil {
			return Result{Verdict: Reject, Reason: errs.Wrap(errs.ErrMalformed, err.Error())}
		}
	}

	return Result{Verdict: Accept}
}
