// Package errs defines the error taxonomy from the spec's error handling
// design: Validation, Causality, Crypto, Network, Storage, and Policy
// families, each a sentinel wrapped with cockroachdb/errors so call sites
// keep a stack trace without having to hand-roll one.
package errs

import "github.com/cockroachdb/errors"

// Validation family.
var (
	ErrDuplicate     = errors.New("duplicate operation")
	ErrBadSignature  = errors.New("invalid signature")
	ErrStaleEpoch    = errors.New("stale epoch")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMalformed     = errors.New("malformed operation")
)

// Causality family.
var ErrMissingPredecessor = errors.New("missing causal predecessor")

// Crypto family.
var (
	ErrBadKey           = errors.New("bad key")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrCommitRejected   = errors.New("commit rejected")
)

// Network family.
var (
	ErrQuorumFailed = errors.New("quorum failed")
	ErrTimeout      = errors.New("timeout")
	ErrNotConnected = errors.New("not connected")
)

// Storage family.
var (
	ErrCorrupt       = errors.New("corrupt storage")
	ErrIOFailed      = errors.New("io failed")
	ErrSerialization = errors.New("serialization failed")
)

// Policy family.
var (
	ErrPermissionDenied    = errors.New("permission denied")
	ErrRoleRuleViolation   = errors.New("role rule violation")
)

// Wrap attaches additional context to an existing sentinel, preserving
// errors.Is matching against the sentinel.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
