// Package identity implements long-term Ed25519 signing keys. A user's
// UserId is their public key; operation records are signed with the
// corresponding private key. Grounded on the reference implementation's
// core/src/crypto/signing.rs (Keypair/PublicKey over ed25519-dalek),
// rewritten over Go's stdlib crypto/ed25519 (the real library underlying
// golang.org/x/crypto's Ed25519 support, already in the teacher's
// require graph).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/spaceway/spaceway/internal/errs"
	"github.com/spaceway/spaceway/internal/ids"
)

// Signature is a 64-byte Ed25519 signature.
type Signature [ed25519.SignatureSize]byte

// Keypair is a node's long-term signing identity.
type Keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// Generate creates a new random Ed25519 keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(err, "identity: generate keypair")
	}
	return &Keypair{public: pub, private: priv}, nil
}

// FromSeed deterministically derives a keypair from a 32-byte seed, used
// to load an identity from a persisted identity file.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errs.Wrap(errs.ErrBadKey, "identity: seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// Seed returns the 32-byte seed this keypair was derived from, suitable
// for persisting to an identity file. The caller owns redacting this
// value from logs.
func (k *Keypair) Seed() []byte {
	return k.private.Seed()
}

// UserId returns the UserId (public key) for this keypair.
func (k *Keypair) UserId() ids.UserId {
	var id ids.UserId
	copy(id[:], k.public)
	return id
}

// Sign signs canonical-encoded bytes (the operation record's canonical
// encoding excluding the signature field, per §3).
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}

// Verify checks a signature against a UserId's public key.
func Verify(user ids.UserId, message []byte, sig Signature) bool {
	pub := ed25519.PublicKey(user[:])
	return ed25519.Verify(pub, message, sig[:])
}
