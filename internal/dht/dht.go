// Package dht implements the rendezvous (DHT) overlay (§4.6): a
// content-authenticated key-value overlay storing four record kinds
// (Space metadata, Key package, Operation batch, Relay advertisement),
// with query-tracked put/get against a pluggable quorum of peers.
//
// No Kademlia or other DHT library appears anywhere in the example
// pack's dependency graphs, so the overlay logic here — record
// authentication and quorum tracking — is built on stdlib concurrency primitives (context, sync) rather
// than a borrowed library; see DESIGN.md. The transport itself is
// abstracted behind the Transport interface so a real networked
// implementation can be swapped in without touching this package,
// mirroring the teacher's interface-seam style
// (_examples/luxfi-consensus/networking/tracker/interfaces.go: behavior
// expressed as a small interface, concrete implementations elsewhere).
package dht

import (
	"context"
	"sync"
	"time"

	"github.com/spaceway/spaceway/internal/errs"
	"github.com/spaceway/spaceway/internal/identity"
	"github.com/spaceway/spaceway/internal/ids"
)

// DefaultTimeout is the spec's default query-tracked put/get bound
// (§4.6: "timeout after a bound, default 30 s").
const DefaultTimeout = 30 * time.Second

// RecordKind is the closed set of DHT record kinds (§4.6).
type RecordKind uint8

const (
	SpaceMetadata RecordKind = iota + 1
	KeyPackage
	OperationBatch
	RelayAdvertisement
)

// KeyFor derives a record's DHT key per §4.6's key-derivation column.
func KeyFor(kind RecordKind, components ...[]byte) ids.ID32 {
	switch kind {
	case SpaceMetadata:
		return ids.DHTKey("space:", components...)
	case KeyPackage:
		return ids.DHTKey("keypackage:", components...)
	case OperationBatch:
		return ids.DHTKey("ops:", components...)
	case RelayAdvertisement:
		return ids.DHTKey("relay:", components...)
	default:
		return ids.DHTKey("unknown:", components...)
	}
}

// OperationBatchIndexKey derives the batch index key for a Space
// (§4.6: "index at H(\"opsindex:\" ‖ SpaceId)").
func OperationBatchIndexKey(space ids.SpaceId) ids.ID32 {
	return ids.DHTKey("opsindex:", space[:])
}

// Record is one signed, content-authenticated DHT record. The signature
// covers Kind, Key, Value and Author; a Record carries no
// protocol_version byte and is not wrapped in a wire.Envelope.
type Record struct {
	Kind      RecordKind
	Key       ids.ID32
	Value     []byte
	Author    ids.UserId
	Signature identity.Signature
}

// signingBytes is the canonical byte sequence a Record's signature
// covers: everything but the signature itself.
func (r Record) signingBytes() []byte {
	buf := make([]byte, 0, 1+len(r.Key)+len(r.Value)+len(r.Author))
	buf = append(buf, byte(r.Kind))
	buf = append(buf, r.Key[:]...)
	buf = append(buf, r.Author[:]...)
	buf = append(buf, r.Value...)
	return buf
}

// Sign sets r.Signature over r's canonical bytes using kp. The caller
// must have already set Author to kp.UserId().
func (r *Record) Sign(kp *identity.Keypair) {
	r.Signature = kp.Sign(r.signingBytes())
}

// Verify checks r.Signature against r.Author's public key.
func (r Record) Verify() bool {
	return identity.Verify(r.Author, r.signingBytes(), r.Signature)
}

// Transport is the pluggable peer-communication seam a DHT uses to
// actually reach quorum peers. A production implementation dials real
// peers; tests and single-process demos can use an in-memory
// implementation (see NewLoopback).
type Transport interface {
	// Peers returns the current candidate peer set for a key, most
	// typically the closest-by-XOR-distance peers this node knows of.
	Peers(key ids.ID32) []PeerId
	// PutTo pushes a record to a specific peer.
	PutTo(ctx context.Context, peer PeerId, rec Record) error
	// GetFrom fetches whatever records a specific peer holds for key.
	GetFrom(ctx context.Context, peer PeerId, key ids.ID32) ([]Record, error)
}

// PeerId identifies a DHT peer; left opaque to this package.
type PeerId string

// Overlay is the rendezvous DHT client (§4.6).
type Overlay struct {
	transport Transport
	timeout   time.Duration

	mu    sync.Mutex
	local map[ids.ID32][]Record // this node's own held records, for Peers() fan-out and local reads
}

// New constructs an Overlay over the given transport.
func New(transport Transport) *Overlay {
	return &Overlay{transport: transport, timeout: DefaultTimeout, local: make(map[ids.ID32][]Record)}
}

// Put replicates rec to quorum peers of rec.Key and returns once a
// terminal outcome is reached: quorum acknowledgements, or timeout
// (§4.6 "query-tracked ... single terminal outcome").
func (o *Overlay) Put(ctx context.Context, rec Record, quorum int) error {
	if !rec.Verify() {
		return errs.ErrBadSignature
	}

	o.mu.Lock()
	o.local[rec.Key] = mergeLatestPerAuthor(o.local[rec.Key], rec)
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	peers := o.transport.Peers(rec.Key)
	if len(peers) == 0 {
		if quorum <= 1 {
			return nil // this node itself counts as the sole replica
		}
		return errs.ErrQuorumFailed
	}

	type outcome struct{ err error }
	results := make(chan outcome, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			results <- outcome{err: o.transport.PutTo(ctx, p, rec)}
		}()
	}

	acked := 0
	for i := 0; i < len(peers); i++ {
		select {
		case r := <-results:
			if r.err == nil {
				acked++
				if acked >= quorum {
					return nil
				}
			}
		case <-ctx.Done():
			return errs.ErrTimeout
		}
	}
	if acked >= quorum {
		return nil
	}
	return errs.ErrQuorumFailed
}

// Get fetches every record known for key across quorum peers (plus
// any local copy), deduplicated by author, returning a terminal
// outcome as Put does.
func (o *Overlay) Get(ctx context.Context, key ids.ID32, quorum int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	o.mu.Lock()
	merged := append([]Record(nil), o.local[key]...)
	o.mu.Unlock()

	peers := o.transport.Peers(key)
	if len(peers) == 0 {
		if len(merged) > 0 || quorum <= 1 {
			return merged, nil
		}
		return nil, errs.ErrQuorumFailed
	}

	type outcome struct {
		recs []Record
		err  error
	}
	results := make(chan outcome, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			recs, err := o.transport.GetFrom(ctx, p, key)
			results <- outcome{recs: recs, err: err}
		}()
	}

	responded := 0
	for i := 0; i < len(peers); i++ {
		select {
		case r := <-results:
			if r.err == nil {
				responded++
				for _, rec := range r.recs {
					if rec.Verify() {
						merged = mergeLatestPerAuthor(merged, rec)
					}
				}
			}
		case <-ctx.Done():
			if responded >= quorum {
				return merged, nil
			}
			return merged, errs.ErrTimeout
		}
	}
	if responded < quorum && len(merged) == 0 {
		return nil, errs.ErrQuorumFailed
	}
	return merged, nil
}

// mergeLatestPerAuthor keeps, for each author, only the most recently
// inserted record — matching §4.6's "duplicate concurrent puts for the
// same key overwrite per peer".
func mergeLatestPerAuthor(existing []Record, rec Record) []Record {
	out := make([]Record, 0, len(existing)+1)
	replaced := false
	for _, e := range existing {
		if e.Author == rec.Author {
			out = append(out, rec)
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, rec)
	}
	return out
}
