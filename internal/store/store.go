// Package store implements the persistent store (§6): a
// pebble-backed key-value database partitioned into the column
// families the spec's wire layout names — accepted operations indexed
// by id and by Space/Thread/User, blob metadata, per-Space vector
// clocks, tombstones, and relay advertisements.
//
// Grounded on the teacher's key-value seam
// (_examples/luxfi-consensus/crypto/database/database.go: Reader,
// Writer, Batch, Database) adapted from an in-memory/generic KV store
// to a concrete github.com/cockroachdb/pebble-backed implementation,
// since pebble is already part of the teacher's own dependency graph.
package store

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"github.com/spaceway/spaceway/internal/errs"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/op"
	"github.com/spaceway/spaceway/internal/wire"
)

// Family is a logical column family, implemented as a key prefix byte
// since pebble (unlike RocksDB) has no native column-family concept.
type Family byte

const (
	FamilyOps             Family = iota // op id -> encoded op.Record
	FamilySpaceOps                      // SpaceId || op id -> {} (index)
	FamilyThreadMessages                // ChannelId || ThreadId || HLC || op id -> op id (index)
	FamilyUserMessages                  // UserId || HLC || op id -> op id (index)
	FamilyBlobMetadata                  // content hash -> blob metadata
	FamilyVectorClocks                  // SpaceId -> encoded frontier
	FamilyTombstones                    // entity id -> tombstone marker
	FamilyRelays                        // relay id -> relay advertisement
)

// Reader reads from the store, matching the teacher's
// crypto/database.Reader shape.
type Reader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// Writer writes to the store, matching the teacher's
// crypto/database.Writer shape.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Batch is an atomic group of writes, matching the teacher's
// crypto/database.Batch shape.
type Batch interface {
	Writer
	Size() int
	Commit() error
	Reset()
}

// Store is the top-level persistent store, one instance per node data
// directory.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a Store rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errs.Wrap(errs.ErrIOFailed, "store: open: "+err.Error())
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Wrap(errs.ErrIOFailed, "store: close: "+err.Error())
	}
	return nil
}

func familyKey(f Family, key []byte) []byte {
	out := make([]byte, 0, 1+len(key))
	out = append(out, byte(f))
	return append(out, key...)
}

// Has reports whether key exists within family f.
func (s *Store) Has(f Family, key []byte) (bool, error) {
	_, closer, err := s.db.Get(familyKey(f, key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.ErrIOFailed, "store: has: "+err.Error())
	}
	closer.Close()
	return true, nil
}

// Get returns the value stored for key within family f.
func (s *Store) Get(f Family, key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(familyKey(f, key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrIOFailed, "store: get: "+err.Error())
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

// Put writes value for key within family f.
func (s *Store) Put(f Family, key, value []byte) error {
	if err := s.db.Set(familyKey(f, key), value, pebble.Sync); err != nil {
		return errs.Wrap(errs.ErrIOFailed, "store: put: "+err.Error())
	}
	return nil
}

// Delete removes key within family f.
func (s *Store) Delete(f Family, key []byte) error {
	if err := s.db.Delete(familyKey(f, key), pebble.Sync); err != nil {
		return errs.Wrap(errs.ErrIOFailed, "store: delete: "+err.Error())
	}
	return nil
}

// ScanPrefix calls fn for every key/value in family f whose key starts
// with prefix, in key order, stopping early if fn returns false.
func (s *Store) ScanPrefix(f Family, prefix []byte, fn func(key, value []byte) bool) error {
	lower := familyKey(f, prefix)
	upper := append(append([]byte{}, lower...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errs.Wrap(errs.ErrIOFailed, "store: scan: "+err.Error())
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := bytes.TrimPrefix(iter.Key(), []byte{byte(f)})
		if !fn(key, iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// batch wraps pebble.Batch to satisfy Batch.
type batch struct {
	b *pebble.Batch
}

// NewBatch returns a new atomic write batch.
func (s *Store) NewBatch() Batch { return &batch{b: s.db.NewBatch()} }

func (bt *batch) Put(key, value []byte) error { return bt.b.Set(key, value, nil) }
func (bt *batch) Delete(key []byte) error     { return bt.b.Delete(key, nil) }
func (bt *batch) Size() int                   { return len(bt.b.Repr()) }
func (bt *batch) Reset()                      { bt.b.Reset() }
func (bt *batch) Commit() error {
	if err := bt.b.Commit(pebble.Sync); err != nil {
		return errs.Wrap(errs.ErrIOFailed, "store: batch commit: "+err.Error())
	}
	return nil
}

// PutOp persists an accepted operation and its index entries
// (FamilySpaceOps, and FamilyThreadMessages/FamilyUserMessages for
// PostMessage) in a single atomic batch.
func (s *Store) PutOp(r *op.Record) error {
	encoded, err := wire.Marshal(r)
	if err != nil {
		return errs.Wrap(errs.ErrSerialization, "store: encode op: "+err.Error())
	}

	b := s.NewBatch()
	if err := b.Put(familyKey(FamilyOps, r.OpId[:]), encoded); err != nil {
		return err
	}
	spaceIdxKey := append(append([]byte{}, r.SpaceId[:]...), r.OpId[:]...)
	if err := b.Put(familyKey(FamilySpaceOps, spaceIdxKey), nil); err != nil {
		return err
	}
	if r.Type == op.PostMessage && r.HasThread {
		userIdxKey := append(append([]byte{}, r.Author[:]...), hlcBytes(r)...)
		if err := b.Put(familyKey(FamilyUserMessages, userIdxKey), r.OpId[:]); err != nil {
			return err
		}
		threadIdxKey := append(append(append([]byte{}, r.ChannelId[:]...), r.ThreadId[:]...), hlcBytes(r)...)
		if err := b.Put(familyKey(FamilyThreadMessages, threadIdxKey), r.OpId[:]); err != nil {
			return err
		}
	}
	return b.Commit()
}

func hlcBytes(r *op.Record) []byte {
	out := make([]byte, 16+16)
	putUint64(out[0:8], r.HLC.WallTimeMs)
	putUint64(out[8:16], r.HLC.Logical)
	copy(out[16:], r.OpId[:])
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// GetOp loads an accepted operation by id.
func (s *Store) GetOp(id ids.OpId) (*op.Record, bool, error) {
	raw, err := s.Get(FamilyOps, id[:])
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	var r op.Record
	if err := wire.Unmarshal(raw, &r); err != nil {
		return nil, false, errs.Wrap(errs.ErrCorrupt, "store: decode op: "+err.Error())
	}
	return &r, true, nil
}

// HasOp reports whether an operation id has been persisted, satisfying
// the validator.AcceptedSet.Has contract.
func (s *Store) HasOp(id ids.OpId) bool {
	ok, _ := s.Has(FamilyOps, id[:])
	return ok
}

// GetAccepted has the shape of validator.AcceptedSet.Get and delegates
// to GetOp, discarding the error (a storage failure is treated as "not found";
// callers relying on durability should use GetOp directly).
func (s *Store) GetAccepted(id ids.OpId) (*op.Record, bool) {
	r, ok, _ := s.GetOp(id)
	return r, ok
}

// SpaceOps returns every accepted op id recorded against space, in
// index order.
func (s *Store) SpaceOps(space ids.SpaceId) ([]ids.OpId, error) {
	var out []ids.OpId
	err := s.ScanPrefix(FamilySpaceOps, space[:], func(key, _ []byte) bool {
		if len(key) >= 16+16 {
			var id ids.OpId
			copy(id[:], key[16:32])
			out = append(out, id)
		}
		return true
	})
	return out, err
}
