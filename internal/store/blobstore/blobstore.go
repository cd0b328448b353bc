// Package blobstore implements the content-addressed blob layer
// (§6): files under a blobs/ directory keyed by hex-encoded BLAKE3
// hash, each framed with an AES-GCM seal, compressed before sealing,
// and indexed in a github.com/syndtr/goleveldb database mapping
// content hash to size/compression metadata.
//
// Grounded on the teacher's key-value Database seam
// (_examples/luxfi-consensus/crypto/database/database.go) for the
// index, generalized from an arbitrary KV store to goleveldb so the
// blob index and the main operation store (package store, pebble-backed)
// draw on two distinct members of the teacher's dependency graph rather
// than duplicating one engine for both concerns.
package blobstore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/spaceway/spaceway/internal/errs"
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/wire"
)

// Metadata is the per-blob index record.
type Metadata struct {
	Hash             ids.ID32 `cbor:"0,keyasint"`
	PlaintextSize    int64    `cbor:"1,keyasint"`
	CompressedSize   int64    `cbor:"2,keyasint"`
	Nonce            []byte   `cbor:"3,keyasint"`
}

// Store is a content-addressed, encrypted, compressed blob store.
type Store struct {
	dir   string
	index *leveldb.DB
	seal  cipher.AEAD
}

// Open opens (creating if absent) a blob store rooted at dir, with
// blob contents sealed under sealKey, an AES-GCM key of 16, 24 or 32
// bytes.
func Open(dir string, sealKey []byte) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o700); err != nil {
		return nil, errs.Wrap(errs.ErrIOFailed, "blobstore: mkdir: "+err.Error())
	}
	idx, err := leveldb.OpenFile(filepath.Join(dir, "index"), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIOFailed, "blobstore: open index: "+err.Error())
	}
	block, err := aes.NewCipher(sealKey)
	if err != nil {
		idx.Close()
		return nil, errs.Wrap(errs.ErrBadKey, "blobstore: seal key: "+err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		idx.Close()
		return nil, errs.Wrap(errs.ErrBadKey, "blobstore: gcm: "+err.Error())
	}
	return &Store{dir: dir, index: idx, seal: gcm}, nil
}

// Close releases the index handle.
func (s *Store) Close() error {
	if err := s.index.Close(); err != nil {
		return errs.Wrap(errs.ErrIOFailed, "blobstore: close: "+err.Error())
	}
	return nil
}

func (s *Store) blobPath(hash ids.ID32) string {
	return filepath.Join(s.dir, "blobs", hex.EncodeToString(hash[:]))
}

// Put compresses, seals, and writes content, keyed by its BLAKE3
// content hash, and returns that hash.
func (s *Store) Put(content []byte) (ids.ID32, error) {
	hash := ids.ContentHash(content)

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		return hash, errs.Wrap(errs.ErrIOFailed, "blobstore: compressor: "+err.Error())
	}
	if _, err := zw.Write(content); err != nil {
		zw.Close()
		return hash, errs.Wrap(errs.ErrIOFailed, "blobstore: compress: "+err.Error())
	}
	if err := zw.Close(); err != nil {
		return hash, errs.Wrap(errs.ErrIOFailed, "blobstore: compress close: "+err.Error())
	}

	nonce := make([]byte, s.seal.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return hash, errs.Wrap(errs.ErrIOFailed, "blobstore: nonce: "+err.Error())
	}
	sealed := s.seal.Seal(nil, nonce, compressed.Bytes(), hash[:])

	if err := os.WriteFile(s.blobPath(hash), sealed, 0o600); err != nil {
		return hash, errs.Wrap(errs.ErrIOFailed, "blobstore: write: "+err.Error())
	}

	meta := Metadata{
		Hash: hash, PlaintextSize: int64(len(content)),
		CompressedSize: int64(compressed.Len()), Nonce: nonce,
	}
	metaBytes, err := wire.Marshal(meta)
	if err != nil {
		return hash, errs.Wrap(errs.ErrSerialization, "blobstore: encode metadata: "+err.Error())
	}
	if err := s.index.Put(hash[:], metaBytes, nil); err != nil {
		return hash, errs.Wrap(errs.ErrIOFailed, "blobstore: index put: "+err.Error())
	}
	return hash, nil
}

// Get reads, unseals, and decompresses the blob addressed by hash.
func (s *Store) Get(hash ids.ID32) ([]byte, error) {
	metaBytes, err := s.index.Get(hash[:], nil)
	if err == leveldb.ErrNotFound {
		return nil, errs.ErrCorrupt
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrIOFailed, "blobstore: index get: "+err.Error())
	}
	var meta Metadata
	if err := wire.Unmarshal(metaBytes, &meta); err != nil {
		return nil, errs.Wrap(errs.ErrCorrupt, "blobstore: decode metadata: "+err.Error())
	}

	sealed, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		return nil, errs.Wrap(errs.ErrIOFailed, "blobstore: read: "+err.Error())
	}
	compressed, err := s.seal.Open(nil, meta.Nonce, sealed, hash[:])
	if err != nil {
		return nil, errs.Wrap(errs.ErrDecryptionFailed, "blobstore: unseal: "+err.Error())
	}

	zr, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errs.Wrap(errs.ErrIOFailed, "blobstore: decompressor: "+err.Error())
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIOFailed, "blobstore: decompress: "+err.Error())
	}
	return out, nil
}

// Has reports whether hash is present in the index.
func (s *Store) Has(hash ids.ID32) bool {
	ok, _ := s.index.Has(hash[:], nil)
	return ok
}
