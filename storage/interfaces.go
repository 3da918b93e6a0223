package storage

import (
	"context"

	"github.com/poiesic/sift/core"
)

// IterOptions controls a prefix iteration.
type IterOptions struct {
	// Start positions the iterator at the first key >= Start (or <= Start
	// when Reverse is set). It must share the iteration prefix.
	Start []byte

	// Reverse iterates in descending key order.
	Reverse bool
}

// KV is the raw key-value view of one transaction. Keys never include the
// database prefix.
type KV interface {
	// Get returns a copy of the value stored under key, or nil if absent.
	Get(db Database, key []byte) ([]byte, error)

	// Iterate calls fn for each key in db starting with prefix until fn
	// returns false or an error. key and value are only valid during fn.
	Iterate(db Database, prefix []byte, opts IterOptions, fn func(key, value []byte) (bool, error)) error
}

// KVWriter is the raw view of a write transaction. Reads observe the
// transaction's own pending writes. Implementations may refuse nested
// iterations, so callers must not call Iterate from inside fn.
type KVWriter interface {
	KV
	Set(db Database, key, value []byte) error
	Delete(db Database, key []byte) error
}

// ReadTxn is a read-only transaction pinned to one committed state.
type ReadTxn interface {
	KV
	Discard()
}

// Engine is a transactional key-value store with a single writer.
type Engine interface {
	// View opens a read transaction. The caller must Discard it.
	View() ReadTxn

	// Update runs fn in a write transaction and commits it when fn returns
	// nil. Writers are serialized.
	Update(ctx context.Context, fn func(KVWriter) error) error

	Close() error
}

// DocumentStore persists indexed documents and the index databases derived
// from them.
type DocumentStore interface {
	// Get returns the stored document, or ErrNotFound.
	Get(ctx context.Context, id core.DocumentID) (*core.Document, error)

	// Put stores a document body without touching the inverted index.
	Put(ctx context.Context, id core.DocumentID, doc *core.Document) error

	// Delete removes a document body without touching the inverted index.
	Delete(ctx context.Context, id core.DocumentID) error

	// Snapshot opens a consistent read view. The caller must Close it.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Update runs fn in the single writer transaction.
	Update(ctx context.Context, fn func(*Writer) error) error

	Close() error
}
