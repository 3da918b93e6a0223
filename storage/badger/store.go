package badger

import (
	"context"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/storage"
)

// DocumentStore implements storage.DocumentStore for BadgerDB.
type DocumentStore struct {
	backend *Backend
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates a document store over an open backend.
func NewDocumentStore(backend *Backend) storage.DocumentStore {
	return &DocumentStore{backend: backend}
}

// Get returns the stored document, or storage.ErrNotFound.
func (s *DocumentStore) Get(ctx context.Context, id core.DocumentID) (*core.Document, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return snap.Document(id)
}

// Put stores a document body.
func (s *DocumentStore) Put(ctx context.Context, id core.DocumentID, doc *core.Document) error {
	return s.Update(ctx, func(w *storage.Writer) error {
		return w.PutDocument(id, doc)
	})
}

// Delete removes only the stored body of a document. It is a raw storage
// operation that bypasses indexing.Pipeline.Delete: the document's postings
// and its bit in the document ids set stay behind. Use the pipeline to
// remove a document from the index.
func (s *DocumentStore) Delete(ctx context.Context, id core.DocumentID) error {
	return s.Update(ctx, func(w *storage.Writer) error {
		return w.Delete(storage.Documents, storage.DocidKey(id))
	})
}

// Snapshot opens a consistent read view.
func (s *DocumentStore) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	return storage.NewSnapshot(s.backend.View())
}

// Update runs fn in the single writer transaction.
func (s *DocumentStore) Update(ctx context.Context, fn func(*storage.Writer) error) error {
	return s.backend.Update(ctx, func(kv storage.KVWriter) error {
		return fn(storage.NewWriter(kv))
	})
}

// Close closes the underlying backend.
func (s *DocumentStore) Close() error {
	return s.backend.Close()
}
