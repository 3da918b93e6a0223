package storage

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/core"
)

// Writer applies typed mutations inside a write transaction. Reads through
// the embedded Reader observe the pending writes.
type Writer struct {
	*Reader
	kv KVWriter
}

// NewWriter wraps a raw write transaction.
func NewWriter(kv KVWriter) *Writer {
	return &Writer{Reader: NewReader(kv), kv: kv}
}

// Put overwrites a raw value.
func (w *Writer) Put(db Database, key, value []byte) error {
	return w.kv.Set(db, key, value)
}

// Delete removes a raw value.
func (w *Writer) Delete(db Database, key []byte) error {
	return w.kv.Delete(db, key)
}

// PutBitmap stores bm, deleting the key when bm is empty.
func (w *Writer) PutBitmap(db Database, key []byte, bm *roaring.Bitmap) error {
	if bm.IsEmpty() {
		return w.kv.Delete(db, key)
	}
	data, err := bitmap.Encode(bm)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, db, err)
	}
	return w.kv.Set(db, key, data)
}

// UnionBitmap merges add into the bitmap stored under key.
func (w *Writer) UnionBitmap(db Database, key []byte, add *roaring.Bitmap) error {
	if add.IsEmpty() {
		return nil
	}
	current, err := w.bitmap(db, key)
	if err != nil {
		return err
	}
	current.Or(add)
	return w.PutBitmap(db, key, current)
}

// SubtractBitmap removes ids from the bitmap stored under key and reports
// whether the key became empty. Removing an id that is not present is a
// consistency error: the postings no longer match the stored documents.
func (w *Writer) SubtractBitmap(db Database, key []byte, remove *roaring.Bitmap) (bool, error) {
	current, err := w.bitmap(db, key)
	if err != nil {
		return false, err
	}
	if missing := roaring.AndNot(remove, current); !missing.IsEmpty() {
		return false, fmt.Errorf("%w: %s %q lacks documents %v", core.ErrConsistency, db, key, missing.ToArray())
	}
	current.AndNot(remove)
	return current.IsEmpty(), w.PutBitmap(db, key, current)
}

// PutDocument stores a document body.
func (w *Writer) PutDocument(id core.DocumentID, doc *core.Document) error {
	return w.kv.Set(Documents, DocidKey(id), MarshalDocument(doc))
}

// PutExternalID maps a document key to its internal id.
func (w *Writer) PutExternalID(key string, id core.DocumentID) error {
	return w.kv.Set(ExternalIDs, ExternalKey(key), MarshalDocumentID(id))
}

// PutDocumentIDs replaces the set of present documents.
func (w *Writer) PutDocumentIDs(bm *roaring.Bitmap) error {
	data, err := bitmap.Encode(bm)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, DocumentIDs, err)
	}
	return w.kv.Set(DocumentIDs, singletonKey, data)
}

// PutDictionary replaces the serialized term dictionary.
func (w *Writer) PutDictionary(fst []byte) error {
	if len(fst) == 0 {
		return w.kv.Delete(WordsFST, singletonKey)
	}
	return w.kv.Set(WordsFST, singletonKey, fst)
}

// PutFieldMap persists the interned field names.
func (w *Writer) PutFieldMap(fm *core.FieldMap) error {
	return w.kv.Set(Fields, singletonKey, MarshalFieldNames(fm.Names()))
}

// PutSettings persists index settings.
func (w *Writer) PutSettings(s *core.Settings) error {
	return w.kv.Set(SettingsDB, singletonKey, MarshalSettings(s))
}

// BumpVersion increments the commit counter and returns the new value.
func (w *Writer) BumpVersion() (uint64, error) {
	v, err := w.Version()
	if err != nil {
		return 0, err
	}
	v++
	return v, w.kv.Set(Version, singletonKey, MarshalVersion(v))
}

// Clear removes every key of db.
func (w *Writer) Clear(db Database) error {
	var keys [][]byte
	err := w.kv.Iterate(db, nil, IterOptions{}, func(key, _ []byte) (bool, error) {
		keys = append(keys, append([]byte(nil), key...))
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := w.kv.Delete(db, key); err != nil {
			return err
		}
	}
	return nil
}
