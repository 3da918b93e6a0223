package storage

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/facet"
)

// Reader decodes the index databases on top of a raw transaction.
// Missing words and facet values read as empty bitmaps, never as errors.
type Reader struct {
	kv KV
}

// NewReader wraps a raw transaction.
func NewReader(kv KV) *Reader {
	return &Reader{kv: kv}
}

func (r *Reader) bitmap(db Database, key []byte) (*roaring.Bitmap, error) {
	data, err := r.kv.Get(db, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return bitmap.New(), nil
	}
	bm, err := bitmap.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSerializationFailed, db, err)
	}
	return bm, nil
}

// Postings returns the documents containing word in any field.
func (r *Reader) Postings(word string) (*roaring.Bitmap, error) {
	return r.bitmap(WordDocids, WordKey(word))
}

// PrefixPostings returns the union of the postings of every indexed word
// starting with prefix. An empty prefix matches every word.
func (r *Reader) PrefixPostings(prefix string) (*roaring.Bitmap, error) {
	out := bitmap.New()
	err := r.kv.Iterate(WordDocids, WordKey(prefix), IterOptions{}, func(_, value []byte) (bool, error) {
		bm, err := bitmap.Decode(value)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %w", ErrSerializationFailed, WordDocids, err)
		}
		out.Or(bm)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WordFieldPostings returns the documents containing word in one field.
func (r *Reader) WordFieldPostings(word string, field core.FieldID) (*roaring.Bitmap, error) {
	return r.bitmap(WordFieldDocids, WordFieldKey(word, field))
}

// WordFields returns the per-field postings of word.
func (r *Reader) WordFields(word string) (map[core.FieldID]*roaring.Bitmap, error) {
	out := make(map[core.FieldID]*roaring.Bitmap)
	err := r.kv.Iterate(WordFieldDocids, WordFieldPrefix(word), IterOptions{}, func(key, value []byte) (bool, error) {
		_, field, err := ParseWordFieldKey(key)
		if err != nil {
			return false, err
		}
		bm, err := bitmap.Decode(value)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %w", ErrSerializationFailed, WordFieldDocids, err)
		}
		out[field] = bm
		return true, nil
	})
	return out, err
}

// PairProximities returns, for the ordered pair (left, right), the documents
// whose closest occurrence is at each proximity. Index 0 is unused.
func (r *Reader) PairProximities(left, right string) ([core.MaxProximity + 1]*roaring.Bitmap, error) {
	var out [core.MaxProximity + 1]*roaring.Bitmap
	for i := range out {
		out[i] = bitmap.New()
	}
	err := r.kv.Iterate(WordPairProximityDocids, PairPrefix(left, right), IterOptions{}, func(key, value []byte) (bool, error) {
		_, _, prox, err := ParsePairKey(key)
		if err != nil {
			return false, err
		}
		if prox == 0 || int(prox) > core.MaxProximity {
			return true, nil
		}
		bm, err := bitmap.Decode(value)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %w", ErrSerializationFailed, WordPairProximityDocids, err)
		}
		out[prox] = bm
		return true, nil
	})
	return out, err
}

// PairProximity returns the documents where right follows left within
// maxDistance words.
func (r *Reader) PairProximity(left, right string, maxDistance int) (*roaring.Bitmap, error) {
	if maxDistance < 1 {
		return bitmap.New(), nil
	}
	maxDistance = min(maxDistance, core.MaxProximity)
	if maxDistance == 1 {
		return r.bitmap(WordPairProximityDocids, PairKey(left, right, 1))
	}
	all, err := r.PairProximities(left, right)
	if err != nil {
		return nil, err
	}
	return bitmap.Union(all[1 : maxDistance+1]...), nil
}

// WordPositions returns the ordered positions of word in one document.
func (r *Reader) WordPositions(id core.DocumentID, word string) ([]uint32, error) {
	data, err := r.kv.Get(DocidWordPositions, DocidWordKey(id, word))
	if err != nil || data == nil {
		return nil, err
	}
	return UnmarshalPositions(data)
}

// Positions returns the ordered positions of word in every document that
// contains it.
func (r *Reader) Positions(word string) (map[core.DocumentID][]uint32, error) {
	postings, err := r.Postings(word)
	if err != nil {
		return nil, err
	}
	out := make(map[core.DocumentID][]uint32, postings.GetCardinality())
	it := postings.Iterator()
	for it.HasNext() {
		id := core.DocumentID(it.Next())
		positions, err := r.WordPositions(id, word)
		if err != nil {
			return nil, err
		}
		out[id] = positions
	}
	return out, nil
}

// DocumentPositions returns every indexed word of a document with its
// positions.
func (r *Reader) DocumentPositions(id core.DocumentID) (map[string][]uint32, error) {
	out := make(map[string][]uint32)
	err := r.kv.Iterate(DocidWordPositions, DocidKey(id), IterOptions{}, func(key, value []byte) (bool, error) {
		_, word, err := ParseDocidWordKey(key)
		if err != nil {
			return false, err
		}
		positions, err := UnmarshalPositions(value)
		if err != nil {
			return false, err
		}
		out[word] = positions
		return true, nil
	})
	return out, err
}

// DocumentIDs returns every present document.
func (r *Reader) DocumentIDs() (*roaring.Bitmap, error) {
	return r.bitmap(DocumentIDs, singletonKey)
}

// Dictionary returns the serialized term dictionary, or nil for an empty
// index.
func (r *Reader) Dictionary() ([]byte, error) {
	return r.kv.Get(WordsFST, singletonKey)
}

// Version returns the commit counter. An empty store is at version 0.
func (r *Reader) Version() (uint64, error) {
	data, err := r.kv.Get(Version, singletonKey)
	if err != nil || data == nil {
		return 0, err
	}
	return UnmarshalVersion(data)
}

// FieldMap returns the interned field names.
func (r *Reader) FieldMap() (*core.FieldMap, error) {
	data, err := r.kv.Get(Fields, singletonKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return core.NewFieldMap(), nil
	}
	names, err := UnmarshalFieldNames(data)
	if err != nil {
		return nil, err
	}
	return core.NewFieldMap(names...), nil
}

// Settings returns the persisted settings, or the defaults when none have
// been stored.
func (r *Reader) Settings() (*core.Settings, error) {
	data, err := r.kv.Get(SettingsDB, singletonKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return core.DefaultSettings(), nil
	}
	return UnmarshalSettings(data)
}

// Document returns a stored document or ErrNotFound.
func (r *Reader) Document(id core.DocumentID) (*core.Document, error) {
	data, err := r.kv.Get(Documents, DocidKey(id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	return UnmarshalDocument(data)
}

// ScanDocuments visits every stored document in id order.
func (r *Reader) ScanDocuments(fn func(core.DocumentID, *core.Document) error) error {
	return r.kv.Iterate(Documents, nil, IterOptions{}, func(key, value []byte) (bool, error) {
		id, err := ParseDocidKey(key)
		if err != nil {
			return false, err
		}
		doc, err := UnmarshalDocument(value)
		if err != nil {
			return false, err
		}
		return true, fn(id, doc)
	})
}

// ExternalID resolves a document key to its internal id.
func (r *Reader) ExternalID(key string) (core.DocumentID, bool, error) {
	data, err := r.kv.Get(ExternalIDs, ExternalKey(key))
	if err != nil || data == nil {
		return 0, false, err
	}
	id, err := UnmarshalDocumentID(data)
	return id, err == nil, err
}

// FacetEqual returns the documents holding exactly v in field.
func (r *Reader) FacetEqual(field core.FieldID, v facet.Value) (*roaring.Bitmap, error) {
	return r.bitmap(FacetByValue, FacetValueKey(field, v))
}

// Range bounds a numeric facet scan. Nil bounds are open.
type Range struct {
	Low           *float64
	High          *float64
	LowExclusive  bool
	HighExclusive bool
}

// Contains reports whether f lies within the range.
func (rg Range) Contains(f float64) bool {
	if rg.Low != nil && (f < *rg.Low || (rg.LowExclusive && f == *rg.Low)) {
		return false
	}
	if rg.High != nil && (f > *rg.High || (rg.HighExclusive && f == *rg.High)) {
		return false
	}
	return true
}

// FacetRange unions the postings of every number in field within rg.
func (r *Reader) FacetRange(field core.FieldID, rg Range) (*roaring.Bitmap, error) {
	if rg.Low != nil && rg.High != nil && *rg.Low > *rg.High {
		return bitmap.New(), nil
	}
	var opts IterOptions
	if rg.Low != nil && !math.IsInf(*rg.Low, -1) {
		opts.Start = FacetValueKey(field, facet.Number(*rg.Low))
	}
	var parts []*roaring.Bitmap
	err := r.scanFacet(field, facet.TypeNumber, opts, func(v facet.Value, bm *roaring.Bitmap) (bool, error) {
		if rg.High != nil && v.Num > *rg.High {
			return false, nil
		}
		if rg.Contains(v.Num) {
			parts = append(parts, bm)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return bitmap.Union(parts...), nil
}

// FacetScan visits the values of one type in field in key order, or in
// reverse order when descending is set, until fn returns false.
func (r *Reader) FacetScan(field core.FieldID, typ facet.Type, descending bool, fn func(facet.Value, *roaring.Bitmap) (bool, error)) error {
	return r.scanFacet(field, typ, IterOptions{Reverse: descending}, fn)
}

func (r *Reader) scanFacet(field core.FieldID, typ facet.Type, opts IterOptions, fn func(facet.Value, *roaring.Bitmap) (bool, error)) error {
	return r.kv.Iterate(FacetByValue, FacetFieldPrefix(field, typ), opts, func(key, value []byte) (bool, error) {
		_, v, err := ParseFacetValueKey(key)
		if err != nil {
			return false, err
		}
		bm, err := bitmap.Decode(value)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %w", ErrSerializationFailed, FacetByValue, err)
		}
		return fn(v, bm)
	})
}

// FacetValues returns the facet values a document holds in field.
func (r *Reader) FacetValues(field core.FieldID, id core.DocumentID) ([]facet.Value, error) {
	data, err := r.kv.Get(FacetByDocument, FacetDocumentKey(field, id))
	if err != nil || data == nil {
		return nil, err
	}
	return facet.DecodeList(data)
}

// GeoPoint returns the stored location of a document.
func (r *Reader) GeoPoint(id core.DocumentID) (core.GeoPoint, bool, error) {
	data, err := r.kv.Get(GeoPoints, DocidKey(id))
	if err != nil || data == nil {
		return core.GeoPoint{}, false, err
	}
	p, err := UnmarshalGeoPoint(data)
	return p, err == nil, err
}

// ScanGeoPoints visits every stored location.
func (r *Reader) ScanGeoPoints(fn func(core.DocumentID, core.GeoPoint) error) error {
	return r.kv.Iterate(GeoPoints, nil, IterOptions{}, func(key, value []byte) (bool, error) {
		id, err := ParseDocidKey(key)
		if err != nil {
			return false, err
		}
		p, err := UnmarshalGeoPoint(value)
		if err != nil {
			return false, err
		}
		return true, fn(id, p)
	})
}

// Vector returns the stored embedding of a document, or nil.
func (r *Reader) Vector(id core.DocumentID) ([]float32, error) {
	data, err := r.kv.Get(Vectors, DocidKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	return UnmarshalVector(data)
}

// ScanVectors visits every stored embedding.
func (r *Reader) ScanVectors(fn func(core.DocumentID, []float32) error) error {
	return r.kv.Iterate(Vectors, nil, IterOptions{}, func(key, value []byte) (bool, error) {
		id, err := ParseDocidKey(key)
		if err != nil {
			return false, err
		}
		vec, err := UnmarshalVector(value)
		if err != nil {
			return false, err
		}
		return true, fn(id, vec)
	})
}

// Snapshot is a Reader pinned to one committed state.
type Snapshot struct {
	*Reader
	txn     ReadTxn
	version uint64
}

// NewSnapshot wraps a read transaction.
func NewSnapshot(txn ReadTxn) (*Snapshot, error) {
	r := NewReader(txn)
	version, err := r.Version()
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &Snapshot{Reader: r, txn: txn, version: version}, nil
}

// Version returns the commit counter the snapshot observes.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Close releases the underlying transaction.
func (s *Snapshot) Close() {
	s.txn.Discard()
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
