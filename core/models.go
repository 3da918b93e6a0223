package core

import (
	"slices"

	"github.com/go-crypt/x/blake2b"
)

// DocumentID is the dense internal identifier of an indexed document.
// It is allocated by the indexing pipeline and reused only after the
// document that held it has been deleted.
type DocumentID uint32

// FieldID is the interned identifier of a document field name.
type FieldID uint16

const (
	// MaxPosition is the number of word offsets addressable inside one field.
	// Words past this offset are not indexed.
	MaxPosition = 1000

	// MaxProximity is the largest word distance recorded in the pair database.
	MaxProximity = 7

	// MaxWordLength is the longest normalized word, in bytes, that gets indexed.
	// It keeps pair keys under the storage engine's key size limit.
	MaxWordLength = 250

	// MaxKeyLength is the longest accepted external document key.
	MaxKeyLength = 511
)

// Reserved field names.
const (
	DefaultPrimaryKey = "id"
	GeoField          = "_geo"
	VectorsField      = "_vectors"
)

// Position packs a field id and a word offset into the single integer stored
// in the positions database.
func Position(field FieldID, offset int) uint32 {
	return uint32(field)*MaxPosition + uint32(offset)
}

// SplitPosition is the inverse of Position.
func SplitPosition(pos uint32) (FieldID, int) {
	return FieldID(pos / MaxPosition), int(pos % MaxPosition)
}

// Document is a single indexable record.
type Document struct {
	// Key is the external identifier, the value of the primary key field.
	Key string

	// Fields maps field names to their values. Nested objects are flattened
	// into dotted names before they reach the index.
	Fields map[string]Value

	// Vector is an optional embedding supplied with the document or
	// generated during indexing.
	Vector []float32
}

// FieldNames returns the document's field names in lexicographic order.
func (d *Document) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	fields := make(map[string]Value, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v.clone()
	}
	return &Document{
		Key:    d.Key,
		Fields: fields,
		Vector: slices.Clone(d.Vector),
	}
}

// ContentHash returns a BLAKE2b digest of the document's canonical encoding.
// Two documents with the same key, fields and vector hash identically.
func ContentHash(doc *Document) [16]byte {
	h, _ := blake2b.New(16, nil)
	buf := make([]byte, DocumentMUS.Size(*doc))
	DocumentMUS.Marshal(*doc, buf)
	h.Write(buf)
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
