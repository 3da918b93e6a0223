package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/facet"
)

// Database names one logical key space inside the backend. Backends keep the
// spaces apart by prefixing every key with the Database byte.
type Database byte

const (
	DocidWordPositions      Database = 1
	WordDocids              Database = 2
	WordFieldDocids         Database = 3
	DocumentIDs             Database = 4
	WordPairProximityDocids Database = 5
	WordsFST                Database = 6
	FacetByValue            Database = 7
	FacetByDocument         Database = 8
	Documents               Database = 9
	ExternalIDs             Database = 10
	Fields                  Database = 11
	SettingsDB              Database = 12
	GeoPoints               Database = 13
	Vectors                 Database = 14
	Version                 Database = 15
)

var databaseNames = map[Database]string{
	DocidWordPositions:      "docid-word-positions",
	WordDocids:              "word-docids",
	WordFieldDocids:         "word-field-docids",
	DocumentIDs:             "documents-ids",
	WordPairProximityDocids: "word-pair-proximity-docids",
	WordsFST:                "words-fst",
	FacetByValue:            "facet-by-value",
	FacetByDocument:         "facet-by-document",
	Documents:               "documents",
	ExternalIDs:             "external-ids",
	Fields:                  "fields",
	SettingsDB:              "settings",
	GeoPoints:               "geo-points",
	Vectors:                 "vectors",
	Version:                 "version",
}

func (d Database) String() string {
	if name, ok := databaseNames[d]; ok {
		return name
	}
	return fmt.Sprintf("database(%d)", byte(d))
}

// Databases returns every database in prefix order.
func Databases() []Database {
	out := make([]Database, 0, len(databaseNames))
	for d := DocidWordPositions; d <= Version; d++ {
		out = append(out, d)
	}
	return out
}

// IsBitmap reports whether the database stores roaring bitmaps that merge by
// union.
func (d Database) IsBitmap() bool {
	switch d {
	case WordDocids, WordFieldDocids, WordPairProximityDocids, FacetByValue, DocumentIDs:
		return true
	default:
		return false
	}
}

const separator = 0x00

// singletonKey is the key of databases that hold exactly one record.
var singletonKey = []byte{}

// DocidKey encodes a document id so keys sort numerically.
func DocidKey(id core.DocumentID) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(id))
	return buf
}

// ParseDocidKey decodes a key built by DocidKey.
func ParseDocidKey(key []byte) (core.DocumentID, error) {
	if len(key) < 4 {
		return 0, fmt.Errorf("%w: docid key of %d bytes", ErrMalformedKey, len(key))
	}
	return core.DocumentID(binary.BigEndian.Uint32(key)), nil
}

// DocidWordKey is the docid-word-positions key of one word in one document.
func DocidWordKey(id core.DocumentID, word string) []byte {
	buf := make([]byte, 4+len(word))
	binary.BigEndian.PutUint32(buf, uint32(id))
	copy(buf[4:], word)
	return buf
}

// ParseDocidWordKey splits a docid-word-positions key.
func ParseDocidWordKey(key []byte) (core.DocumentID, string, error) {
	id, err := ParseDocidKey(key)
	if err != nil {
		return 0, "", err
	}
	return id, string(key[4:]), nil
}

// WordKey is the word-docids key of a word.
func WordKey(word string) []byte {
	return []byte(word)
}

// WordFieldKey is the word-field-docids key of a word within one field.
func WordFieldKey(word string, field core.FieldID) []byte {
	buf := make([]byte, len(word)+3)
	n := copy(buf, word)
	buf[n] = separator
	binary.BigEndian.PutUint16(buf[n+1:], uint16(field))
	return buf
}

// WordFieldPrefix covers every field of a word.
func WordFieldPrefix(word string) []byte {
	buf := make([]byte, len(word)+1)
	copy(buf, word)
	buf[len(word)] = separator
	return buf
}

// ParseWordFieldKey splits a word-field-docids key.
func ParseWordFieldKey(key []byte) (string, core.FieldID, error) {
	if len(key) < 3 || key[len(key)-3] != separator {
		return "", 0, fmt.Errorf("%w: word-field key %q", ErrMalformedKey, key)
	}
	return string(key[:len(key)-3]), core.FieldID(binary.BigEndian.Uint16(key[len(key)-2:])), nil
}

// PairKey is the word-pair-proximity-docids key of an ordered word pair at
// a given proximity.
func PairKey(left, right string, proximity uint8) []byte {
	buf := make([]byte, 0, len(left)+len(right)+3)
	buf = append(buf, PairPrefix(left, right)...)
	return append(buf, proximity)
}

// PairPrefix covers every proximity of an ordered word pair.
func PairPrefix(left, right string) []byte {
	buf := make([]byte, 0, len(left)+len(right)+2)
	buf = append(buf, left...)
	buf = append(buf, separator)
	buf = append(buf, right...)
	return append(buf, separator)
}

// ParsePairKey splits a word-pair-proximity-docids key.
func ParsePairKey(key []byte) (string, string, uint8, error) {
	if len(key) < 4 {
		return "", "", 0, fmt.Errorf("%w: pair key %q", ErrMalformedKey, key)
	}
	body := key[:len(key)-1]
	if body[len(body)-1] != separator {
		return "", "", 0, fmt.Errorf("%w: pair key %q", ErrMalformedKey, key)
	}
	body = body[:len(body)-1]
	i := bytes.IndexByte(body, separator)
	if i < 0 {
		return "", "", 0, fmt.Errorf("%w: pair key %q", ErrMalformedKey, key)
	}
	return string(body[:i]), string(body[i+1:]), key[len(key)-1], nil
}

// FacetFieldPrefix covers every value of one type in a facet field.
func FacetFieldPrefix(field core.FieldID, typ facet.Type) []byte {
	buf := make([]byte, 3)
	binary.BigEndian.PutUint16(buf, uint16(field))
	buf[2] = byte(typ)
	return buf
}

// FacetValueKey is the facet-by-value key of one value in a field.
func FacetValueKey(field core.FieldID, v facet.Value) []byte {
	enc := v.Encode()
	buf := make([]byte, 2+len(enc))
	binary.BigEndian.PutUint16(buf, uint16(field))
	copy(buf[2:], enc)
	return buf
}

// ParseFacetValueKey splits a facet-by-value key.
func ParseFacetValueKey(key []byte) (core.FieldID, facet.Value, error) {
	if len(key) < 3 {
		return 0, facet.Value{}, fmt.Errorf("%w: facet key %q", ErrMalformedKey, key)
	}
	v, err := facet.Decode(key[2:])
	if err != nil {
		return 0, facet.Value{}, err
	}
	return core.FieldID(binary.BigEndian.Uint16(key)), v, nil
}

// FacetDocumentKey is the facet-by-document key of one field in a document.
func FacetDocumentKey(field core.FieldID, id core.DocumentID) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf, uint16(field))
	binary.BigEndian.PutUint32(buf[2:], uint32(id))
	return buf
}

// ExternalKey is the external-ids key of a document key.
func ExternalKey(key string) []byte {
	return []byte(key)
}
