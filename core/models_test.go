package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition_RoundTrip(t *testing.T) {
	pos := Position(3, 42)
	assert.Equal(t, uint32(3042), pos)

	field, offset := SplitPosition(pos)
	assert.Equal(t, FieldID(3), field)
	assert.Equal(t, 42, offset)
}

func TestContentHash(t *testing.T) {
	doc := &Document{
		Key: "1",
		Fields: map[string]Value{
			"id":    Number(1),
			"title": String("running shoes"),
			"tags":  Array(String("a"), String("b")),
		},
	}

	t.Run("stable across calls", func(t *testing.T) {
		assert.Equal(t, ContentHash(doc), ContentHash(doc))
	})

	t.Run("clone hashes identically", func(t *testing.T) {
		assert.Equal(t, ContentHash(doc), ContentHash(doc.Clone()))
	})

	t.Run("field change changes hash", func(t *testing.T) {
		other := doc.Clone()
		other.Fields["title"] = String("running shoe")
		assert.NotEqual(t, ContentHash(doc), ContentHash(other))
	})
}

func TestDocumentMUS_RoundTrip(t *testing.T) {
	doc := Document{
		Key: "doc-1",
		Fields: map[string]Value{
			"title": String("hello"),
			"price": Number(12.5),
			"stock": Bool(true),
			"none":  Null(),
			"tags":  Array(String("x"), Number(2)),
			"_geo":  Geo(48.85, 2.35),
		},
		Vector: []float32{0.1, 0.2, 0.3},
	}

	buf := make([]byte, DocumentMUS.Size(doc))
	n := DocumentMUS.Marshal(doc, buf)
	assert.Equal(t, len(buf), n)

	decoded, m, err := DocumentMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, n, m)
	assert.Equal(t, doc.Key, decoded.Key)
	assert.Equal(t, doc.Vector, decoded.Vector)
	require.Len(t, decoded.Fields, len(doc.Fields))
	for name, v := range doc.Fields {
		assert.True(t, v.Equal(decoded.Fields[name]), "field %s", name)
	}
}

func TestDocumentMUS_EqualDocumentsEncodeEqually(t *testing.T) {
	fields := make(map[string]Value)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		fields[name] = Array(String(name), Array(Number(1), Bool(false)))
	}
	doc := Document{Key: "k", Fields: fields}

	encode := func(d Document) []byte {
		buf := make([]byte, DocumentMUS.Size(d))
		DocumentMUS.Marshal(d, buf)
		return buf
	}
	want := encode(doc)
	for i := 0; i < 20; i++ {
		require.Equal(t, want, encode(*doc.Clone()))
	}

	s := NewSettings(WithSynonyms(map[string][]string{
		"nyc": {"new york"}, "tv": {"television"}, "sf": {"san francisco"}, "la": {"los angeles"},
	}))
	first := make([]byte, SettingsMUS.Size(*s))
	SettingsMUS.Marshal(*s, first)
	for i := 0; i < 20; i++ {
		again := make([]byte, SettingsMUS.Size(*s))
		SettingsMUS.Marshal(*s, again)
		require.Equal(t, first, again)
	}
}

func TestDocumentMUS_Truncated(t *testing.T) {
	doc := Document{Key: "k", Fields: map[string]Value{"a": String("some text")}}
	buf := make([]byte, DocumentMUS.Size(doc))
	DocumentMUS.Marshal(doc, buf)

	_, _, err := DocumentMUS.Unmarshal(buf[:len(buf)/2])
	assert.Error(t, err)
}

func TestSettingsMUS_RoundTrip(t *testing.T) {
	s := NewSettings(
		WithSearchableFields("title", "body"),
		WithFilterableFields("genre"),
		WithStopWords("the", "a"),
		WithSynonyms(map[string][]string{"nyc": {"new york"}}),
		WithMatchingStrategy(MatchLast),
	)
	require.NoError(t, s.Validate())

	buf := make([]byte, SettingsMUS.Size(*s))
	SettingsMUS.Marshal(*s, buf)
	decoded, _, err := SettingsMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, *s, decoded)
}

func TestFieldMap(t *testing.T) {
	fm := NewFieldMap("id", "title")

	id, ok := fm.ID("title")
	require.True(t, ok)
	assert.Equal(t, FieldID(1), id)

	inserted, err := fm.Insert("body")
	require.NoError(t, err)
	assert.Equal(t, FieldID(2), inserted)

	again, err := fm.Insert("title")
	require.NoError(t, err)
	assert.Equal(t, FieldID(1), again)

	name, ok := fm.Name(2)
	assert.True(t, ok)
	assert.Equal(t, "body", name)

	clone := fm.Clone()
	_, _ = clone.Insert("extra")
	assert.Equal(t, 3, fm.Len())
	assert.Equal(t, 4, clone.Len())
}
