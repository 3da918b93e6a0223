package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func TestDocumentFromMap(t *testing.T) {
	t.Run("numeric primary key", func(t *testing.T) {
		doc, err := DocumentFromMap(decode(t, `{"id": 1, "title": "running shoes"}`), "id")
		require.NoError(t, err)
		assert.Equal(t, "1", doc.Key)
		assert.Equal(t, KindString, doc.Fields["title"].Kind)
		assert.Equal(t, KindNumber, doc.Fields["id"].Kind)
	})

	t.Run("nested objects flatten", func(t *testing.T) {
		doc, err := DocumentFromMap(decode(t, `{"id": "a", "author": {"name": "Ann", "age": 40}}`), "id")
		require.NoError(t, err)
		assert.Equal(t, "Ann", doc.Fields["author.name"].Str)
		assert.Equal(t, 40.0, doc.Fields["author.age"].Num)
	})

	t.Run("geo object", func(t *testing.T) {
		doc, err := DocumentFromMap(decode(t, `{"id": "a", "_geo": {"lat": 45.5, "lng": -73.6}}`), "id")
		require.NoError(t, err)
		assert.Equal(t, KindGeo, doc.Fields["_geo"].Kind)
		assert.Equal(t, GeoPoint{Lat: 45.5, Lng: -73.6}, doc.Fields["_geo"].Geo)
	})

	t.Run("vectors field", func(t *testing.T) {
		doc, err := DocumentFromMap(decode(t, `{"id": "a", "_vectors": [0.5, 1, -2]}`), "id")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 1, -2}, doc.Vector)
		assert.NotContains(t, doc.Fields, VectorsField)
	})

	t.Run("missing primary key", func(t *testing.T) {
		_, err := DocumentFromMap(decode(t, `{"title": "x"}`), "id")
		assert.True(t, errors.Is(err, ErrValidation))
		assert.True(t, errors.Is(err, ErrMissingPrimaryKey))
	})

	t.Run("fractional primary key", func(t *testing.T) {
		_, err := DocumentFromMap(decode(t, `{"id": 1.5}`), "id")
		assert.True(t, errors.Is(err, ErrInvalidDocumentKey))
	})

	t.Run("invalid key characters", func(t *testing.T) {
		_, err := DocumentFromMap(decode(t, `{"id": "a b"}`), "id")
		assert.True(t, errors.Is(err, ErrInvalidDocumentKey))
	})
}

func TestValue_Texts(t *testing.T) {
	v := Array(String("red"), Number(42), Bool(false), Geo(1, 2), Null())
	assert.Equal(t, []string{"red", "42", "false"}, v.Texts())
}

func TestValue_Any(t *testing.T) {
	v := Array(String("red"), Number(4.5), Bool(true), Geo(1, 2), Null())
	back, err := ValueFromAny(v.Any())
	require.NoError(t, err)
	assert.True(t, v.Equal(back))
}

func TestGeoPoint_Valid(t *testing.T) {
	assert.True(t, GeoPoint{Lat: 90, Lng: -180}.Valid())
	assert.False(t, GeoPoint{Lat: 91, Lng: 0}.Valid())
	assert.False(t, GeoPoint{Lat: 0, Lng: 180.5}.Valid())
}
