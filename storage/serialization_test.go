package storage

import (
	"testing"

	"github.com/poiesic/sift/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionsRoundTrip(t *testing.T) {
	positions := []uint32{0, 3, 999, 1000, 1002, 65000}
	got, err := UnmarshalPositions(MarshalPositions(positions))
	require.NoError(t, err)
	assert.Equal(t, positions, got)

	empty, err := UnmarshalPositions(MarshalPositions(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPositions_Truncated(t *testing.T) {
	data := MarshalPositions([]uint32{1, 200, 70000})
	_, err := UnmarshalPositions(data[:len(data)-1])
	assert.Error(t, err)
}

func TestGeoPointAndVector(t *testing.T) {
	p := core.GeoPoint{Lat: 48.8566, Lng: 2.3522}
	gotP, err := UnmarshalGeoPoint(MarshalGeoPoint(p))
	require.NoError(t, err)
	assert.Equal(t, p, gotP)

	vec := []float32{0.25, -1, 3.5}
	gotV, err := UnmarshalVector(MarshalVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, gotV)

	_, err = UnmarshalVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestFieldNamesAndVersion(t *testing.T) {
	names := []string{"id", "title", "brand.name"}
	got, err := UnmarshalFieldNames(MarshalFieldNames(names))
	require.NoError(t, err)
	assert.Equal(t, names, got)

	v, err := UnmarshalVersion(MarshalVersion(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}
