package geo

import (
	"testing"

	"github.com/poiesic/sift/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	paris      = core.GeoPoint{Lat: 48.8566, Lng: 2.3522}
	versailles = core.GeoPoint{Lat: 48.8049, Lng: 2.1204}
	london     = core.GeoPoint{Lat: 51.5074, Lng: -0.1278}
	fiji       = core.GeoPoint{Lat: -17.7134, Lng: 178.065}
	samoa      = core.GeoPoint{Lat: -13.759, Lng: -172.1046}
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex()
	for id, p := range []core.GeoPoint{paris, versailles, london, fiji, samoa} {
		require.NoError(t, ix.Insert(core.DocumentID(id), p))
	}
	return ix
}

func TestHaversine(t *testing.T) {
	d := Haversine(paris, london)
	assert.InDelta(t, 343_500, d, 2_000)
	assert.Zero(t, Haversine(paris, paris))
}

func TestRadius(t *testing.T) {
	ix := newIndex(t)

	near, err := ix.Radius(paris, 25_000)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, near.ToArray())

	far, err := ix.Radius(paris, 400_000)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, far.ToArray())

	_, err = ix.Radius(core.GeoPoint{Lat: 91}, 10)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRadius_AcrossAntimeridian(t *testing.T) {
	ix := newIndex(t)
	hits, err := ix.Radius(core.GeoPoint{Lat: -16, Lng: 179.9}, 1_500_000)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 4}, hits.ToArray())
}

func TestRadius_HighLatitude(t *testing.T) {
	ix := NewIndex()
	points := map[core.DocumentID]core.GeoPoint{}
	for lat := 30.0; lat < 90; lat++ {
		for lng := -180.0; lng < 180; lng++ {
			id := core.DocumentID(len(points))
			points[id] = core.GeoPoint{Lat: lat, Lng: lng}
			require.NoError(t, ix.Insert(id, points[id]))
		}
	}

	for _, center := range []core.GeoPoint{{Lat: 60, Lng: 0}, {Lat: 75, Lng: 170}, {Lat: 45, Lng: -179}} {
		for _, meters := range []float64{500_000, 3_000_000} {
			var want []uint32
			for id, p := range points {
				if Haversine(p, center) <= meters {
					want = append(want, uint32(id))
				}
			}
			got, err := ix.Radius(center, meters)
			require.NoError(t, err)
			assert.ElementsMatch(t, want, got.ToArray(), "center %v radius %v", center, meters)
		}
	}
}

func TestBoundingBox(t *testing.T) {
	ix := newIndex(t)

	france, err := ix.BoundingBox(core.GeoPoint{Lat: 50, Lng: 1}, core.GeoPoint{Lat: 48, Lng: 3})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, france.ToArray())

	pacific, err := ix.BoundingBox(core.GeoPoint{Lat: -10, Lng: 170}, core.GeoPoint{Lat: -20, Lng: -170})
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 4}, pacific.ToArray())

	_, err = ix.BoundingBox(core.GeoPoint{Lat: 10}, core.GeoPoint{Lat: 20})
	assert.ErrorIs(t, err, ErrInvalidPoint)
}

func TestCopyIsIndependent(t *testing.T) {
	ix := newIndex(t)
	cp := ix.Copy()

	cp.Remove(0)
	require.NoError(t, cp.Insert(9, paris))

	assert.Equal(t, 5, ix.Len())
	d, ok := ix.Distance(0, paris.Lat, paris.Lng)
	assert.True(t, ok)
	assert.Zero(t, d)

	_, ok = cp.Point(0)
	assert.False(t, ok)
	hits, err := cp.Radius(paris, 1_000)
	require.NoError(t, err)
	assert.Equal(t, []uint32{9}, hits.ToArray())

	orig, err := ix.Radius(paris, 1_000)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, orig.ToArray())
}

func TestInsertMovesPoint(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Insert(1, paris))
	require.NoError(t, ix.Insert(1, london))
	assert.Equal(t, 1, ix.Len())

	hits, err := ix.Radius(paris, 1_000)
	require.NoError(t, err)
	assert.True(t, hits.IsEmpty())

	assert.ErrorIs(t, ix.Insert(2, core.GeoPoint{Lat: 0, Lng: 200}), core.ErrValidation)
}
