// Package geo indexes document locations for radius and bounding box
// filters and for distance sorting.
package geo

import (
	"fmt"
	"maps"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/core"
	"github.com/tidwall/rtree"
)

// Index is an R-tree of document locations. Points are stored with the
// longitude on the x axis. An Index is not safe for concurrent mutation;
// publish a Copy to readers instead.
type Index struct {
	tree   *rtree.RTreeG[core.DocumentID]
	points map[core.DocumentID]core.GeoPoint
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		tree:   &rtree.RTreeG[core.DocumentID]{},
		points: make(map[core.DocumentID]core.GeoPoint),
	}
}

func point(p core.GeoPoint) [2]float64 {
	return [2]float64{p.Lng, p.Lat}
}

// Insert adds or moves the location of a document.
func (ix *Index) Insert(id core.DocumentID, p core.GeoPoint) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %w: (%v, %v)", core.ErrValidation, ErrInvalidPoint, p.Lat, p.Lng)
	}
	ix.Remove(id)
	ix.tree.Insert(point(p), point(p), id)
	ix.points[id] = p
	return nil
}

// Remove drops the location of a document, if any.
func (ix *Index) Remove(id core.DocumentID) {
	old, ok := ix.points[id]
	if !ok {
		return
	}
	ix.tree.Delete(point(old), point(old), id)
	delete(ix.points, id)
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	return len(ix.points)
}

// Copy returns an independent index. The tree is shared copy-on-write.
func (ix *Index) Copy() *Index {
	return &Index{
		tree:   ix.tree.Copy(),
		points: maps.Clone(ix.points),
	}
}

// Point returns the location of a document.
func (ix *Index) Point(id core.DocumentID) (core.GeoPoint, bool) {
	p, ok := ix.points[id]
	return p, ok
}

// Distance returns the distance in meters between a document and the
// given point.
func (ix *Index) Distance(id core.DocumentID, lat, lng float64) (float64, bool) {
	p, ok := ix.points[id]
	if !ok {
		return 0, false
	}
	return Haversine(p, core.GeoPoint{Lat: lat, Lng: lng}), true
}

func (ix *Index) search(minLng, minLat, maxLng, maxLat float64, fn func(core.DocumentID) bool) {
	ix.tree.Search([2]float64{minLng, minLat}, [2]float64{maxLng, maxLat},
		func(_, _ [2]float64, id core.DocumentID) bool {
			return fn(id)
		})
}

// BoundingBox returns the documents inside the box spanned by its top left
// and bottom right corners. A box whose left edge lies east of its right
// edge wraps across the antimeridian.
func (ix *Index) BoundingBox(topLeft, bottomRight core.GeoPoint) (*roaring.Bitmap, error) {
	if !topLeft.Valid() || !bottomRight.Valid() {
		return nil, fmt.Errorf("%w: %w: bounding box corners", core.ErrValidation, ErrInvalidPoint)
	}
	if topLeft.Lat < bottomRight.Lat {
		return nil, fmt.Errorf("%w: %w: top latitude %v below bottom latitude %v",
			core.ErrValidation, ErrInvalidPoint, topLeft.Lat, bottomRight.Lat)
	}
	out := roaring.New()
	collect := func(id core.DocumentID) bool {
		out.Add(uint32(id))
		return true
	}
	if topLeft.Lng <= bottomRight.Lng {
		ix.search(topLeft.Lng, bottomRight.Lat, bottomRight.Lng, topLeft.Lat, collect)
		return out, nil
	}
	ix.search(topLeft.Lng, bottomRight.Lat, 180, topLeft.Lat, collect)
	ix.search(-180, bottomRight.Lat, bottomRight.Lng, topLeft.Lat, collect)
	return out, nil
}

// Radius returns the documents within meters of the center. Candidates are
// prefiltered by bounding box and confirmed by great-circle distance.
func (ix *Index) Radius(center core.GeoPoint, meters float64) (*roaring.Bitmap, error) {
	if !center.Valid() {
		return nil, fmt.Errorf("%w: %w: (%v, %v)", core.ErrValidation, ErrInvalidPoint, center.Lat, center.Lng)
	}
	if meters < 0 || math.IsNaN(meters) {
		return nil, fmt.Errorf("%w: %w: radius %v", core.ErrValidation, ErrInvalidRadius, meters)
	}
	out := roaring.New()
	check := func(id core.DocumentID) bool {
		if Haversine(ix.points[id], center) <= meters {
			out.Add(uint32(id))
		}
		return true
	}

	dLat := degrees(meters / EarthRadius)
	minLat, maxLat := center.Lat-dLat, center.Lat+dLat
	if minLat <= -90 || maxLat >= 90 {
		ix.search(-180, math.Max(minLat, -90), 180, math.Min(maxLat, 90), check)
		return out, nil
	}
	// The widest longitude a spherical cap reaches is asin(sin r / cos lat),
	// attained north of the center's parallel.
	reach := math.Sin(meters/EarthRadius) / math.Cos(radians(center.Lat))
	if reach >= 1 {
		ix.search(-180, minLat, 180, maxLat, check)
		return out, nil
	}
	dLng := degrees(math.Asin(reach))
	minLng, maxLng := center.Lng-dLng, center.Lng+dLng
	switch {
	case minLng < -180:
		ix.search(minLng+360, minLat, 180, maxLat, check)
		ix.search(-180, minLat, maxLng, maxLat, check)
	case maxLng > 180:
		ix.search(minLng, minLat, 180, maxLat, check)
		ix.search(-180, minLat, maxLng-360, maxLat, check)
	default:
		ix.search(minLng, minLat, maxLng, maxLat, check)
	}
	return out, nil
}

// Documents returns every indexed document.
func (ix *Index) Documents() *roaring.Bitmap {
	out := roaring.New()
	for id := range ix.points {
		out.Add(uint32(id))
	}
	return out
}
