// Package bitmap implements the candidate set algebra over compressed
// document id bitmaps.
package bitmap

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/core"
)

// New returns an empty bitmap.
func New() *roaring.Bitmap {
	return roaring.New()
}

// Of returns a bitmap holding the given document ids.
func Of(ids ...core.DocumentID) *roaring.Bitmap {
	bm := roaring.New()
	for _, id := range ids {
		bm.Add(uint32(id))
	}
	return bm
}

// Intersect returns the intersection of the bitmaps without modifying them.
// Bitmaps are processed from the smallest cardinality up so the running
// result shrinks as fast as possible. No input yields an empty bitmap.
func Intersect(bms ...*roaring.Bitmap) *roaring.Bitmap {
	live := make([]*roaring.Bitmap, 0, len(bms))
	for _, bm := range bms {
		if bm == nil || bm.IsEmpty() {
			return roaring.New()
		}
		live = append(live, bm)
	}
	if len(live) == 0 {
		return roaring.New()
	}
	slices.SortFunc(live, func(a, b *roaring.Bitmap) int {
		ca, cb := a.GetCardinality(), b.GetCardinality()
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		default:
			return 0
		}
	})
	result := live[0].Clone()
	for _, bm := range live[1:] {
		result.And(bm)
		if result.IsEmpty() {
			break
		}
	}
	return result
}

// Union returns the union of the bitmaps without modifying them.
func Union(bms ...*roaring.Bitmap) *roaring.Bitmap {
	live := make([]*roaring.Bitmap, 0, len(bms))
	for _, bm := range bms {
		if bm != nil && !bm.IsEmpty() {
			live = append(live, bm)
		}
	}
	switch len(live) {
	case 0:
		return roaring.New()
	case 1:
		return live[0].Clone()
	default:
		return roaring.FastOr(live...)
	}
}

// Difference returns base minus every bitmap in subtract.
func Difference(base *roaring.Bitmap, subtract ...*roaring.Bitmap) *roaring.Bitmap {
	if base == nil {
		return roaring.New()
	}
	result := base.Clone()
	for _, bm := range subtract {
		if bm == nil {
			continue
		}
		result.AndNot(bm)
		if result.IsEmpty() {
			break
		}
	}
	return result
}

// Restrict returns bm limited to the documents in universe.
func Restrict(bm, universe *roaring.Bitmap) *roaring.Bitmap {
	return Intersect(bm, universe)
}

// RestrictToTop returns the k smallest document ids of bm.
func RestrictToTop(bm *roaring.Bitmap, k int) *roaring.Bitmap {
	if bm == nil || k <= 0 {
		return roaring.New()
	}
	if bm.GetCardinality() <= uint64(k) {
		return bm.Clone()
	}
	// Select is zero-based, so the k-th element is the exclusive upper bound.
	bound, err := bm.Select(uint32(k))
	if err != nil {
		return bm.Clone()
	}
	result := bm.Clone()
	result.RemoveRange(uint64(bound), uint64(bm.Maximum())+1)
	return result
}

// IDs returns the document ids of bm in ascending order.
func IDs(bm *roaring.Bitmap) []core.DocumentID {
	if bm == nil {
		return nil
	}
	out := make([]core.DocumentID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, core.DocumentID(it.Next()))
	}
	return out
}

// Contains reports whether bm holds id.
func Contains(bm *roaring.Bitmap, id core.DocumentID) bool {
	return bm != nil && bm.Contains(uint32(id))
}

// Encode serializes a bitmap in the portable roaring format.
func Encode(bm *roaring.Bitmap) ([]byte, error) {
	bm.RunOptimize()
	return bm.ToBytes()
}

// Decode deserializes a bitmap written by Encode. The returned bitmap owns
// its memory, so data may be reused by the caller.
func Decode(data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(data) == 0 {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return bm, nil
}
