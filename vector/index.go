// Package vector holds document embeddings and answers nearest neighbour
// queries over them.
package vector

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/core"
)

// Neighbor is a search hit.
type Neighbor struct {
	ID       core.DocumentID
	Distance float32
}

// Index is an approximate nearest neighbour index over document vectors.
type Index interface {
	Add(id core.DocumentID, vec []float32) error
	Remove(id core.DocumentID)
	Search(ctx context.Context, vec []float32, k int) ([]Neighbor, error)
}

// Flat is an exact Index that scans every vector. Vectors are stored
// normalized so cosine distance reduces to a dot product.
type Flat struct {
	dims    int
	vectors map[core.DocumentID][]float32
}

var _ Index = (*Flat)(nil)

// NewFlat creates an empty flat index.
func NewFlat() *Flat {
	return &Flat{vectors: make(map[core.DocumentID][]float32)}
}

// Add stores the vector of a document, replacing any previous one. All
// vectors of an index share the dimension of the first one added.
func (f *Flat) Add(id core.DocumentID, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: %w: empty vector", core.ErrValidation, core.ErrInvalidVector)
	}
	if f.dims != 0 && len(vec) != f.dims {
		if _, replacing := f.vectors[id]; !replacing || len(f.vectors) > 1 {
			return fmt.Errorf("%w: %w: %d dimensions, index has %d",
				core.ErrValidation, core.ErrInvalidVector, len(vec), f.dims)
		}
	}
	f.dims = len(vec)
	f.vectors[id] = NormalizeVector(vec)
	return nil
}

// Remove drops the vector of a document.
func (f *Flat) Remove(id core.DocumentID) {
	delete(f.vectors, id)
	if len(f.vectors) == 0 {
		f.dims = 0
	}
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	return len(f.vectors)
}

// Dimensions returns the vector dimension, or 0 for an empty index.
func (f *Flat) Dimensions() int {
	return f.dims
}

// Get returns the normalized vector of a document.
func (f *Flat) Get(id core.DocumentID) ([]float32, bool) {
	v, ok := f.vectors[id]
	return v, ok
}

// Distance returns the cosine distance between a document and a unit query
// vector.
func (f *Flat) Distance(id core.DocumentID, unit []float32) (float32, bool) {
	v, ok := f.vectors[id]
	if !ok {
		return 0, false
	}
	return CosineDistance(v, unit), true
}

// Copy returns an independent index. Stored vectors are never mutated, so
// they are shared.
func (f *Flat) Copy() *Flat {
	return &Flat{dims: f.dims, vectors: maps.Clone(f.vectors)}
}

// Search returns the k nearest vectors by cosine distance.
func (f *Flat) Search(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	return f.SearchWithin(ctx, vec, k, nil)
}

// SearchWithin is Search restricted to the documents in allowed. A nil
// allowed set places no restriction.
func (f *Flat) SearchWithin(ctx context.Context, vec []float32, k int, allowed *roaring.Bitmap) ([]Neighbor, error) {
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	if len(vec) != f.dims {
		return nil, fmt.Errorf("%w: %w: query has %d dimensions, index has %d",
			core.ErrValidation, core.ErrInvalidVector, len(vec), f.dims)
	}
	unit := NormalizeVector(vec)
	out := make([]Neighbor, 0, min(k, len(f.vectors)))
	n := 0
	for id, v := range f.vectors {
		if n++; n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if allowed != nil && !allowed.Contains(uint32(id)) {
			continue
		}
		out = append(out, Neighbor{ID: id, Distance: CosineDistance(v, unit)})
	}
	slices.SortFunc(out, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return int(a.ID) - int(b.ID)
		}
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
