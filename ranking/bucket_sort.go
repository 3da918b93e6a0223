package ranking

import (
	"context"
	"errors"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/query"
)

// Hit is a ranked document with the bucket it landed in for each rule.
type Hit struct {
	ID      core.DocumentID
	Buckets []int
}

// Result is one page of ranked documents.
type Result struct {
	Hits []Hit

	// Partial is set when the deadline expired during ranking. The page was
	// completed in document id order from the bucket being refined.
	Partial bool
}

type sortState struct {
	offset, limit int
	seen          int
	result        *Result
}

func (st *sortState) full() bool {
	return len(st.result.Hits) >= st.limit
}

// emit appends docs in id order to the window.
func (st *sortState) emit(docs *roaring.Bitmap, trail []int) {
	card := int(docs.GetCardinality())
	if st.seen+card <= st.offset {
		st.seen += card
		return
	}
	it := docs.Iterator()
	for it.HasNext() && !st.full() {
		id := it.Next()
		if st.seen >= st.offset {
			st.result.Hits = append(st.result.Hits, Hit{ID: core.DocumentID(id), Buckets: slices.Clone(trail)})
		}
		st.seen++
	}
}

// Rank orders candidates and returns the documents at [offset, offset+limit).
// Buckets entirely before the window are skipped by cardinality and
// refinement stops as soon as the window is full.
func (r *Ranker) Rank(ctx context.Context, candidates *roaring.Bitmap, offset, limit int) (*Result, error) {
	st := &sortState{offset: max(offset, 0), limit: max(limit, 0), result: &Result{}}
	if candidates == nil || candidates.IsEmpty() || st.limit == 0 {
		return st.result, nil
	}
	r.root = candidates
	err := r.sort(ctx, st, 0, candidates, r.query.Graph, nil)
	return st.result, err
}

func (r *Ranker) sort(ctx context.Context, st *sortState, level int, docs *roaring.Bitmap, g *query.Graph, trail []int) error {
	if st.full() {
		return nil
	}
	card := int(docs.GetCardinality())
	if st.seen+card <= st.offset || level == len(r.rules) || card == 1 {
		st.emit(docs, trail)
		return nil
	}
	if expired, err := checkDeadline(ctx); err != nil {
		return err
	} else if expired {
		st.result.Partial = true
		st.emit(docs, trail)
		return nil
	}

	buckets, err := r.apply(ctx, level, docs, g)
	if errors.Is(err, context.DeadlineExceeded) {
		st.result.Partial = true
		st.emit(docs, trail)
		return nil
	}
	if err != nil {
		return err
	}
	if buckets == nil {
		return r.sort(ctx, st, level+1, docs, g, append(trail, 0))
	}

	placed := roaring.New()
	for _, b := range buckets {
		placed.Or(b.docs)
	}
	if rest := roaring.AndNot(docs, placed); !rest.IsEmpty() {
		buckets = append(buckets, bucket{docs: rest})
	}

	for i, b := range buckets {
		if st.full() {
			return nil
		}
		if b.docs.IsEmpty() {
			continue
		}
		if expired, err := checkDeadline(ctx); err != nil {
			return err
		} else if expired {
			st.result.Partial = true
			st.emit(unionOf(buckets[i:]), trail)
			return nil
		}
		next := g
		if b.graph != nil {
			next = b.graph
		}
		if err := r.sort(ctx, st, level+1, b.docs, next, append(trail, i)); err != nil {
			return err
		}
	}
	return nil
}

// checkDeadline reports an expired deadline and returns cancellation as an
// error.
func checkDeadline(ctx context.Context) (bool, error) {
	switch err := ctx.Err(); {
	case err == nil:
		return false, nil
	case errors.Is(err, context.DeadlineExceeded):
		return true, nil
	default:
		return false, err
	}
}

func unionOf(buckets []bucket) *roaring.Bitmap {
	parts := make([]*roaring.Bitmap, len(buckets))
	for i, b := range buckets {
		parts[i] = b.docs
	}
	return roaring.FastOr(parts...)
}
