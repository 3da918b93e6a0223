package indexing

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/storage"
)

// reducer combines two values of the same key. a comes from an earlier run
// than b.
type reducer func(a, b []byte) ([]byte, error)

func unionReducer(a, b []byte) ([]byte, error) {
	left, err := bitmap.Decode(a)
	if err != nil {
		return nil, err
	}
	right, err := bitmap.Decode(b)
	if err != nil {
		return nil, err
	}
	left.Or(right)
	return bitmap.Encode(left)
}

func overwriteReducer(_, b []byte) ([]byte, error) {
	return b, nil
}

func reducerFor(db storage.Database) reducer {
	if db.IsBitmap() {
		return unionReducer
	}
	return overwriteReducer
}

type heapItem struct {
	entry kvEntry
	run   int
}

// runHeap orders the heads of the runs by key, then by run so equal keys
// reduce in run order.
type runHeap []heapItem

func (h runHeap) Len() int { return len(h) }
func (h runHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].entry.key, h[j].entry.key); c != 0 {
		return c < 0
	}
	return h[i].run < h[j].run
}
func (h runHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *runHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *runHeap) Pop() any {
	old := *h
	item := old[len(old)-1]
	*h = old[:len(old)-1]
	return item
}

// mergeRuns streams the reduced union of sorted runs to emit in key order.
// The runs are closed on return.
func mergeRuns(ctx context.Context, db storage.Database, runs []runIterator, emit func(kvEntry) error) error {
	defer closeRuns(runs)
	reduce := reducerFor(db)

	h := make(runHeap, 0, len(runs))
	for i, r := range runs {
		e, err := r.next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return fmt.Errorf("merge %s: %w", db, err)
		}
		h = append(h, heapItem{entry: e, run: i})
	}
	heap.Init(&h)

	var (
		current kvEntry
		pending bool
		n       int
	)
	for h.Len() > 0 {
		item := h[0]
		if e, err := runs[item.run].next(); err == io.EOF {
			heap.Pop(&h)
		} else if err != nil {
			return fmt.Errorf("merge %s: %w", db, err)
		} else {
			h[0] = heapItem{entry: e, run: item.run}
			heap.Fix(&h, 0)
		}

		switch {
		case !pending:
			current, pending = item.entry, true
		case bytes.Equal(current.key, item.entry.key):
			value, err := reduce(current.value, item.entry.value)
			if err != nil {
				return fmt.Errorf("%w: merge %s: %w", storage.ErrSerializationFailed, db, err)
			}
			current.value = value
		default:
			if err := emit(current); err != nil {
				return err
			}
			current = item.entry
		}

		if n++; n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if pending {
		return emit(current)
	}
	return nil
}

// decodeIDs decodes a merged bitmap value.
func decodeIDs(value []byte) (*roaring.Bitmap, error) {
	bm, err := bitmap.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return bm, nil
}
