package ranking

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/query"
)

// costClass is the set of documents an edge matches at one cost.
type costClass struct {
	cost int
	docs *roaring.Bitmap
}

// reach holds, per total cost c, the documents with a path costing at most
// c. Entries past the end repeat the last one.
type reach []*roaring.Bitmap

func (r reach) at(c int) *roaring.Bitmap {
	if c < 0 || len(r) == 0 {
		return nil
	}
	return r[min(c, len(r)-1)]
}

// buckets turns "cost at most c" sets into disjoint "cost exactly c" sets.
func (r reach) buckets() []*roaring.Bitmap {
	out := make([]*roaring.Bitmap, 0, len(r))
	seen := bitmap.New()
	for _, bm := range r {
		b := roaring.AndNot(bm, seen)
		seen.Or(b)
		out = append(out, b)
	}
	return out
}

// pathBuckets buckets universe by the cheapest path through the graph,
// where classes gives the cost classes of each edge. It is the dynamic
// program dp[t] = ∪_k dp_prev[t-k] ∩ E_k evaluated position by position.
// Documents without a complete path are in no bucket.
func pathBuckets(g *query.Graph, universe *roaring.Bitmap, classes func(query.Edge) ([]costClass, error)) ([]*roaring.Bitmap, error) {
	n := g.Len()
	if n == 0 {
		return []*roaring.Bitmap{universe.Clone()}, nil
	}
	dp := make([]reach, n+1)
	dp[0] = reach{universe}

	for to := 1; to <= n; to++ {
		type edgeClasses struct {
			from    int
			classes []costClass
		}
		var edges []edgeClasses
		maxCost := -1
		for _, e := range g.EdgesTo(to) {
			if len(dp[e.From]) == 0 {
				continue
			}
			cls, err := classes(e)
			if err != nil {
				return nil, err
			}
			for _, cl := range cls {
				maxCost = max(maxCost, len(dp[e.From])-1+cl.cost)
			}
			edges = append(edges, edgeClasses{from: e.From, classes: cls})
		}
		if maxCost < 0 {
			return nil, nil
		}
		cur := make(reach, maxCost+1)
		for c := 0; c <= maxCost; c++ {
			var parts []*roaring.Bitmap
			for _, e := range edges {
				for _, cl := range e.classes {
					prev := dp[e.from].at(c - cl.cost)
					if prev == nil || prev.IsEmpty() {
						continue
					}
					parts = append(parts, roaring.And(prev, cl.docs))
				}
			}
			cur[c] = roaring.FastOr(parts...)
		}
		dp[to] = cur
	}
	return dp[n].buckets(), nil
}

// minimumClasses converts overlapping per-cost sets, indexed by cost, into
// classes where each document only appears at its lowest cost.
func minimumClasses(byCost map[int]*roaring.Bitmap) []costClass {
	costs := make([]int, 0, len(byCost))
	for c := range byCost {
		costs = append(costs, c)
	}
	slices.Sort(costs)
	out := make([]costClass, 0, len(costs))
	seen := bitmap.New()
	for _, c := range costs {
		docs := roaring.AndNot(byCost[c], seen)
		if docs.IsEmpty() {
			continue
		}
		seen.Or(docs)
		out = append(out, costClass{cost: c, docs: docs})
	}
	return out
}
