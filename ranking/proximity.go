package ranking

import (
	"context"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/query"
	"golang.org/x/sync/errgroup"
)

const (
	// maxProximityEdges is the number of derivations per position tracked
	// individually by the proximity rule. The rest share one state that
	// always pays the maximum distance.
	maxProximityEdges = 8

	// farCost is charged for a pair further apart than core.MaxProximity.
	farCost = core.MaxProximity + 1

	pairFetchConcurrency = 8
)

// proxEdge is a proximity program state: the words at both ends of a
// derivation and the documents it matches. Empty words mark the shared
// state of untracked derivations.
type proxEdge struct {
	from, to    int
	first, last string
	docs        *roaring.Bitmap
}

type wordPair struct{ left, right string }

// proximityEdges picks the derivations of the graph the proximity rule
// tracks, grouped by end position.
func proximityEdges(g *query.Graph) [][]proxEdge {
	byEnd := make([][]proxEdge, g.Len()+1)
	for to := 1; to <= g.Len(); to++ {
		byFrom := make(map[int][]query.Edge)
		for _, e := range g.EdgesTo(to) {
			byFrom[e.From] = append(byFrom[e.From], e)
		}
		for from, edges := range byFrom {
			slices.SortStableFunc(edges, func(a, b query.Edge) int {
				ca, cb := a.Docs.GetCardinality(), b.Docs.GetCardinality()
				switch {
				case a.Exact() != b.Exact():
					if a.Exact() {
						return -1
					}
					return 1
				case ca > cb:
					return -1
				case ca < cb:
					return 1
				default:
					return 0
				}
			})
			for i, e := range edges {
				if i == maxProximityEdges {
					var rest []*roaring.Bitmap
					for _, other := range edges[i:] {
						rest = append(rest, other.Docs)
					}
					byEnd[to] = append(byEnd[to], proxEdge{from: from, to: to, docs: roaring.FastOr(rest...)})
					break
				}
				byEnd[to] = append(byEnd[to], proxEdge{from: from, to: to, first: e.First(), last: e.Last(), docs: e.Docs})
			}
		}
		slices.SortStableFunc(byEnd[to], func(a, b proxEdge) int { return a.from - b.from })
	}
	return byEnd
}

// fetchPairs loads the proximity bitmaps of every adjacent tracked pair in
// parallel.
func (r *Ranker) fetchPairs(ctx context.Context, byEnd [][]proxEdge) (map[wordPair][core.MaxProximity + 1]*roaring.Bitmap, error) {
	wanted := make(map[wordPair]bool)
	for to := 1; to < len(byEnd); to++ {
		for _, e := range byEnd[to] {
			if e.from == 0 || e.first == "" {
				continue
			}
			for _, p := range byEnd[e.from] {
				if p.last != "" {
					wanted[wordPair{p.last, e.first}] = true
				}
			}
		}
	}

	var mu sync.Mutex
	out := make(map[wordPair][core.MaxProximity + 1]*roaring.Bitmap, len(wanted))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pairFetchConcurrency)
	for pair := range wanted {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			prox, err := r.env.Source.PairProximities(pair.left, pair.right)
			if err != nil {
				return err
			}
			mu.Lock()
			out[pair] = prox
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// proximityBuckets ranks by the summed distance between consecutive query
// words. Each program state is a derivation ending at a position, and
// moving from state p to state e costs the proximity of p's last word and
// e's first word.
func (r *Ranker) proximityBuckets(ctx context.Context, g *query.Graph) ([]*roaring.Bitmap, error) {
	byEnd := proximityEdges(g)
	pairs, err := r.fetchPairs(ctx, byEnd)
	if err != nil {
		return nil, err
	}

	states := make([][]reach, len(byEnd))
	for to := 1; to < len(byEnd); to++ {
		states[to] = make([]reach, len(byEnd[to]))
		for i, e := range byEnd[to] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if e.from == 0 {
				states[to][i] = reach{roaring.And(r.root, e.docs)}
				continue
			}
			states[to][i] = proximityStep(e, byEnd[e.from], states[e.from], pairs)
		}
	}

	final := states[len(byEnd)-1]
	maxLen := 0
	for _, st := range final {
		maxLen = max(maxLen, len(st))
	}
	if maxLen == 0 {
		return nil, nil
	}
	total := make(reach, maxLen)
	for c := range total {
		parts := make([]*roaring.Bitmap, 0, len(final))
		for _, st := range final {
			if bm := st.at(c); bm != nil {
				parts = append(parts, bm)
			}
		}
		total[c] = roaring.FastOr(parts...)
	}
	return total.buckets(), nil
}

func proximityStep(e proxEdge, preds []proxEdge, predStates []reach, pairs map[wordPair][core.MaxProximity + 1]*roaring.Bitmap) reach {
	maxCost := -1
	for _, st := range predStates {
		if len(st) > 0 {
			maxCost = max(maxCost, len(st)-1+farCost)
		}
	}
	if maxCost < 0 {
		return nil
	}
	out := make(reach, maxCost+1)
	for c := 0; c <= maxCost; c++ {
		var parts []*roaring.Bitmap
		for j, p := range preds {
			st := predStates[j]
			if len(st) == 0 {
				continue
			}
			if prev := st.at(c - farCost); prev != nil && !prev.IsEmpty() {
				parts = append(parts, prev)
			}
			if p.last == "" || e.first == "" {
				continue
			}
			prox := pairs[wordPair{p.last, e.first}]
			for k := 1; k <= core.MaxProximity; k++ {
				prev := st.at(c - k)
				if prev == nil || prev.IsEmpty() || prox[k] == nil || prox[k].IsEmpty() {
					continue
				}
				parts = append(parts, roaring.And(prev, prox[k]))
			}
		}
		out[c] = roaring.And(roaring.FastOr(parts...), e.docs)
	}
	return out
}
