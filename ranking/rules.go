package ranking

import (
	"context"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/facet"
	"github.com/poiesic/sift/query"
)

// maxAttributeRank caps the per-word field rank so the attribute program
// stays small on schemas with many fields.
const maxAttributeRank = 15

// bucket is one ranked group produced by a rule. graph, when set, replaces
// the query graph for the rules that follow.
type bucket struct {
	docs  *roaring.Bitmap
	graph *query.Graph
}

// apply splits docs into ordered buckets by rule i. A nil result means the
// rule does not discriminate and docs pass through unchanged. Documents a
// rule places in no bucket are appended by the caller as a last bucket.
func (r *Ranker) apply(ctx context.Context, i int, docs *roaring.Bitmap, g *query.Graph) ([]bucket, error) {
	rule := r.rules[i]
	switch rule.Kind {
	case RuleWords:
		return r.words(i, docs, g), nil
	case RuleTypo:
		return r.cached(i, docs, g, func() ([]*roaring.Bitmap, error) {
			return pathBuckets(g, r.root, typoClasses)
		})
	case RuleProximity:
		if g.Len() < 2 {
			return nil, nil
		}
		return r.cached(i, docs, g, func() ([]*roaring.Bitmap, error) {
			return r.proximityBuckets(ctx, g)
		})
	case RuleAttribute:
		return r.cached(i, docs, g, func() ([]*roaring.Bitmap, error) {
			return pathBuckets(g, r.root, r.attributeClasses)
		})
	case RuleExactness:
		return r.exactness(ctx, docs, g)
	case RuleVector:
		return r.vectorBuckets(ctx, docs)
	case RuleSort, RuleCustom:
		if rule.Geo != nil {
			return r.geoBuckets(rule, docs), nil
		}
		return r.fieldBuckets(rule, docs)
	default:
		return nil, nil
	}
}

// cached evaluates a per-document rule once over the root candidates and
// restricts the result to docs.
func (r *Ranker) cached(i int, docs *roaring.Bitmap, g *query.Graph, compute func() ([]*roaring.Bitmap, error)) ([]bucket, error) {
	if g.Len() == 0 {
		return nil, nil
	}
	key := cacheKey{rule: i, graphLen: g.Len()}
	all, ok := r.cache[key]
	if !ok {
		var err error
		if all, err = compute(); err != nil {
			return nil, err
		}
		r.cache[key] = all
	}
	out := make([]bucket, 0, len(all))
	for _, bm := range all {
		if b := roaring.And(bm, docs); !b.IsEmpty() {
			out = append(out, bucket{docs: b})
		}
	}
	return out, nil
}

// words ranks by the number of leading query words matched. Under the all
// strategy every candidate matches them all.
func (r *Ranker) words(i int, docs *roaring.Bitmap, g *query.Graph) []bucket {
	if r.env.Settings.MatchingStrategy != core.MatchLast || g.Len() < 2 {
		return nil
	}
	var out []bucket
	seen := bitmap.New()
	for k := g.Len(); k >= 1; k-- {
		sub := g.Truncate(k)
		matched := roaring.AndNot(sub.Matching(docs), seen)
		if matched.IsEmpty() {
			continue
		}
		seen.Or(matched)
		out = append(out, bucket{docs: matched, graph: sub})
	}
	return out
}

func typoClasses(e query.Edge) ([]costClass, error) {
	return []costClass{{cost: e.Typos, docs: e.Docs}}, nil
}

// fieldRank returns the attribute rank of a field: its index among the
// searchable fields, or its id when every field is searchable.
func (r *Ranker) fieldRank(id core.FieldID) int {
	searchable := r.env.Settings.SearchableFields
	if len(searchable) == 0 {
		return min(int(id), maxAttributeRank)
	}
	name, _ := r.env.Fields.Name(id)
	if rank := slices.Index(searchable, name); rank >= 0 {
		return min(rank, maxAttributeRank)
	}
	return min(len(searchable), maxAttributeRank)
}

// attributeClasses ranks each document of an edge by the best field holding
// any of the derivation's words.
func (r *Ranker) attributeClasses(e query.Edge) ([]costClass, error) {
	byRank := make(map[int]*roaring.Bitmap)
	for _, word := range e.Words {
		fields, err := r.fieldsOf(word)
		if err != nil {
			return nil, err
		}
		for id, docs := range fields {
			rank := r.fieldRank(id)
			if cur, ok := byRank[rank]; ok {
				byRank[rank] = roaring.Or(cur, docs)
			} else {
				byRank[rank] = docs
			}
		}
	}
	classes := minimumClasses(byRank)
	for i := range classes {
		classes[i].docs = roaring.And(classes[i].docs, e.Docs)
	}
	return classes, nil
}

// exactness ranks documents with a field holding exactly the query words
// first, then documents matching every word as typed, then the rest.
func (r *Ranker) exactness(ctx context.Context, docs *roaring.Bitmap, g *query.Graph) ([]bucket, error) {
	if g.Len() == 0 {
		return nil, nil
	}
	parts := make([]*roaring.Bitmap, 0, g.Len())
	for _, term := range g.Terms {
		var exact *roaring.Bitmap
		for _, alt := range term.Alternatives {
			if alt.Exact() && alt.Span == 1 {
				exact = alt.Docs
				break
			}
		}
		if exact == nil {
			return []bucket{}, nil
		}
		parts = append(parts, exact)
	}
	allExact := bitmap.Intersect(append(parts, docs)...)
	if allExact.IsEmpty() {
		return []bucket{}, nil
	}

	words := g.Words()
	whole := bitmap.New()
	it := allExact.Iterator()
	for n := 0; it.HasNext(); n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		id := core.DocumentID(it.Next())
		positions, err := r.env.Source.DocumentPositions(id)
		if err != nil {
			return nil, err
		}
		if fieldEquals(positions, words) {
			whole.Add(uint32(id))
		}
	}
	return []bucket{
		{docs: whole},
		{docs: roaring.AndNot(allExact, whole)},
	}, nil
}

// fieldEquals reports whether some field holds exactly words, in order.
func fieldEquals(positions map[string][]uint32, words []string) bool {
	type slot struct {
		offset int
		word   string
	}
	fields := make(map[core.FieldID][]slot)
	for word, ps := range positions {
		for _, p := range ps {
			field, offset := core.SplitPosition(p)
			fields[field] = append(fields[field], slot{offset: offset, word: word})
		}
	}
	for _, slots := range fields {
		if len(slots) != len(words) {
			continue
		}
		slices.SortFunc(slots, func(a, b slot) int { return a.offset - b.offset })
		match := true
		for i, s := range slots {
			if s.word != words[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// vectorBuckets ranks by cosine distance to the query vector, quantized by
// the configured bucket width. Documents without a vector are left over.
func (r *Ranker) vectorBuckets(ctx context.Context, docs *roaring.Bitmap) ([]bucket, error) {
	if r.unit == nil || r.env.Vectors == nil || r.env.Vectors.Len() == 0 {
		return nil, nil
	}
	if r.env.Vectors.Dimensions() != len(r.unit) {
		r.env.Logger.Warn("query vector dimensions differ from index", "query", len(r.unit), "index", r.env.Vectors.Dimensions())
		return nil, nil
	}
	width := r.env.Settings.Weights.VectorBucketWidth
	groups := make(map[float64]*roaring.Bitmap)
	it := docs.Iterator()
	for n := 0; it.HasNext(); n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		id := it.Next()
		d, ok := r.env.Vectors.Distance(core.DocumentID(id), r.unit)
		if !ok {
			continue
		}
		key := float64(d)
		if width > 0 {
			key = math.Floor(key / width)
		}
		if groups[key] == nil {
			groups[key] = bitmap.New()
		}
		groups[key].Add(id)
	}
	return orderedGroups(groups, false), nil
}

func orderedGroups(groups map[float64]*roaring.Bitmap, descending bool) []bucket {
	keys := make([]float64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if descending {
		slices.Reverse(keys)
	}
	out := make([]bucket, len(keys))
	for i, k := range keys {
		out[i] = bucket{docs: groups[k]}
	}
	return out
}

func (r *Ranker) geoBuckets(rule Rule, docs *roaring.Bitmap) []bucket {
	if r.env.Geo == nil {
		return []bucket{}
	}
	groups := make(map[float64]*roaring.Bitmap)
	it := docs.Iterator()
	for it.HasNext() {
		id := it.Next()
		d, ok := r.env.Geo.Distance(core.DocumentID(id), rule.Geo.Lat, rule.Geo.Lng)
		if !ok {
			continue
		}
		if groups[d] == nil {
			groups[d] = bitmap.New()
		}
		groups[d].Add(id)
	}
	return orderedGroups(groups, rule.Descending)
}

// fieldBuckets orders by a facet field, numbers before strings. A document
// holding several values lands in the bucket of the first one reached.
func (r *Ranker) fieldBuckets(rule Rule, docs *roaring.Bitmap) ([]bucket, error) {
	id, ok := r.env.Fields.ID(rule.Field)
	if !ok {
		return []bucket{}, nil
	}
	var out []bucket
	remaining := docs.Clone()
	for _, typ := range []facet.Type{facet.TypeNumber, facet.TypeString} {
		err := r.env.Source.FacetScan(id, typ, rule.Descending, func(_ facet.Value, bm *roaring.Bitmap) (bool, error) {
			hit := roaring.And(remaining, bm)
			if !hit.IsEmpty() {
				remaining.AndNot(hit)
				out = append(out, bucket{docs: hit})
			}
			return !remaining.IsEmpty(), nil
		})
		if err != nil {
			return nil, err
		}
		if remaining.IsEmpty() {
			break
		}
	}
	return out, nil
}
