package ranking

import (
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/facet"
	"github.com/poiesic/sift/geo"
	"github.com/poiesic/sift/query"
	"github.com/poiesic/sift/vector"
)

// Source is the index data the ranking rules read. storage.Snapshot
// satisfies it and must be safe for concurrent reads.
type Source interface {
	WordFields(word string) (map[core.FieldID]*roaring.Bitmap, error)
	PairProximities(left, right string) ([core.MaxProximity + 1]*roaring.Bitmap, error)
	DocumentPositions(id core.DocumentID) (map[string][]uint32, error)
	FacetScan(field core.FieldID, typ facet.Type, descending bool, fn func(facet.Value, *roaring.Bitmap) (bool, error)) error
}

// Env is the index state a ranking runs against.
type Env struct {
	Source   Source
	Fields   *core.FieldMap
	Settings *core.Settings

	// Geo and Vectors are the derived indexes of the same version as
	// Source. Either may be nil.
	Geo     *geo.Index
	Vectors *vector.Flat

	Logger *slog.Logger
}

// Query is what a ranking orders documents against.
type Query struct {
	Graph *query.Graph

	// Vector is the query embedding, or nil.
	Vector []float32

	// Sort holds the parsed sort clauses substituted for the sort rule.
	Sort []Rule
}

// Ranker orders candidates through a rule pipeline. A Ranker is built per
// query and is not safe for concurrent use.
type Ranker struct {
	env   Env
	rules []Rule
	query Query
	unit  []float32

	root  *roaring.Bitmap
	cache map[cacheKey][]*roaring.Bitmap

	fieldsMu   sync.Mutex
	wordFields map[string]map[core.FieldID]*roaring.Bitmap
}

type cacheKey struct {
	rule     int
	graphLen int
}

// NewRanker creates a ranker for one query. rules is the settings pipeline;
// the sort placeholder is replaced by q.Sort.
func NewRanker(env Env, rules []Rule, q Query) (*Ranker, error) {
	if env.Source == nil {
		return nil, ErrSourceRequired
	}
	if env.Settings == nil {
		env.Settings = core.DefaultSettings()
	}
	if env.Fields == nil {
		env.Fields = core.NewFieldMap()
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if q.Graph == nil {
		q.Graph = &query.Graph{}
	}
	r := &Ranker{
		env:        env,
		rules:      Expand(rules, q.Sort),
		query:      q,
		cache:      make(map[cacheKey][]*roaring.Bitmap),
		wordFields: make(map[string]map[core.FieldID]*roaring.Bitmap),
	}
	if len(q.Vector) > 0 {
		r.unit = vector.NormalizeVector(q.Vector)
	}
	return r, nil
}

// Rules returns the effective rule pipeline.
func (r *Ranker) Rules() []Rule {
	return r.rules
}

func (r *Ranker) fieldsOf(word string) (map[core.FieldID]*roaring.Bitmap, error) {
	r.fieldsMu.Lock()
	defer r.fieldsMu.Unlock()
	if fields, ok := r.wordFields[word]; ok {
		return fields, nil
	}
	fields, err := r.env.Source.WordFields(word)
	if err != nil {
		return nil, err
	}
	r.wordFields[word] = fields
	return fields, nil
}
