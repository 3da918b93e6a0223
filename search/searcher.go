package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/ai"
	"github.com/poiesic/sift/analysis"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/catalog"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/filter"
	"github.com/poiesic/sift/metrics"
	"github.com/poiesic/sift/query"
	"github.com/poiesic/sift/ranking"
	"github.com/poiesic/sift/storage"
)

// Searcher runs ranked queries. It is safe for concurrent use; every query
// reads its own snapshot.
type Searcher struct {
	store          storage.DocumentStore
	catalog        *catalog.Catalog
	embedder       ai.Embedder
	embedCfg       *ai.Config
	timeout        time.Duration
	maxFilterDepth int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithEmbedder sets the embedder used for queries that carry no vector.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(s *Searcher) error {
		s.embedder = embedder
		return nil
	}
}

// WithEmbedConfig sets the timeout and retry policy of query embedding.
func WithEmbedConfig(cfg *ai.Config) Option {
	return func(s *Searcher) error {
		if cfg == nil {
			return nil
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		s.embedCfg = cfg
		return nil
	}
}

// WithTimeout sets the deadline of requests that set none. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(s *Searcher) error {
		if d < 0 {
			return fmt.Errorf("%w: negative timeout %s", core.ErrValidation, d)
		}
		s.timeout = d
		return nil
	}
}

// WithMaxFilterDepth bounds the nesting of filter expressions.
// Default is filter.DefaultMaxDepth.
func WithMaxFilterDepth(depth int) Option {
	return func(s *Searcher) error {
		if depth < 1 {
			return fmt.Errorf("%w: filter depth must be positive", core.ErrValidation)
		}
		s.maxFilterDepth = depth
		return nil
	}
}

// WithMetrics records query metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) error {
		s.metrics = m
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(store storage.DocumentStore, cat *catalog.Catalog, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if cat == nil {
		return nil, ErrCatalogRequired
	}

	s := &Searcher{
		store:          store,
		catalog:        cat,
		embedCfg:       ai.DefaultConfig(),
		maxFilterDepth: filter.DefaultMaxDepth,
		logger:         slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")

	return s, nil
}

// Search runs a query against the latest committed state.
func (s *Searcher) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	return s.SearchWithMonitor(ctx, req, nil)
}

// SearchWithMonitor runs a query with monitoring.
// The monitor receives callbacks at each stage of the search process.
func (s *Searcher) SearchWithMonitor(ctx context.Context, req *SearchRequest, monitor SearchMonitor) (*SearchResponse, error) {
	if req == nil {
		return nil, ErrRequestRequired
	}
	r := *req
	if err := r.normalize(); err != nil {
		return nil, err
	}
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	start := time.Now()
	monitor.Start(&r)
	if timeout := cmp.Or(r.Timeout, s.timeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	q, err := s.newRun(snap, &r, monitor)
	if err != nil {
		return nil, err
	}
	resp, err := q.execute(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		// The deadline expired before ranking could produce anything.
		resp, err = &SearchResponse{Partial: true, VectorDegraded: q.degraded}, nil
	}
	if err != nil {
		s.logger.Debug("search failed", "query", r.Query, "err", err)
		return nil, err
	}
	resp.Version = snap.Version()
	resp.Took = time.Since(start)

	s.metrics.SearchFinished(resp.Took, len(resp.Hits), resp.Partial, resp.VectorDegraded)
	s.logger.Debug("search finished",
		"query", r.Query,
		"version", resp.Version,
		"hits", len(resp.Hits),
		"total", resp.EstimatedTotal,
		"partial", resp.Partial,
		"took", resp.Took)
	monitor.Finish(resp)
	return resp, nil
}

// run is the state of one query.
type run struct {
	s        *Searcher
	req      *SearchRequest
	snap     *storage.Snapshot
	view     *catalog.View
	settings *core.Settings
	fields   *core.FieldMap
	rules    []ranking.Rule
	monitor  SearchMonitor
	degraded bool
}

func (s *Searcher) newRun(snap *storage.Snapshot, req *SearchRequest, monitor SearchMonitor) (*run, error) {
	settings, err := snap.Settings()
	if err != nil {
		return nil, err
	}
	if req.MatchingStrategy != "" {
		settings = settings.Clone()
		settings.MatchingStrategy = req.MatchingStrategy
	}
	fields, err := snap.FieldMap()
	if err != nil {
		return nil, err
	}
	view, err := s.catalog.For(snap)
	if err != nil {
		return nil, err
	}
	rules, err := ranking.ParseRules(settings.RankingRules)
	if err != nil {
		return nil, err
	}
	return &run{
		s:        s,
		req:      req,
		snap:     snap,
		view:     view,
		settings: settings,
		fields:   fields,
		rules:    rules,
		monitor:  monitor,
	}, nil
}

func (q *run) execute(ctx context.Context) (*SearchResponse, error) {
	sorts, err := q.sortRules()
	if err != nil {
		return nil, err
	}
	universe, err := q.restrict(ctx)
	if err != nil {
		return nil, err
	}

	analyzer := analysis.ForSettings(q.settings)
	expander, err := query.NewExpander(q.snap, q.view.Dictionary, q.settings, analyzer, query.WithLogger(q.s.logger))
	if err != nil {
		return nil, err
	}
	graph, err := expander.Expand(ctx, analyzer.Segment(q.req.Query))
	if err != nil {
		return nil, err
	}
	q.monitor.AfterExpansion(graph)

	candidates := matching(graph, universe, q.settings.MatchingStrategy)
	vec := q.queryVector(ctx)
	if err := q.mergeSemantic(ctx, vec, universe, candidates); err != nil {
		return nil, err
	}
	q.monitor.AfterCandidates(candidates)

	if q.degraded {
		vec = nil
	}
	ranker, err := ranking.NewRanker(ranking.Env{
		Source:   q.snap,
		Fields:   q.fields,
		Settings: q.settings,
		Geo:      q.view.Geo,
		Vectors:  q.view.Vectors,
		Logger:   q.s.logger,
	}, q.rules, ranking.Query{Graph: graph, Vector: vec, Sort: sorts})
	if err != nil {
		return nil, err
	}
	res, err := ranker.Rank(ctx, candidates, q.req.Offset, q.req.Limit)
	if err != nil {
		return nil, err
	}

	hits, err := q.hits(res, ranker.Rules())
	if err != nil {
		return nil, err
	}
	return &SearchResponse{
		Hits:           hits,
		EstimatedTotal: int(candidates.GetCardinality()),
		Partial:        res.Partial,
		VectorDegraded: q.degraded,
	}, nil
}

// sortRules parses the request's sort clauses. A geo request without a
// distance clause sorts by distance to its point.
func (q *run) sortRules() ([]ranking.Rule, error) {
	out := make([]ranking.Rule, 0, len(q.req.Sort)+1)
	geoSorted := false
	for _, clause := range q.req.Sort {
		rule, err := ranking.ParseSort(clause)
		if err != nil {
			return nil, err
		}
		if rule.Geo != nil {
			geoSorted = true
		} else if !q.settings.IsSortable(rule.Field) {
			return nil, fmt.Errorf("%w: %w: %q", core.ErrValidation, ErrNotSortable, rule.Field)
		}
		out = append(out, rule)
	}
	if q.req.Geo != nil && !geoSorted {
		p := q.req.Geo.Point
		out = append(out, ranking.Rule{Kind: ranking.RuleSort, Geo: &p})
	}
	return out, nil
}

// restrict returns the documents allowed by the filter and the geo radius.
func (q *run) restrict(ctx context.Context) (*roaring.Bitmap, error) {
	universe, err := q.snap.DocumentIDs()
	if err != nil {
		return nil, err
	}
	restricted := false
	if strings.TrimSpace(q.req.Filter) != "" {
		node, err := filter.Parse(q.req.Filter)
		if err != nil {
			return nil, err
		}
		eval, err := filter.NewEvaluator(q.snap, q.fields, q.settings,
			filter.WithGeoIndex(q.view.Geo),
			filter.WithMaxDepth(q.s.maxFilterDepth))
		if err != nil {
			return nil, err
		}
		allowed, err := eval.Evaluate(ctx, node)
		if err != nil {
			return nil, err
		}
		universe = bitmap.Restrict(universe, allowed)
		restricted = true
	}
	if g := q.req.Geo; g != nil && g.RadiusMeters > 0 {
		near, err := q.view.Geo.Radius(g.Point, g.RadiusMeters)
		if err != nil {
			return nil, err
		}
		universe = bitmap.Restrict(universe, near)
		restricted = true
	}
	if restricted {
		q.monitor.AfterFilter(universe)
	}
	return universe, nil
}

// matching returns the documents of universe that match the graph. Under
// the last strategy a document matching any leading run of query words is
// a candidate.
func matching(g *query.Graph, universe *roaring.Bitmap, strategy core.MatchingStrategy) *roaring.Bitmap {
	if g.Len() == 0 {
		return universe.Clone()
	}
	if strategy != core.MatchLast {
		return g.Matching(universe)
	}
	parts := make([]*roaring.Bitmap, 0, g.Len())
	for k := g.Len(); k >= 1; k-- {
		parts = append(parts, g.Truncate(k).Matching(universe))
	}
	return roaring.FastOr(parts...)
}

func (q *run) wantsVector() bool {
	return q.settings.Weights.SemanticHits > 0 || slices.ContainsFunc(q.rules, func(r ranking.Rule) bool {
		return r.Kind == ranking.RuleVector
	})
}

// queryVector returns the request vector, or embeds the query text. Any
// failure degrades the query to lexical ranking.
func (q *run) queryVector(ctx context.Context) []float32 {
	vec := q.req.Vector
	if len(vec) == 0 {
		if q.s.embedder == nil || strings.TrimSpace(q.req.Query) == "" || !q.wantsVector() {
			return nil
		}
		vecs, err := ai.EmbedWithRetry(ctx, q.s.embedder, q.s.embedCfg, []string{q.req.Query})
		if err != nil {
			q.degrade(fmt.Errorf("%w: embed query: %w", core.ErrCollaborator, err))
			return nil
		}
		vec = vecs[0]
	}
	if dims := q.view.Vectors.Dimensions(); dims != 0 && dims != len(vec) {
		q.degrade(fmt.Errorf("%w: %w: query has %d dimensions, index has %d",
			core.ErrValidation, core.ErrInvalidVector, len(vec), dims))
		return nil
	}
	return vec
}

func (q *run) degrade(err error) {
	q.degraded = true
	q.s.logger.Warn("vector ranking disabled for query", "err", err)
	q.monitor.VectorDegraded(err)
}

// mergeSemantic adds the nearest neighbours of vec inside universe to the
// candidates.
func (q *run) mergeSemantic(ctx context.Context, vec []float32, universe, candidates *roaring.Bitmap) error {
	k := q.settings.Weights.SemanticHits
	if len(vec) == 0 || q.degraded || k <= 0 || q.view.Vectors.Len() == 0 {
		return nil
	}
	neighbors, err := q.view.Vectors.SearchWithin(ctx, vec, k, universe)
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		q.degrade(fmt.Errorf("%w: nearest neighbours: %w", core.ErrCollaborator, err))
		return nil
	}
	q.monitor.AfterSemanticSearch(neighbors)
	for _, n := range neighbors {
		candidates.Add(uint32(n.ID))
	}
	return nil
}

func (q *run) hits(res *ranking.Result, rules []ranking.Rule) ([]Hit, error) {
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		doc, err := q.snap.Document(h.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %w", core.ErrConsistency, h.ID, err)
		}
		details := make([]RuleBucket, len(h.Buckets))
		for i, b := range h.Buckets {
			details[i] = RuleBucket{Rule: rules[i].String(), Bucket: b}
		}
		out = append(out, Hit{DocumentID: h.ID, Key: doc.Key, Document: doc, RankingDetails: details})
	}
	return out, nil
}
