package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/sift/ai"
	"github.com/poiesic/sift/analysis"
	"github.com/poiesic/sift/catalog"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/metrics"
	"github.com/poiesic/sift/storage"
)

const (
	// DefaultMaxMemory bounds the sorter buffers of one batch.
	DefaultMaxMemory = 256 << 20

	// DefaultMaxFieldsPerDocument is the field limit applied to documents.
	DefaultMaxFieldsPerDocument = 1000
)

// Pipeline indexes document batches. Batches are serialized; each one
// commits atomically or not at all.
type Pipeline struct {
	store     storage.DocumentStore
	catalog   *catalog.Catalog
	pool      *ants.Pool
	workers   int
	embedder  ai.Embedder
	embedCfg  *ai.Config
	maxMemory int
	maxFields int
	tempDir   string
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	poisoned error
	batches  uint64

	// failMerge lets tests inject a merge failure per database.
	failMerge func(storage.Database) error
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of extraction workers.
// Default is runtime.NumCPU().
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		p.workers = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithEmbedder enables embedding of the settings' embed fields for
// documents that do not carry a vector.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(p *Pipeline) error {
		p.embedder = embedder
		return nil
	}
}

// WithEmbedConfig sets the timeout and retry policy of embedding calls.
func WithEmbedConfig(cfg *ai.Config) Option {
	return func(p *Pipeline) error {
		if cfg == nil {
			return nil
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		p.embedCfg = cfg
		return nil
	}
}

// WithMaxMemory bounds, in bytes, the sorter buffers of one batch.
// Buffers spill to disk once they reach their share.
func WithMaxMemory(bytes int) Option {
	return func(p *Pipeline) error {
		if bytes <= 0 {
			return fmt.Errorf("%w: max memory must be positive", core.ErrValidation)
		}
		p.maxMemory = bytes
		return nil
	}
}

// WithMaxFieldsPerDocument sets the field limit. Zero disables it.
func WithMaxFieldsPerDocument(n int) Option {
	return func(p *Pipeline) error {
		p.maxFields = max(n, 0)
		return nil
	}
}

// WithTempDir sets where sorted runs are spilled.
// Default is os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Pipeline) error {
		p.tempDir = dir
		return nil
	}
}

// WithMetrics reports batches to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// NewPipeline creates an indexing pipeline over store. Committed versions
// are published to cat.
func NewPipeline(store storage.DocumentStore, cat *catalog.Catalog, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if cat == nil {
		return nil, ErrCatalogRequired
	}

	workers := runtime.NumCPU()
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:     store,
		catalog:   cat,
		pool:      pool,
		workers:   workers,
		embedCfg:  ai.DefaultConfig(),
		maxMemory: DefaultMaxMemory,
		maxFields: DefaultMaxFieldsPerDocument,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "indexing")
	return p, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Poisoned returns the consistency error that stopped writes, or nil.
func (p *Pipeline) Poisoned() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poisoned
}

// AddOrReplace indexes docs. Invalid documents are reported in the result
// and skipped; within the batch the last document with a given key wins.
// A document identical to the stored one is counted as committed without
// being rewritten.
func (p *Pipeline) AddOrReplace(ctx context.Context, docs []*core.Document) (*BatchResult, error) {
	return p.execute(ctx, false, func(ctx context.Context, b *batch) error {
		return p.receiveDocuments(ctx, b, docs)
	})
}

// Delete removes the documents with the given keys. Unknown keys are
// reported in the result.
func (p *Pipeline) Delete(ctx context.Context, keys []string) (*BatchResult, error) {
	return p.execute(ctx, false, func(_ context.Context, b *batch) error {
		return p.receiveDeletions(b, keys)
	})
}

// Reindex rebuilds every derived database from the stored documents. It is
// the only write accepted by a poisoned pipeline and clears the poison when
// it commits.
func (p *Pipeline) Reindex(ctx context.Context) (*BatchResult, error) {
	return p.execute(ctx, true, p.receiveAll)
}

// ApplySettings stores new settings and reindexes under them in the same
// transaction.
func (p *Pipeline) ApplySettings(ctx context.Context, settings *core.Settings) (*BatchResult, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: settings are nil", core.ErrValidation)
	}
	settings = settings.Clone()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return p.execute(ctx, true, func(ctx context.Context, b *batch) error {
		b.settings = settings
		b.ch.settings = settings
		return p.receiveAll(ctx, b)
	})
}

// batch is the working state of one batch.
type batch struct {
	snap     *storage.Snapshot
	settings *core.Settings
	ch       *change
	result   *BatchResult

	used *roaring.Bitmap
	next uint32
	dims int

	unchanged int
}

func (b *batch) reject(key string, id core.DocumentID, err error) {
	b.result.Errors = append(b.result.Errors, DocumentError{Key: key, DocumentID: id, Reason: err})
}

// allocate returns the lowest id neither stored nor taken by the batch.
func (b *batch) allocate() core.DocumentID {
	for b.used.Contains(b.next) {
		b.next++
	}
	b.used.Add(b.next)
	return core.DocumentID(b.next)
}

// checkVector enforces a single dimension across the index. The first
// vector of an empty index sets it.
func (b *batch) checkVector(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	if b.dims == 0 {
		b.dims = len(vec)
		return nil
	}
	if len(vec) != b.dims {
		return fmt.Errorf("%w: %w: %d dimensions, index has %d", core.ErrValidation, core.ErrInvalidVector, len(vec), b.dims)
	}
	return nil
}

func (p *Pipeline) execute(ctx context.Context, reset bool, receive func(context.Context, *batch) error) (*BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.poisoned != nil && !reset {
		return nil, fmt.Errorf("%w: %w: %w", core.ErrConsistency, ErrPoisoned, p.poisoned)
	}
	p.batches++
	tracker := newBatchTracker(p.batches, p.logger)

	res, err := p.executeLocked(ctx, tracker, reset, receive)
	if err == nil {
		if reset && p.poisoned != nil {
			p.logger.Info("index rebuilt, accepting writes again")
			p.poisoned = nil
		}
		return res, nil
	}

	tracker.fail(err)
	outcome := metrics.OutcomeFailed
	if errors.Is(err, core.ErrConsistency) {
		outcome = metrics.OutcomePoisoned
		p.poisoned = err
		p.logger.Error("index inconsistent, writes refused until reindex", "err", err)
	}
	p.metrics.BatchFinished(outcome, tracker.elapsed(), 0, 0, 0)
	return nil, err
}

func (p *Pipeline) executeLocked(ctx context.Context, tracker *batchTracker, reset bool, receive func(context.Context, *batch) error) (*BatchResult, error) {
	snap, err := p.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	b, err := p.newBatch(snap, reset)
	if err != nil {
		return nil, err
	}
	if err := receive(ctx, b); err != nil {
		return nil, err
	}
	ch := b.ch

	if !ch.reset && len(ch.items) == 0 && len(ch.deleted) == 0 {
		for _, next := range []BatchState{Extracting, Merging, Committing, Committed} {
			tracker.to(next)
		}
		b.result.CommittedCount = b.unchanged
		b.result.Version = snap.Version()
		p.metrics.BatchFinished(metrics.OutcomeCommitted, tracker.elapsed(), 0, 0, len(b.result.Errors))
		return b.result, nil
	}

	tracker.to(Extracting)
	dir, err := os.MkdirTemp(p.tempDir, "sift-batch-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrResource, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			tracker.logger.Warn("failed to remove batch directory", "dir", dir, "err", err)
		}
	}()

	extractors, err := p.extract(ctx, dir, tracker, b)
	if err != nil {
		return nil, err
	}

	tracker.to(Merging)
	res, err := p.commit(ctx, tracker, ch, extractors)
	if err != nil {
		return nil, err
	}
	tracker.to(Committed)

	view, err := nextView(ch, res)
	if err != nil {
		tracker.logger.Warn("view will be rebuilt on next read", "version", res.version, "err", err)
		p.catalog.Invalidate()
	} else {
		p.catalog.Publish(view)
	}

	b.result.CommittedCount = b.unchanged + len(ch.items) + len(ch.deleted)
	b.result.Version = res.version
	p.metrics.BatchFinished(metrics.OutcomeCommitted, tracker.elapsed(), len(ch.items), len(ch.deleted), len(b.result.Errors))
	p.metrics.Committed(res.version, res.documents)
	tracker.logger.Info("batch committed",
		"version", res.version,
		"indexed", len(ch.items),
		"deleted", len(ch.deleted),
		"unchanged", b.unchanged,
		"rejected", len(b.result.Errors),
		"took", tracker.elapsed())
	return b.result, nil
}

func (p *Pipeline) newBatch(snap *storage.Snapshot, reset bool) (*batch, error) {
	settings, err := snap.Settings()
	if err != nil {
		return nil, err
	}
	fields, err := snap.FieldMap()
	if err != nil {
		return nil, err
	}
	ids, err := snap.DocumentIDs()
	if err != nil {
		return nil, err
	}
	view, err := p.catalog.For(snap)
	if err != nil {
		return nil, err
	}

	next := fields.Clone()
	if reset {
		next = core.NewFieldMap()
	}
	return &batch{
		snap:     snap,
		settings: settings,
		ch: &change{
			oldFields: fields,
			fields:    next,
			base:      view,
			reset:     reset,
		},
		result: &BatchResult{},
		used:   ids,
		dims:   view.Vectors.Dimensions(),
	}, nil
}

func (p *Pipeline) receiveDocuments(ctx context.Context, b *batch, docs []*core.Document) error {
	last := make(map[string]int, len(docs))
	for i, doc := range docs {
		if doc != nil {
			last[doc.Key] = i
		}
	}

	var items []*item
	for i, doc := range docs {
		if doc == nil {
			b.reject("", 0, fmt.Errorf("%w: document is nil", core.ErrValidation))
			continue
		}
		if last[doc.Key] != i {
			continue
		}
		if err := core.ValidateDocument(doc, p.maxFields); err != nil {
			b.reject(doc.Key, 0, err)
			continue
		}
		if err := b.checkVector(doc.Vector); err != nil {
			b.reject(doc.Key, 0, err)
			continue
		}

		id, found, err := b.snap.ExternalID(doc.Key)
		if err != nil {
			return err
		}
		if found {
			old, err := b.snap.Document(id)
			if err != nil && !storage.IsNotFound(err) {
				return err
			}
			if old != nil && core.ContentHash(old) == core.ContentHash(doc) {
				b.unchanged++
				continue
			}
		}

		if err := internFields(b.ch.fields, doc); err != nil {
			b.reject(doc.Key, id, err)
			continue
		}
		it := &item{key: doc.Key, doc: doc.Clone(), replaced: found}
		it.vector = it.doc.Vector
		if found {
			it.id = id
			b.ch.replaced = append(b.ch.replaced, id)
		} else {
			it.id = b.allocate()
		}
		items = append(items, it)
	}

	p.embed(ctx, b, items)
	b.ch.items = items
	return nil
}

func (p *Pipeline) receiveDeletions(b *batch, keys []string) error {
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := core.ValidateKey(key); err != nil {
			b.reject(key, 0, err)
			continue
		}
		id, found, err := b.snap.ExternalID(key)
		if err != nil {
			return err
		}
		if !found {
			b.reject(key, 0, ErrDocumentNotFound)
			continue
		}
		b.ch.deleted = append(b.ch.deleted, deletion{key: key, id: id})
	}
	return nil
}

// receiveAll loads every stored document for a rebuild. Stored vectors are
// reused so a rebuild does not call the embedder for them again.
func (p *Pipeline) receiveAll(ctx context.Context, b *batch) error {
	var items []*item
	err := b.snap.ScanDocuments(func(id core.DocumentID, doc *core.Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := doc.Vector
		if len(vec) == 0 {
			stored, err := b.snap.Vector(id)
			if err != nil {
				return err
			}
			vec = stored
		}
		if err := internFields(b.ch.fields, doc); err != nil {
			return err
		}
		items = append(items, &item{key: doc.Key, id: id, doc: doc, vector: vec})
		return nil
	})
	if err != nil {
		return err
	}
	p.embed(ctx, b, items)
	b.ch.items = items
	return nil
}

func internFields(fields *core.FieldMap, doc *core.Document) error {
	for _, name := range doc.FieldNames() {
		if _, err := fields.Insert(name); err != nil {
			return err
		}
	}
	return nil
}

// embed generates vectors for items without one. A failing embedder
// degrades to indexing the documents without vectors.
func (p *Pipeline) embed(ctx context.Context, b *batch, items []*item) {
	if p.embedder == nil || len(b.settings.EmbedFields) == 0 {
		return
	}
	var (
		targets []*item
		texts   []string
	)
	for _, it := range items {
		if len(it.vector) > 0 {
			continue
		}
		if text := embedText(it.doc, b.settings.EmbedFields); text != "" {
			targets = append(targets, it)
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return
	}

	vecs, err := ai.EmbedWithRetry(ctx, p.embedder, p.embedCfg, texts)
	if err != nil {
		p.metrics.EmbedFailed()
		p.logger.Warn("indexing documents without embeddings",
			"count", len(texts),
			"err", fmt.Errorf("%w: %w", core.ErrCollaborator, err))
		return
	}
	for i, it := range targets {
		if err := b.checkVector(vecs[i]); err != nil {
			p.logger.Warn("dropping generated embedding", "key", it.key, "err", err)
			continue
		}
		it.vector = vecs[i]
	}
}

// embedText concatenates the text of the embed fields in settings order.
func embedText(doc *core.Document, fields []string) string {
	var parts []string
	for _, name := range fields {
		if v, ok := doc.Fields[name]; ok {
			parts = append(parts, v.Texts()...)
		}
	}
	return strings.Join(parts, "\n")
}

// extract shards the batch across the worker pool by document id. Each
// worker owns its extractor, so extraction shares no mutable state.
func (p *Pipeline) extract(ctx context.Context, dir string, tracker *batchTracker, b *batch) ([]*extractor, error) {
	items := b.ch.items
	workers := max(1, min(p.workers, len(items)))
	limit := p.maxMemory / workers / len(extractedDatabases)
	analyzer := analysis.ForSettings(b.settings)

	shards := make([][]*item, workers)
	for _, it := range items {
		w := int(it.id) % workers
		shards[w] = append(shards[w], it)
	}

	extractors := make([]*extractor, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := range workers {
		x := newExtractor(w, dir, limit, analyzer, b.settings, b.ch.fields, tracker.logger)
		extractors[w] = x
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			for _, it := range shards[w] {
				if err := ctx.Err(); err != nil {
					errs[w] = err
					return
				}
				if err := x.extract(it); err != nil {
					errs[w] = fmt.Errorf("extract %q: %w", it.key, err)
					return
				}
			}
		})
		if err != nil {
			wg.Done()
			errs[w] = fmt.Errorf("%w: submit extraction: %w", core.ErrResource, err)
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	tracker.logger.Debug("extraction finished", "documents", len(items), "workers", workers)
	return extractors, nil
}
