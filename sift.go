// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package sift is an embedded hybrid search index. An Index combines a
// badger store, the indexing pipeline that writes to it and a searcher that
// ranks documents against consistent snapshots.
package sift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/sift/ai"
	"github.com/poiesic/sift/ai/openai"
	"github.com/poiesic/sift/catalog"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/indexing"
	"github.com/poiesic/sift/metrics"
	"github.com/poiesic/sift/ranking"
	"github.com/poiesic/sift/search"
	"github.com/poiesic/sift/storage"
	"github.com/poiesic/sift/storage/badger"
	"github.com/prometheus/client_golang/prometheus"
)

// Index is an open search index.
type Index struct {
	backend  *badger.Backend
	store    storage.DocumentStore
	catalog  *catalog.Catalog
	pipeline *indexing.Pipeline
	searcher *search.Searcher
	provider ai.Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	inMemory     bool
	logger       *slog.Logger
	provider     ai.Provider
	aiConfig     *ai.Config
	registerer   prometheus.Registerer
	pipelineOpts []indexing.Option
	searcherOpts []search.Option
}

// WithInMemory keeps the index in memory. The path passed to Open is
// ignored.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithLogger sets the logger shared by every component.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProvider sets the embedding provider. The index closes it on Close.
func WithProvider(provider ai.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithAIConfig creates an OpenAI-compatible embedding provider from cfg.
// Ignored when WithProvider is also given.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *options) {
		o.aiConfig = cfg
	}
}

// WithRegisterer registers the index metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithPipelineOptions passes extra options to the indexing pipeline.
func WithPipelineOptions(opts ...indexing.Option) Option {
	return func(o *options) {
		o.pipelineOpts = append(o.pipelineOpts, opts...)
	}
}

// WithSearcherOptions passes extra options to the searcher.
func WithSearcherOptions(opts ...search.Option) Option {
	return func(o *options) {
		o.searcherOpts = append(o.searcherOpts, opts...)
	}
}

// Open opens or creates the index stored at path.
func Open(path string, opts ...Option) (*Index, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	backend, err := badger.OpenBackend(path, o.inMemory, badger.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	ix := &Index{
		backend:  backend,
		store:    badger.NewDocumentStore(backend),
		catalog:  catalog.New(catalog.WithLogger(o.logger)),
		provider: o.provider,
		logger:   o.logger.With("component", "index"),
	}

	if ix.provider == nil && o.aiConfig != nil {
		ix.provider, err = openai.NewProvider(o.aiConfig)
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	if o.registerer != nil {
		ix.metrics, err = metrics.New(o.registerer)
		if err != nil {
			ix.Close()
			return nil, err
		}
	}

	pipelineOpts := []indexing.Option{indexing.WithLogger(o.logger), indexing.WithMetrics(ix.metrics)}
	searcherOpts := []search.Option{search.WithLogger(o.logger), search.WithMetrics(ix.metrics)}
	if ix.provider != nil {
		pipelineOpts = append(pipelineOpts, indexing.WithEmbedder(ix.provider.Embedder()))
		searcherOpts = append(searcherOpts, search.WithEmbedder(ix.provider.Embedder()))
		if o.aiConfig != nil {
			pipelineOpts = append(pipelineOpts, indexing.WithEmbedConfig(o.aiConfig))
			searcherOpts = append(searcherOpts, search.WithEmbedConfig(o.aiConfig))
		}
	}

	ix.pipeline, err = indexing.NewPipeline(ix.store, ix.catalog, append(pipelineOpts, o.pipelineOpts...)...)
	if err != nil {
		ix.Close()
		return nil, err
	}
	ix.searcher, err = search.NewSearcher(ix.store, ix.catalog, append(searcherOpts, o.searcherOpts...)...)
	if err != nil {
		ix.Close()
		return nil, err
	}

	// Warm the derived structures of the stored version.
	if err := ix.warm(); err != nil {
		ix.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) warm() error {
	snap, err := ix.store.Snapshot(context.Background())
	if err != nil {
		return err
	}
	defer snap.Close()
	view, err := ix.catalog.For(snap)
	if err != nil {
		return err
	}
	ix.catalog.Publish(view)
	ix.logger.Info("index opened", "version", view.Version, "terms", view.Dictionary.Len())
	return nil
}

// Close releases the pipeline, the provider and the store.
func (ix *Index) Close() error {
	if ix.pipeline != nil {
		ix.pipeline.Release()
	}
	var errs []error
	if ix.provider != nil {
		if err := ix.provider.Close(); err != nil {
			ix.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if err := ix.backend.Close(); err != nil {
		ix.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Pipeline returns the indexing pipeline.
func (ix *Index) Pipeline() *indexing.Pipeline {
	return ix.pipeline
}

// Searcher returns the searcher.
func (ix *Index) Searcher() *search.Searcher {
	return ix.searcher
}

// Metrics returns the index metrics, or nil when none were registered.
func (ix *Index) Metrics() *metrics.Metrics {
	return ix.metrics
}

// Settings returns the settings of the latest committed version.
func (ix *Index) Settings(ctx context.Context) (*core.Settings, error) {
	snap, err := ix.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return snap.Settings()
}

// UpdateSettings validates settings, stores them and reindexes every
// document under them in one commit.
func (ix *Index) UpdateSettings(ctx context.Context, settings *core.Settings) (*indexing.BatchResult, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: settings are nil", core.ErrValidation)
	}
	settings = settings.Clone()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	rules, err := ranking.ParseRules(settings.RankingRules)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if rule.Kind == ranking.RuleCustom && rule.Geo == nil && !settings.IsSortable(rule.Field) {
			return nil, fmt.Errorf("%w: %w: %q", core.ErrValidation, search.ErrNotSortable, rule.Field)
		}
	}
	return ix.pipeline.ApplySettings(ctx, settings)
}

// Stats describes the latest committed version.
type Stats struct {
	Version   uint64
	Documents uint64
	Fields    []string
	Terms     int
	GeoPoints int
	Vectors   int
}

// Stats reports the size of the latest committed version.
func (ix *Index) Stats(ctx context.Context) (*Stats, error) {
	snap, err := ix.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	ids, err := snap.DocumentIDs()
	if err != nil {
		return nil, err
	}
	fields, err := snap.FieldMap()
	if err != nil {
		return nil, err
	}
	view, err := ix.catalog.For(snap)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Version:   snap.Version(),
		Documents: ids.GetCardinality(),
		Fields:    fields.Names(),
		Terms:     view.Dictionary.Len(),
		GeoPoints: view.Geo.Len(),
		Vectors:   view.Vectors.Len(),
	}, nil
}
