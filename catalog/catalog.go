// Package catalog publishes the in-memory structures derived from each
// committed index version: the term dictionary, the geo tree and the vector
// index. Readers look a view up by the version their snapshot observed, so
// a query never sees structures newer or older than its postings.
package catalog

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/geo"
	"github.com/poiesic/sift/query"
	"github.com/poiesic/sift/vector"
	"golang.org/x/sync/singleflight"
)

// DefaultRetained is the number of versions kept by default.
const DefaultRetained = 4

// View holds the derived structures of one committed version. A published
// view is immutable.
type View struct {
	Version    uint64
	Dictionary *query.Dictionary
	Geo        *geo.Index
	Vectors    *vector.Flat
}

// Source is the snapshot data a view is rebuilt from.
type Source interface {
	Version() uint64
	Dictionary() ([]byte, error)
	ScanGeoPoints(fn func(core.DocumentID, core.GeoPoint) error) error
	ScanVectors(fn func(core.DocumentID, []float32) error) error
}

// Catalog maps versions to views.
type Catalog struct {
	mu       sync.RWMutex
	views    map[uint64]*View
	latest   *View
	retained int
	builds   singleflight.Group
	logger   *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger for the catalog.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// WithRetained sets how many versions stay cached.
func WithRetained(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.retained = n
		}
	}
}

// New creates an empty catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		views:    make(map[uint64]*View),
		retained: DefaultRetained,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "catalog")
	return c
}

// Publish makes a view available and evicts the oldest versions beyond the
// retention limit.
func (c *Catalog) Publish(v *View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[v.Version] = v
	if c.latest == nil || v.Version >= c.latest.Version {
		c.latest = v
	}
	for len(c.views) > c.retained {
		oldest := v.Version
		for version := range c.views {
			oldest = min(oldest, version)
		}
		delete(c.views, oldest)
	}
	c.logger.Debug("published view", "version", v.Version, "words", v.Dictionary.Len(), "points", v.Geo.Len(), "vectors", v.Vectors.Len())
}

// Latest returns the newest published view, or nil.
func (c *Catalog) Latest() *View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Invalidate drops every cached view.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.views)
	c.latest = nil
}

// For returns the view of the snapshot's version, rebuilding it from the
// snapshot when it is no longer cached.
func (c *Catalog) For(src Source) (*View, error) {
	version := src.Version()
	c.mu.RLock()
	v, ok := c.views[version]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	built, err, _ := c.builds.Do(strconv.FormatUint(version, 10), func() (any, error) {
		c.logger.Info("rebuilding view", "version", version)
		view, err := Build(src)
		if err != nil {
			return nil, err
		}
		c.Publish(view)
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return built.(*View), nil
}

// Build derives a view from a snapshot.
func Build(src Source) (*View, error) {
	data, err := src.Dictionary()
	if err != nil {
		return nil, err
	}
	dict, err := query.LoadDictionary(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConsistency, err)
	}

	ix := geo.NewIndex()
	err = src.ScanGeoPoints(func(id core.DocumentID, p core.GeoPoint) error {
		return ix.Insert(id, p)
	})
	if err != nil {
		return nil, err
	}

	flat := vector.NewFlat()
	err = src.ScanVectors(func(id core.DocumentID, vec []float32) error {
		return flat.Add(id, vec)
	})
	if err != nil {
		return nil, err
	}
	return &View{Version: src.Version(), Dictionary: dict, Geo: ix, Vectors: flat}, nil
}

// Empty returns the view of an index with no documents.
func Empty(version uint64) *View {
	return &View{Version: version, Dictionary: &query.Dictionary{}, Geo: geo.NewIndex(), Vectors: vector.NewFlat()}
}
