package catalog

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/query"
	"github.com/poiesic/sift/storage"
	"github.com/poiesic/sift/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) storage.DocumentStore {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fst, err := query.BuildDictionary(slices.Values([]string{"apple", "banana"}))
	require.NoError(t, err)
	err = store.Update(context.Background(), func(w *storage.Writer) error {
		if err := w.PutDictionary(fst); err != nil {
			return err
		}
		if err := w.Put(storage.GeoPoints, storage.DocidKey(1), storage.MarshalGeoPoint(core.GeoPoint{Lat: 1, Lng: 2})); err != nil {
			return err
		}
		if err := w.Put(storage.Vectors, storage.DocidKey(2), storage.MarshalVector([]float32{1, 0, 0})); err != nil {
			return err
		}
		_, err := w.BumpVersion()
		return err
	})
	require.NoError(t, err)
	return store
}

func TestBuild(t *testing.T) {
	store := seed(t)
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Close()

	view, err := Build(snap)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), view.Version)
	assert.Equal(t, 2, view.Dictionary.Len())
	assert.Equal(t, 1, view.Geo.Len())
	assert.Equal(t, 1, view.Vectors.Len())
	assert.Equal(t, 3, view.Vectors.Dimensions())
}

func TestCatalog_ForCachesByVersion(t *testing.T) {
	store := seed(t)
	c := New()
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Close()

	var wg sync.WaitGroup
	views := make([]*View, 8)
	for i := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.For(snap)
			assert.NoError(t, err)
			views[i] = v
		}()
	}
	wg.Wait()
	for _, v := range views {
		assert.Same(t, views[0], v)
	}
	assert.Same(t, views[0], c.Latest())
}

func TestCatalog_PublishRetention(t *testing.T) {
	c := New(WithRetained(2))
	for v := uint64(1); v <= 4; v++ {
		c.Publish(Empty(v))
	}
	assert.Equal(t, uint64(4), c.Latest().Version)

	c.mu.RLock()
	_, has1 := c.views[1]
	_, has3 := c.views[3]
	c.mu.RUnlock()
	assert.False(t, has1)
	assert.True(t, has3)

	c.Invalidate()
	assert.Nil(t, c.Latest())
}
