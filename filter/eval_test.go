package filter

import (
	"context"
	"strings"
	"testing"

	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/facet"
	"github.com/poiesic/sift/geo"
	"github.com/poiesic/sift/storage"
	"github.com/poiesic/sift/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	eval *Evaluator
	snap *storage.Snapshot
}

// newFixture indexes the facet values of docs, keyed by document id.
func newFixture(t *testing.T, docs map[core.DocumentID]map[string]core.Value, opts ...EvaluatorOption) *fixture {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	fields := core.NewFieldMap()
	ix := geo.NewIndex()
	err = store.Update(ctx, func(w *storage.Writer) error {
		all := bitmap.New()
		for id, doc := range docs {
			all.Add(uint32(id))
			for name, v := range doc {
				fid, err := fields.Insert(name)
				if err != nil {
					return err
				}
				if v.Kind == core.KindGeo {
					if err := ix.Insert(id, v.Geo); err != nil {
						return err
					}
					continue
				}
				for _, fv := range facet.FromValue(v) {
					if err := w.UnionBitmap(storage.FacetByValue, storage.FacetValueKey(fid, fv), bitmap.Of(id)); err != nil {
						return err
					}
				}
			}
		}
		if err := w.PutFieldMap(fields); err != nil {
			return err
		}
		return w.PutDocumentIDs(all)
	})
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	t.Cleanup(snap.Close)

	settings := core.NewSettings(core.WithFilterableFields("genre", "year", "price", "tags", "available", "_geo", "unused"))
	opts = append([]EvaluatorOption{WithGeoIndex(ix)}, opts...)
	ev, err := NewEvaluator(snap, fields, settings, opts...)
	require.NoError(t, err)
	return &fixture{eval: ev, snap: snap}
}

func movies(t *testing.T, opts ...EvaluatorOption) *fixture {
	return newFixture(t, map[core.DocumentID]map[string]core.Value{
		0: {"genre": core.String("Horror"), "year": core.Number(1999), "price": core.Number(10),
			"tags": core.Array(core.String("gore"), core.String("classic")), "available": core.Bool(true),
			"_geo": core.Geo(48.8566, 2.3522)},
		1: {"genre": core.String("Comedy"), "year": core.Number(2005), "price": core.Number(15.5),
			"available": core.Bool(false), "_geo": core.Geo(51.5074, -0.1278)},
		2: {"genre": core.String("horror"), "year": core.Number(2010), "tags": core.Array(core.String("slasher"))},
		3: {"genre": core.String("2010"), "year": core.String("unknown")},
	}, opts...)
}

func (f *fixture) run(t *testing.T, expr string) []uint32 {
	t.Helper()
	node, err := Parse(expr)
	require.NoError(t, err)
	bm, err := f.eval.Evaluate(context.Background(), node)
	require.NoError(t, err)
	return bm.ToArray()
}

func TestEvaluate(t *testing.T) {
	f := movies(t)
	tests := []struct {
		expr string
		want []uint32
	}{
		{`genre = horror`, []uint32{0, 2}},
		{`genre = "HORROR"`, []uint32{0, 2}},
		{`genre != horror`, []uint32{1, 3}},
		{`year = 2010`, []uint32{2}},
		{`genre = 2010`, []uint32{3}},
		{`year > 1999`, []uint32{1, 2}},
		{`year >= 1999`, []uint32{0, 1, 2}},
		{`year < 2005`, []uint32{0}},
		{`year <= 2005`, []uint32{0, 1}},
		{`year 2000 TO 2010`, []uint32{1, 2}},
		{`price 10 TO 15.5`, []uint32{0, 1}},
		{`tags IN [slasher, classic]`, []uint32{0, 2}},
		{`tags NOT IN [gore]`, []uint32{1, 2, 3}},
		{`tags EXISTS`, []uint32{0, 2}},
		{`price NOT EXISTS`, []uint32{2, 3}},
		{`available = true`, []uint32{0}},
		{`genre = horror AND year > 2000`, []uint32{2}},
		{`genre = comedy OR tags = gore`, []uint32{0, 1}},
		{`NOT (genre = horror OR genre = comedy)`, []uint32{3}},
		{`unused = x`, nil},
		{`_geoRadius(48.85, 2.35, 5000)`, []uint32{0}},
		{`_geoBoundingBox([52, -1], [48, 3])`, []uint32{0, 1}},
		{`_geo EXISTS`, []uint32{0, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got := f.run(t, tc.expr)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_Commutative(t *testing.T) {
	f := movies(t)
	pairs := [][2]string{
		{`genre = horror AND year > 2000`, `year > 2000 AND genre = horror`},
		{`genre = comedy OR tags = gore`, `tags = gore OR genre = comedy`},
	}
	for _, p := range pairs {
		assert.Equal(t, f.run(t, p[0]), f.run(t, p[1]))
	}
}

func TestEvaluate_ValidationErrors(t *testing.T) {
	f := movies(t)
	for _, expr := range []string{
		`director = nolan`,
		`year > recent`,
		`year 1 TO later`,
		`genre = jazz AND director = nolan`,
		`director = nolan AND genre = jazz`,
		`unused = x AND year > recent`,
		`genre = jazz AND (price < 3 OR director NOT EXISTS)`,
	} {
		t.Run(expr, func(t *testing.T) {
			node, err := Parse(expr)
			require.NoError(t, err)
			_, err = f.eval.Evaluate(context.Background(), node)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestEvaluate_DepthLimit(t *testing.T) {
	f := movies(t, WithMaxDepth(3))

	node, err := Parse(`NOT NOT genre = horror`)
	require.NoError(t, err)
	_, err = f.eval.Evaluate(context.Background(), node)
	require.NoError(t, err)

	node, err = Parse(strings.Repeat("NOT ", 3) + `genre = horror`)
	require.NoError(t, err)
	_, err = f.eval.Evaluate(context.Background(), node)
	assert.ErrorIs(t, err, ErrTooDeep)
	assert.ErrorIs(t, err, core.ErrValidation)
}
