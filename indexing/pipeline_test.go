package indexing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/sift/ai"
	"github.com/poiesic/sift/ai/mock"
	"github.com/poiesic/sift/analysis"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/catalog"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/query"
	"github.com/poiesic/sift/storage"
	sbadger "github.com/poiesic/sift/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	pipeline *Pipeline
	store    storage.DocumentStore
	backend  *sbadger.Backend
	catalog  *catalog.Catalog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	backend, err := sbadger.OpenBackend("", true)
	require.NoError(t, err)
	store := sbadger.NewDocumentStore(backend)
	t.Cleanup(func() { store.Close() })

	cat := catalog.New()
	opts = append([]Option{WithTempDir(t.TempDir()), WithPoolSize(2)}, opts...)
	p, err := NewPipeline(store, cat, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return &fixture{pipeline: p, store: store, backend: backend, catalog: cat}
}

func (f *fixture) snapshot(t *testing.T) *storage.Snapshot {
	t.Helper()
	snap, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	t.Cleanup(snap.Close)
	return snap
}

// dump returns every stored key and value except the version counter.
// Bitmaps are rendered as id lists so equal sets compare equal.
func (f *fixture) dump(t *testing.T, only ...storage.Database) map[string]string {
	t.Helper()
	txn := f.backend.View()
	defer txn.Discard()

	out := make(map[string]string)
	for _, db := range storage.Databases() {
		if db == storage.Version || (len(only) > 0 && !slices.Contains(only, db)) {
			continue
		}
		err := txn.Iterate(db, nil, storage.IterOptions{}, func(key, value []byte) (bool, error) {
			v := string(value)
			if db.IsBitmap() {
				bm, err := bitmap.Decode(value)
				if err != nil {
					return false, err
				}
				v = fmt.Sprint(bm.ToArray())
			}
			out[db.String()+"/"+string(key)] = v
			return true, nil
		})
		require.NoError(t, err)
	}
	return out
}

func newDoc(key string, fields map[string]core.Value) *core.Document {
	return &core.Document{Key: key, Fields: fields}
}

func titled(key, title string) *core.Document {
	return newDoc(key, map[string]core.Value{"title": core.String(title)})
}

var vocabulary = []string{"red", "blue", "running", "shoe", "trail", "boot", "light", "fast", "road", "sock", "wool", "grip"}

func randomDoc(rng *rand.Rand, key string) *core.Document {
	sentence := func(n int) string {
		words := make([]string, n)
		for i := range words {
			words[i] = vocabulary[rng.IntN(len(vocabulary))]
		}
		return strings.Join(words, " ")
	}
	return newDoc(key, map[string]core.Value{
		"title": core.String(sentence(1 + rng.IntN(6))),
		"tags":  core.Array(core.String(sentence(1+rng.IntN(3))), core.String(sentence(1+rng.IntN(3)))),
		"price": core.Number(float64(rng.IntN(100))),
	})
}

// expectedPostings derives the word, word-field and pair databases of docs
// by brute force.
func expectedPostings(t *testing.T, snap *storage.Snapshot, docs map[string]*core.Document) map[string]string {
	t.Helper()
	fields, err := snap.FieldMap()
	require.NoError(t, err)
	analyzer := analysis.New()

	sets := make(map[string][]uint32)
	add := func(db storage.Database, key []byte, id core.DocumentID) {
		k := db.String() + "/" + string(key)
		if !slices.Contains(sets[k], uint32(id)) {
			sets[k] = append(sets[k], uint32(id))
		}
	}

	for key, doc := range docs {
		id, found, err := snap.ExternalID(key)
		require.NoError(t, err)
		require.True(t, found, key)

		for name, v := range doc.Fields {
			fid, ok := fields.ID(name)
			require.True(t, ok, name)
			for _, occ := range occurrences(analyzer, v) {
				add(storage.WordDocids, storage.WordKey(occ.word), id)
				add(storage.WordFieldDocids, storage.WordFieldKey(occ.word, fid), id)
			}
		}
		for pair, d := range closestPairs(analyzer, doc) {
			add(storage.WordPairProximityDocids, storage.PairKey(pair[0], pair[1], uint8(d)), id)
		}
	}

	out := make(map[string]string, len(sets))
	for k, ids := range sets {
		slices.Sort(ids)
		out[k] = fmt.Sprint(ids)
	}
	return out
}

type occurrence struct {
	offset int
	word   string
}

// occurrences lists the words of a field value with their offsets. Array
// elements are separated by more than the largest recorded proximity.
func occurrences(analyzer *analysis.Analyzer, v core.Value) []occurrence {
	var out []occurrence
	offset := 0
	for i, text := range v.Texts() {
		if i > 0 {
			offset += core.MaxProximity + 1
		}
		for _, w := range analyzer.Words(text) {
			out = append(out, occurrence{offset: offset, word: w})
			offset++
		}
	}
	return out
}

// closestPairs is the smallest proximity of every ordered word pair over all
// fields of doc. A pair seen in reverse order costs one more.
func closestPairs(analyzer *analysis.Analyzer, doc *core.Document) map[[2]string]int {
	best := make(map[[2]string]int)
	note := func(l, r string, d int) {
		if d < 1 || d > core.MaxProximity {
			return
		}
		k := [2]string{l, r}
		if cur, ok := best[k]; !ok || d < cur {
			best[k] = d
		}
	}
	for _, v := range doc.Fields {
		occ := occurrences(analyzer, v)
		for i, a := range occ {
			for _, b := range occ[i+1:] {
				d := b.offset - a.offset
				note(a.word, b.word, d)
				note(b.word, a.word, d+1)
			}
		}
	}
	return best
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	_, err := NewPipeline(nil, catalog.New())
	assert.ErrorIs(t, err, ErrStoreRequired)

	store, err := sbadger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	_, err = NewPipeline(store, nil)
	assert.ErrorIs(t, err, ErrCatalogRequired)

	_, err = NewPipeline(store, catalog.New(), WithMaxMemory(0))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPipeline_PostingsMatchBruteForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	docs := make(map[string]*core.Document)
	var batch []*core.Document
	for i := range 40 {
		d := randomDoc(rng, fmt.Sprintf("doc-%02d", i))
		docs[d.Key] = d
		batch = append(batch, d)
	}
	res, err := f.pipeline.AddOrReplace(ctx, batch)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	assert.Equal(t, 40, res.CommittedCount)

	// Replace a quarter, delete a few, so removal is exercised too.
	batch = batch[:0]
	for i := 0; i < 40; i += 4 {
		d := randomDoc(rng, fmt.Sprintf("doc-%02d", i))
		docs[d.Key] = d
		batch = append(batch, d)
	}
	_, err = f.pipeline.AddOrReplace(ctx, batch)
	require.NoError(t, err)

	var deleted []string
	for i := 1; i < 40; i += 7 {
		key := fmt.Sprintf("doc-%02d", i)
		deleted = append(deleted, key)
		delete(docs, key)
	}
	res, err = f.pipeline.Delete(ctx, deleted)
	require.NoError(t, err)
	assert.Equal(t, len(deleted), res.CommittedCount)
	assert.Equal(t, uint64(3), res.Version)

	snap := f.snapshot(t)
	want := expectedPostings(t, snap, docs)
	got := f.dump(t, storage.WordDocids, storage.WordFieldDocids, storage.WordPairProximityDocids)
	assert.Equal(t, want, got)

	// The dictionary holds exactly the indexed words.
	var words []string
	for k := range want {
		if word, ok := strings.CutPrefix(k, storage.WordDocids.String()+"/"); ok {
			words = append(words, word)
		}
	}
	slices.Sort(words)
	view := f.catalog.Latest()
	require.NotNil(t, view)
	assert.Equal(t, res.Version, view.Version)
	var dictWords []string
	for w, err := range view.Dictionary.Words() {
		require.NoError(t, err)
		dictWords = append(dictWords, w)
	}
	assert.Equal(t, words, dictWords)

	data, err := snap.Dictionary()
	require.NoError(t, err)
	stored, err := query.LoadDictionary(data)
	require.NoError(t, err)
	assert.Equal(t, len(words), stored.Len())

	ids, err := snap.DocumentIDs()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(docs)), ids.GetCardinality())
}

func TestPipeline_DeleteThenReAddIsEquivalent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	docs := []*core.Document{
		newDoc("a", map[string]core.Value{"title": core.String("running shoes"), "color": core.String("red")}),
		newDoc("b", map[string]core.Value{"title": core.String("trail running boots"), "_geo": core.Geo(48.85, 2.35)}),
		newDoc("c", map[string]core.Value{"title": core.String("wool socks"), "tags": core.Array(core.String("warm"), core.String("winter"))}),
	}
	require.NoError(t, applySettings(f, core.NewSettings(core.WithFilterableFields("color", "tags"))))
	_, err := f.pipeline.AddOrReplace(ctx, docs)
	require.NoError(t, err)
	before := f.dump(t)

	_, err = f.pipeline.Delete(ctx, []string{"b"})
	require.NoError(t, err)
	assert.NotEqual(t, before, f.dump(t))

	_, err = f.pipeline.AddOrReplace(ctx, []*core.Document{docs[1]})
	require.NoError(t, err)
	assert.Equal(t, before, f.dump(t))
}

func applySettings(f *fixture, s *core.Settings) error {
	_, err := f.pipeline.ApplySettings(context.Background(), s)
	return err
}

func TestPipeline_MergeFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "running shoes")})
	require.NoError(t, err)
	before := f.dump(t)

	injected := errors.New("disk on fire")
	f.pipeline.failMerge = func(db storage.Database) error {
		if db == storage.WordPairProximityDocids {
			return injected
		}
		return nil
	}
	_, err = f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "trail boots"), titled("b", "road shoes")})
	require.ErrorIs(t, err, injected)

	assert.Equal(t, before, f.dump(t))
	snap := f.snapshot(t)
	assert.Equal(t, first.Version, snap.Version())
	assert.Equal(t, first.Version, f.catalog.Latest().Version)
	assert.NoError(t, f.pipeline.Poisoned())

	f.pipeline.failMerge = nil
	res, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "trail boots"), titled("b", "road shoes")})
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, res.Version)
}

func TestPipeline_ConsistencyErrorPoisons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "running shoes")})
	require.NoError(t, err)

	// Lose the postings of a word behind the pipeline's back.
	require.NoError(t, f.store.Update(ctx, func(w *storage.Writer) error {
		return w.Delete(storage.WordDocids, storage.WordKey("shoes"))
	}))

	_, err = f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "trail boots")})
	require.ErrorIs(t, err, core.ErrConsistency)
	require.Error(t, f.pipeline.Poisoned())

	_, err = f.pipeline.AddOrReplace(ctx, []*core.Document{titled("b", "road")})
	assert.ErrorIs(t, err, ErrPoisoned)
	_, err = f.pipeline.Delete(ctx, []string{"a"})
	assert.ErrorIs(t, err, ErrPoisoned)

	_, err = f.pipeline.Reindex(ctx)
	require.NoError(t, err)
	assert.NoError(t, f.pipeline.Poisoned())

	snap := f.snapshot(t)
	postings, err := snap.Postings("shoes")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, postings.ToArray())

	_, err = f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "trail boots")})
	require.NoError(t, err)
}

func TestPipeline_SpillingMatchesInMemory(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	var docs []*core.Document
	for i := range 25 {
		docs = append(docs, randomDoc(rng, fmt.Sprintf("doc-%02d", i)))
	}

	inMemory := newFixture(t)
	spilling := newFixture(t, WithPoolSize(1), WithMaxMemory(len(extractedDatabases)*entryOverhead))

	for _, f := range []*fixture{inMemory, spilling} {
		_, err := f.pipeline.AddOrReplace(context.Background(), docs)
		require.NoError(t, err)
	}
	assert.Equal(t, inMemory.dump(t), spilling.dump(t))
}

func TestPipeline_ReceivedStage(t *testing.T) {
	f := newFixture(t, WithMaxFieldsPerDocument(2))
	ctx := context.Background()

	res, err := f.pipeline.AddOrReplace(ctx, []*core.Document{
		titled("a", "first version"),
		titled("bad key!", "rejected"),
		newDoc("wide", map[string]core.Value{"x": core.String("1"), "y": core.String("2"), "z": core.String("3")}),
		nil,
		titled("a", "second version"),
		titled("b", "other"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CommittedCount)
	require.Len(t, res.Errors, 3)
	assert.ErrorIs(t, res.Errors[0], core.ErrInvalidDocumentKey)
	assert.ErrorIs(t, res.Errors[1], core.ErrTooManyFields)
	assert.ErrorIs(t, res.Errors[2], core.ErrValidation)

	snap := f.snapshot(t)
	id, found, err := snap.ExternalID("a")
	require.NoError(t, err)
	require.True(t, found)
	doc, err := snap.Document(id)
	require.NoError(t, err)
	assert.Equal(t, "second version", doc.Fields["title"].Str)

	first, err := snap.Postings("first")
	require.NoError(t, err)
	assert.True(t, first.IsEmpty())
}

func TestPipeline_AllocatesLowestFreeID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "x"), titled("b", "y"), titled("c", "z")})
	require.NoError(t, err)
	_, err = f.pipeline.Delete(ctx, []string{"b"})
	require.NoError(t, err)
	_, err = f.pipeline.AddOrReplace(ctx, []*core.Document{titled("d", "w"), titled("e", "v")})
	require.NoError(t, err)

	snap := f.snapshot(t)
	for key, want := range map[string]core.DocumentID{"a": 0, "c": 2, "d": 1, "e": 3} {
		id, found, err := snap.ExternalID(key)
		require.NoError(t, err)
		require.True(t, found, key)
		assert.Equal(t, want, id, key)
	}
	_, found, err := snap.ExternalID("b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPipeline_UnchangedDocumentIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "running shoes")})
	require.NoError(t, err)

	again, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "running shoes")})
	require.NoError(t, err)
	assert.Equal(t, 1, again.CommittedCount)
	assert.Equal(t, first.Version, again.Version)
}

func TestPipeline_DeleteUnknownKey(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipeline.Delete(context.Background(), []string{"ghost", "ghost"})
	require.NoError(t, err)
	assert.Zero(t, res.CommittedCount)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrDocumentNotFound)
}

func TestPipeline_VectorDimensions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := titled("a", "one")
	a.Vector = []float32{1, 0, 0}
	b := titled("b", "two")
	b.Vector = []float32{1, 0}

	res, err := f.pipeline.AddOrReplace(ctx, []*core.Document{a, b})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b", res.Errors[0].Key)
	assert.ErrorIs(t, res.Errors[0], core.ErrInvalidVector)

	view := f.catalog.Latest()
	assert.Equal(t, 1, view.Vectors.Len())
	assert.Equal(t, 3, view.Vectors.Dimensions())
}

func TestPipeline_GeneratesEmbeddings(t *testing.T) {
	emb := mock.NewMockEmbedder(mock.WithDimensions(4))
	f := newFixture(t, WithEmbedder(emb))
	ctx := context.Background()
	require.NoError(t, applySettings(f, core.NewSettings(core.WithEmbedFields("title"))))

	supplied := titled("b", "trail boots")
	supplied.Vector = []float32{0, 0, 0, 1}
	_, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "running shoes"), supplied})
	require.NoError(t, err)

	assert.Equal(t, []string{"running shoes"}, emb.Texts())
	snap := f.snapshot(t)
	vec, err := snap.Vector(0)
	require.NoError(t, err)
	assert.Equal(t, mock.DeterministicVector("running shoes", 4), vec)
	assert.Equal(t, 2, f.catalog.Latest().Vectors.Len())

	// Rebuilds reuse stored vectors.
	_, err = f.pipeline.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.CallCount())
	assert.Equal(t, 2, f.catalog.Latest().Vectors.Len())
}

func TestPipeline_EmbeddingFailureDegrades(t *testing.T) {
	emb := mock.NewMockEmbedder(mock.WithDimensions(4))
	emb.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("service unavailable")
	}
	f := newFixture(t,
		WithEmbedder(emb),
		WithEmbedConfig(ai.NewConfig(ai.WithRetry(2, time.Millisecond))),
	)
	ctx := context.Background()
	require.NoError(t, applySettings(f, core.NewSettings(core.WithEmbedFields("title"))))

	res, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "running shoes")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CommittedCount)
	assert.Equal(t, 2, emb.CallCount())

	snap := f.snapshot(t)
	vec, err := snap.Vector(0)
	require.NoError(t, err)
	assert.Nil(t, vec)
	postings, err := snap.Postings("running")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, postings.ToArray())
}

func TestPipeline_ApplySettingsReindexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.AddOrReplace(ctx, []*core.Document{
		newDoc("a", map[string]core.Value{"title": core.String("running shoes"), "brand": core.String("acme")}),
	})
	require.NoError(t, err)

	require.NoError(t, applySettings(f, core.NewSettings(
		core.WithSearchableFields("title"),
		core.WithFilterableFields("brand"),
	)))

	snap := f.snapshot(t)
	settings, err := snap.Settings()
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, settings.SearchableFields)

	acme, err := snap.Postings("acme")
	require.NoError(t, err)
	assert.True(t, acme.IsEmpty(), "brand is no longer searchable")

	fields, err := snap.FieldMap()
	require.NoError(t, err)
	brand, ok := fields.ID("brand")
	require.True(t, ok)
	values, err := snap.FacetValues(brand, 0)
	require.NoError(t, err)
	assert.Len(t, values, 1)
}

func TestPipeline_PublishesGeoPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.AddOrReplace(ctx, []*core.Document{
		newDoc("paris", map[string]core.Value{"_geo": core.Geo(48.8566, 2.3522)}),
		newDoc("nowhere", map[string]core.Value{"_geo": core.Geo(123, 0)}),
	})
	require.NoError(t, err)

	view := f.catalog.Latest()
	assert.Equal(t, 1, view.Geo.Len())

	_, err = f.pipeline.Delete(ctx, []string{"paris"})
	require.NoError(t, err)
	assert.Zero(t, f.catalog.Latest().Geo.Len())

	// A rebuilt view agrees with the incrementally derived one.
	snap := f.snapshot(t)
	rebuilt, err := catalog.Build(snap)
	require.NoError(t, err)
	assert.Zero(t, rebuilt.Geo.Len())
}

func TestPipeline_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.AddOrReplace(ctx, []*core.Document{titled("a", "running shoes")})
	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, f.pipeline.Poisoned())
}
