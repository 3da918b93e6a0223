package query

import (
	"context"
	"maps"
	"slices"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/analysis"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	postings map[string][]core.DocumentID
	adjacent map[[2]string][]core.DocumentID
}

func (f *fakeSource) Postings(word string) (*roaring.Bitmap, error) {
	return bitmap.Of(f.postings[word]...), nil
}

func (f *fakeSource) PairProximity(left, right string, _ int) (*roaring.Bitmap, error) {
	return bitmap.Of(f.adjacent[[2]string{left, right}]...), nil
}

func (f *fakeSource) dictionary(t *testing.T) *Dictionary {
	t.Helper()
	data, err := BuildDictionary(slices.Values(slices.Sorted(maps.Keys(f.postings))))
	require.NoError(t, err)
	dict, err := LoadDictionary(data)
	require.NoError(t, err)
	return dict
}

func shoeSource() *fakeSource {
	return &fakeSource{
		postings: map[string][]core.DocumentID{
			"run":      {4},
			"running":  {1},
			"runing":   {2},
			"shoe":     {2},
			"shoes":    {1},
			"sneaker":  {3},
			"the":      {1, 2, 3},
			"ice":      {5},
			"cream":    {5},
			"icecream": {6},
		},
		adjacent: map[[2]string][]core.DocumentID{
			{"ice", "cream"}: {5},
		},
	}
}

func TestDictionary(t *testing.T) {
	dict := shoeSource().dictionary(t)
	assert.Equal(t, 10, dict.Len())
	assert.True(t, dict.Contains("shoe"))
	assert.False(t, dict.Contains("sho"))

	words, err := dict.Prefix("run", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "runing", "running"}, words)

	capped, err := dict.Prefix("run", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "runing"}, capped)

	var all []string
	for w, err := range dict.Words() {
		require.NoError(t, err)
		all = append(all, w)
	}
	assert.True(t, slices.IsSorted(all))
	assert.Len(t, all, 10)
}

func TestDictionary_Empty(t *testing.T) {
	data, err := BuildDictionary(slices.Values([]string(nil)))
	require.NoError(t, err)
	assert.Nil(t, data)

	dict, err := LoadDictionary(data)
	require.NoError(t, err)
	assert.Zero(t, dict.Len())
	assert.False(t, dict.Contains("a"))

	matches, err := dict.Fuzzy("anything", 2)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDictionary_Fuzzy(t *testing.T) {
	data, err := BuildDictionary(slices.Values([]string{"runing", "running", "shoes", "the"}))
	require.NoError(t, err)
	dict, err := LoadDictionary(data)
	require.NoError(t, err)

	matches, err := dict.Fuzzy("running", 1)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Word: "runing", Distance: 1}}, matches)

	transposed, err := dict.Fuzzy("teh", 1)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Word: "the", Distance: 1}}, transposed)

	two, err := dict.Fuzzy("shoe", 2)
	require.NoError(t, err)
	assert.Contains(t, two, Match{Word: "shoes", Distance: 1})
}

func TestMaxTypos(t *testing.T) {
	tt := core.DefaultSettings().TypoTolerance
	tests := []struct {
		word string
		want int
	}{
		{"ab", 0},
		{"abc", 1},
		{"café", 1},
		{"abcdefg", 1},
		{"abcdefgh", 2},
		{"internationalization", 2},
	}
	for _, tc := range tests {
		t.Run(tc.word, func(t *testing.T) {
			assert.Equal(t, tc.want, MaxTypos(tc.word, tt))
		})
	}

	tt.Enabled = false
	assert.Zero(t, MaxTypos("abcdefgh", tt))
}

func expand(t *testing.T, src *fakeSource, settings *core.Settings, query string) *Graph {
	t.Helper()
	analyzer := analysis.ForSettings(settings)
	e, err := NewExpander(src, src.dictionary(t), settings, analyzer)
	require.NoError(t, err)
	g, err := e.Expand(context.Background(), analyzer.Segment(query))
	require.NoError(t, err)
	return g
}

func kinds(term Term) map[string]Kind {
	out := make(map[string]Kind)
	for _, alt := range term.Alternatives {
		out[alt.String()] = alt.Kind
	}
	return out
}

func TestExpand_TyposAndPrefix(t *testing.T) {
	g := expand(t, shoeSource(), core.DefaultSettings(), "running shoe")
	require.Equal(t, 2, g.Len())

	first := g.Terms[0]
	assert.False(t, first.Prefix)
	require.Len(t, first.Alternatives, 2)
	assert.Equal(t, KindExact, first.Alternatives[0].Kind)
	assert.Equal(t, KindTypo, first.Alternatives[1].Kind)
	assert.Equal(t, []string{"runing"}, first.Alternatives[1].Words)
	assert.Equal(t, 1, first.Alternatives[1].Typos)

	last := g.Terms[1]
	assert.True(t, last.Prefix)
	got := kinds(last)
	assert.Equal(t, KindExact, got["exact:shoe"])
	assert.Equal(t, KindPrefix, got["prefix:shoes"])

	assert.Equal(t, []uint32{1, 2}, g.Matching(bitmap.Of(1, 2, 3, 4, 5, 6)).ToArray())
}

func TestExpand_ShortWordsHaveNoTypos(t *testing.T) {
	settings := core.DefaultSettings()
	g := expand(t, &fakeSource{postings: map[string][]core.DocumentID{"ox": {1}, "ax": {2}}}, settings, "ox ax")
	for _, term := range g.Terms {
		for _, alt := range term.Alternatives {
			assert.NotEqual(t, KindTypo, alt.Kind, alt.String())
		}
	}
}

func TestExpand_StopWordsAndTruncation(t *testing.T) {
	settings := core.NewSettings(core.WithStopWords("the"))
	g := expand(t, shoeSource(), settings, "the shoe")
	assert.Equal(t, []string{"shoe"}, g.Words())
	assert.Equal(t, []string{"the"}, g.Dropped)

	onlyStop := expand(t, shoeSource(), settings, "the")
	assert.Equal(t, []string{"the"}, onlyStop.Words())

	long := expand(t, shoeSource(), settings, "a b c d e f g h i j k l")
	assert.Equal(t, MaxQueryWords, long.Len())
}

func TestExpand_Synonyms(t *testing.T) {
	settings := core.NewSettings(core.WithSynonyms(map[string][]string{
		"sneaker": {"running shoes"},
		"trainer": {"sneaker"},
	}))
	settings.Normalize()
	src := shoeSource()

	g := expand(t, src, settings, "trainer")
	require.Len(t, g.Terms[0].Alternatives, 1)
	alt := g.Terms[0].Alternatives[0]
	assert.Equal(t, KindSynonym, alt.Kind)
	assert.Equal(t, []uint32{3}, alt.Docs.ToArray())

	phrase := expand(t, src, settings, "sneaker")
	got := kinds(phrase.Terms[0])
	assert.Equal(t, KindSynonym, got["synonym:running+shoes"])
}

func TestExpand_SplitAndConcat(t *testing.T) {
	src := shoeSource()
	settings := core.DefaultSettings()
	settings.TypoTolerance.Enabled = false

	split := expand(t, src, settings, "icecream")
	got := kinds(split.Terms[0])
	assert.Equal(t, KindExact, got["exact:icecream"])
	assert.Equal(t, KindSplit, got["split:ice+cream"])

	concat := expand(t, src, settings, "ice cream")
	var found *Derivation
	for _, alt := range concat.Terms[0].Alternatives {
		if alt.Kind == KindConcat {
			found = alt
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 2, found.Span)
	assert.Equal(t, []uint32{5, 6}, concat.Matching(bitmap.Of(1, 2, 3, 4, 5, 6)).ToArray())
}

func TestGraph_Truncate(t *testing.T) {
	src := shoeSource()
	settings := core.DefaultSettings()
	settings.TypoTolerance.Enabled = false
	g := expand(t, src, settings, "ice cream")

	one := g.Truncate(1)
	require.Equal(t, 1, one.Len())
	for _, alt := range one.Terms[0].Alternatives {
		assert.Equal(t, 1, alt.Span)
	}
}
