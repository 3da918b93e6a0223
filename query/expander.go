package query

import (
	"context"
	"log/slog"
	"slices"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/analysis"
	"github.com/poiesic/sift/bitmap"
	"github.com/poiesic/sift/core"
)

// maxFuzzyMatches bounds the typo alternatives kept per query word.
const maxFuzzyMatches = 150

// Source reads the postings term expansion resolves derivations against.
type Source interface {
	Postings(word string) (*roaring.Bitmap, error)
	PairProximity(left, right string, maxDistance int) (*roaring.Bitmap, error)
}

// Expander turns query tokens into a derivation graph.
type Expander struct {
	source   Source
	dict     *Dictionary
	settings *core.Settings
	analyzer *analysis.Analyzer
	logger   *slog.Logger

	stopWords   map[string]bool
	exactOnly   map[string]bool
	synonyms    map[string][][]string
	prefixLast  bool
	typoEnabled bool
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithLogger sets the logger for the expander.
func WithLogger(logger *slog.Logger) ExpanderOption {
	return func(e *Expander) {
		e.logger = logger
	}
}

// WithPrefixSearch toggles prefix expansion of the last query word.
// Enabled by default.
func WithPrefixSearch(enabled bool) ExpanderOption {
	return func(e *Expander) {
		e.prefixLast = enabled
	}
}

// NewExpander creates an expander reading from source and dict.
func NewExpander(source Source, dict *Dictionary, settings *core.Settings, analyzer *analysis.Analyzer, opts ...ExpanderOption) (*Expander, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if dict == nil {
		dict = &Dictionary{}
	}
	if settings == nil {
		settings = core.DefaultSettings()
	}
	if analyzer == nil {
		analyzer = analysis.ForSettings(settings)
	}
	e := &Expander{
		source:      source,
		dict:        dict,
		settings:    settings,
		analyzer:    analyzer,
		logger:      slog.Default(),
		prefixLast:  true,
		typoEnabled: settings.TypoTolerance.Enabled,
		stopWords:   analyzer.WordSet(settings.StopWords),
		exactOnly:   analyzer.WordSet(settings.TypoTolerance.DisableOnWords),
		synonyms:    make(map[string][][]string, len(settings.Synonyms)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "expander")

	for word, phrases := range settings.Synonyms {
		key := analyzer.Normalize(word)
		for _, phrase := range phrases {
			if words := analyzer.Words(phrase); len(words) > 0 {
				e.synonyms[key] = append(e.synonyms[key], words)
			}
		}
	}
	return e, nil
}

// Expand builds the derivation graph of tokens. Stop words are removed
// unless every token is one, and the query is cut to MaxQueryWords.
// A word without any matching derivation keeps an empty alternative list.
func (e *Expander) Expand(ctx context.Context, tokens []analysis.Token) (*Graph, error) {
	words, dropped := e.keptWords(tokens)
	g := &Graph{Terms: make([]Term, len(words)), Dropped: dropped}

	for i, word := range words {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		term := Term{
			Word:     word,
			Position: i,
			Prefix:   e.prefixLast && i == len(words)-1,
		}
		alts, err := e.alternatives(word, term.Prefix)
		if err != nil {
			return nil, err
		}
		if i+1 < len(words) {
			concat, err := e.concat(word, words[i+1])
			if err != nil {
				return nil, err
			}
			if concat != nil {
				alts = append(alts, concat)
			}
		}
		term.Alternatives = alts
		g.Terms[i] = term
	}

	e.logger.Debug("expanded query", "words", words, "dropped", len(dropped))
	return g, nil
}

func (e *Expander) keptWords(tokens []analysis.Token) ([]string, []string) {
	var kept, dropped []string
	for _, tok := range tokens {
		if e.stopWords[tok.Text] {
			dropped = append(dropped, tok.Text)
			continue
		}
		kept = append(kept, tok.Text)
	}
	if len(kept) == 0 {
		kept, dropped = dropped, nil
	}
	if len(kept) > MaxQueryWords {
		kept = kept[:MaxQueryWords]
	}
	return kept, dropped
}

// MaxTypos returns the number of typos a word of the given length may carry.
func MaxTypos(word string, tt core.TypoTolerance) int {
	if !tt.Enabled {
		return 0
	}
	n := utf8.RuneCountInString(word)
	switch {
	case n >= tt.TwoTyposMinLength:
		return 2
	case n >= tt.OneTypoMinLength:
		return 1
	default:
		return 0
	}
}

func (e *Expander) alternatives(word string, prefix bool) ([]*Derivation, error) {
	w := e.settings.Weights
	seen := map[string]bool{word: true}
	var alts []*Derivation

	add := func(d *Derivation, docs *roaring.Bitmap) {
		if docs.IsEmpty() {
			return
		}
		d.Docs = docs
		alts = append(alts, d)
	}

	exact, err := e.source.Postings(word)
	if err != nil {
		return nil, err
	}
	add(&Derivation{Words: []string{word}, Kind: KindExact, Span: 1, Weight: 1}, exact)

	if prefix {
		words, err := e.dict.Prefix(word, e.settings.MaxPrefixExpansions+1)
		if err != nil {
			return nil, err
		}
		for _, candidate := range words {
			if seen[candidate] {
				continue
			}
			seen[candidate] = true
			docs, err := e.source.Postings(candidate)
			if err != nil {
				return nil, err
			}
			add(&Derivation{
				Words:  []string{candidate},
				Kind:   KindPrefix,
				Span:   1,
				Weight: penalize(w.PrefixPenalty),
			}, docs)
		}
	}

	if e.typoEnabled && !e.exactOnly[word] {
		matches, err := e.dict.Fuzzy(word, MaxTypos(word, e.settings.TypoTolerance))
		if err != nil {
			return nil, err
		}
		slices.SortStableFunc(matches, func(a, b Match) int { return a.Distance - b.Distance })
		if len(matches) > maxFuzzyMatches {
			matches = matches[:maxFuzzyMatches]
		}
		for _, m := range matches {
			if seen[m.Word] {
				continue
			}
			seen[m.Word] = true
			docs, err := e.source.Postings(m.Word)
			if err != nil {
				return nil, err
			}
			add(&Derivation{
				Words:  []string{m.Word},
				Kind:   KindTypo,
				Typos:  m.Distance,
				Span:   1,
				Weight: penalize(w.TypoPenalty * float64(m.Distance)),
			}, docs)
		}
	}

	for _, phrase := range e.synonyms[word] {
		if len(phrase) == 1 && seen[phrase[0]] {
			continue
		}
		parts := make([]*roaring.Bitmap, 0, len(phrase))
		for _, sw := range phrase {
			docs, err := e.source.Postings(sw)
			if err != nil {
				return nil, err
			}
			parts = append(parts, docs)
		}
		add(&Derivation{
			Words:  phrase,
			Kind:   KindSynonym,
			Typos:  w.SynonymTypoCost,
			Span:   1,
			Weight: penalize(w.SynonymPenalty),
		}, bitmap.Intersect(parts...))
	}

	split, err := e.split(word)
	if err != nil {
		return nil, err
	}
	if split != nil {
		alts = append(alts, split)
	}
	return alts, nil
}

// split finds the two-word split of word whose halves appear adjacent in the
// most documents.
func (e *Expander) split(word string) (*Derivation, error) {
	if utf8.RuneCountInString(word) < 2 || e.dict.Len() == 0 {
		return nil, nil
	}
	var best *Derivation
	for i := range word {
		if i == 0 {
			continue
		}
		left, right := word[:i], word[i:]
		if !e.dict.Contains(left) || !e.dict.Contains(right) {
			continue
		}
		docs, err := e.source.PairProximity(left, right, 1)
		if err != nil {
			return nil, err
		}
		if docs.IsEmpty() {
			continue
		}
		if best == nil || docs.GetCardinality() > best.Docs.GetCardinality() {
			best = &Derivation{
				Words:  []string{left, right},
				Kind:   KindSplit,
				Typos:  e.settings.Weights.SplitTypoCost,
				Span:   1,
				Weight: penalize(e.settings.Weights.SplitPenalty),
				Docs:   docs,
			}
		}
	}
	return best, nil
}

// concat matches two adjacent query words written as one word.
func (e *Expander) concat(word, next string) (*Derivation, error) {
	joined := word + next
	if len(joined) > core.MaxWordLength || !e.dict.Contains(joined) {
		return nil, nil
	}
	docs, err := e.source.Postings(joined)
	if err != nil || docs.IsEmpty() {
		return nil, err
	}
	return &Derivation{
		Words:  []string{joined},
		Kind:   KindConcat,
		Typos:  e.settings.Weights.SplitTypoCost,
		Span:   2,
		Weight: penalize(e.settings.Weights.SplitPenalty),
		Docs:   docs,
	}, nil
}

func penalize(penalty float64) float64 {
	if penalty <= 0 {
		return 1
	}
	return 1 / (1 + penalty)
}
