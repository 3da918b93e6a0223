// Package analysis segments raw text into normalized word tokens.
//
// Segmentation follows Unicode UAX#29 word boundaries. Each word is folded
// to lowercase with diacritics removed and, when configured, reduced to its
// Snowball stem. Tokens keep the byte offsets of the original text so the
// indexer can derive positions and the ranking rules can compare words.
package analysis

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	snowballeng "github.com/kljensen/snowball/english"
	"github.com/poiesic/sift/core"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is one normalized word of a text.
type Token struct {
	// Text is the normalized word.
	Text string
	// Start and End are the byte offsets of the word in the original text.
	Start int
	End   int
}

// Tokenizer turns text into ordered normalized tokens.
// Implementations must be safe for concurrent use.
type Tokenizer interface {
	Segment(text string) []Token
}

// Analyzer is the default Tokenizer.
type Analyzer struct {
	stem bool
}

var _ Tokenizer = (*Analyzer)(nil)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithStemming enables English Snowball stemming.
func WithStemming(enabled bool) Option {
	return func(a *Analyzer) {
		a.stem = enabled
	}
}

// New creates an Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ForSettings creates the analyzer described by index settings.
func ForSettings(s *core.Settings) *Analyzer {
	return New(WithStemming(s.Stemming == "english"))
}

// Segment splits text into word tokens. Punctuation and whitespace segments
// are dropped, as are words longer than core.MaxWordLength once normalized.
func (a *Analyzer) Segment(text string) []Token {
	var tokens []Token
	seg := words.FromString(text)
	for seg.Next() {
		word := seg.Value()
		if !isWord(word) {
			continue
		}
		normalized := a.Normalize(word)
		if normalized == "" || len(normalized) > core.MaxWordLength {
			continue
		}
		tokens = append(tokens, Token{
			Text:  normalized,
			Start: seg.Start(),
			End:   seg.End(),
		})
	}
	return tokens
}

// Normalize folds a single word the same way Segment does.
func (a *Analyzer) Normalize(word string) string {
	folded := Fold(word)
	if a.stem {
		folded = snowballeng.Stem(folded, false)
	}
	return folded
}

// Words returns only the normalized texts of Segment.
func (a *Analyzer) Words(text string) []string {
	tokens := a.Segment(text)
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Text
	}
	return out
}

// Fold lowercases s and strips combining marks after canonical decomposition.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func isWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

// WordSet normalizes configured words, such as stop words, so they compare
// equal to the tokens Segment produces.
func (a *Analyzer) WordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if n := a.Normalize(w); n != "" {
			set[n] = true
		}
	}
	return set
}
