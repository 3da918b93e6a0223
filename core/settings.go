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


package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MatchingStrategy decides which documents qualify when not every query
// word can be matched.
type MatchingStrategy string

const (
	// MatchAll requires every query word to match.
	MatchAll MatchingStrategy = "all"
	// MatchLast drops query words from the end until documents match.
	MatchLast MatchingStrategy = "last"
)

// DefaultRankingRules is the default rule order.
var DefaultRankingRules = []string{
	"words", "typo", "proximity", "attribute", "exactness", "vector", "sort",
}

// TypoTolerance configures typo expansion of query words.
type TypoTolerance struct {
	// Enabled turns typo expansion on or off for every word.
	Enabled bool `yaml:"enabled"`

	// OneTypoMinLength is the shortest word, in characters, allowed one typo.
	// Default: 3
	OneTypoMinLength int `yaml:"oneTypoMinLength"`

	// TwoTyposMinLength is the shortest word, in characters, allowed two typos.
	// Default: 8
	TwoTyposMinLength int `yaml:"twoTyposMinLength"`

	// DisableOnWords lists words that only ever match exactly.
	DisableOnWords []string `yaml:"disableOnWords"`
}

// RankingWeights holds the constants that trade lexical criteria against each
// other and against semantic similarity.
type RankingWeights struct {
	// TypoPenalty is subtracted from an alternative's weight per typo.
	TypoPenalty float64 `yaml:"typoPenalty"`

	// PrefixPenalty is subtracted from prefix alternatives.
	PrefixPenalty float64 `yaml:"prefixPenalty"`

	// SynonymPenalty is subtracted from synonym alternatives.
	SynonymPenalty float64 `yaml:"synonymPenalty"`

	// SplitPenalty is subtracted from split and concatenation alternatives.
	SplitPenalty float64 `yaml:"splitPenalty"`

	// SplitTypoCost is the typo count charged to split and concatenation
	// alternatives by the typo rule.
	SplitTypoCost int `yaml:"splitTypoCost"`

	// SynonymTypoCost is the typo count charged to synonym alternatives.
	SynonymTypoCost int `yaml:"synonymTypoCost"`

	// SemanticHits is the number of nearest neighbours merged into the
	// candidates when a query carries a vector. Zero keeps retrieval lexical.
	SemanticHits int `yaml:"semanticHits"`

	// VectorBucketWidth quantizes cosine distances into vector rule buckets.
	// Zero puts every distinct distance in its own bucket.
	VectorBucketWidth float64 `yaml:"vectorBucketWidth"`
}

// Settings configures how documents are indexed and searched.
type Settings struct {
	// PrimaryKey names the field holding the external document key.
	PrimaryKey string `yaml:"primaryKey"`

	// SearchableFields lists the fields whose text is indexed, in attribute
	// rank order. Empty means every field in first-seen order.
	SearchableFields []string `yaml:"searchableFields"`

	// FilterableFields lists the fields usable in filters.
	FilterableFields []string `yaml:"filterableFields"`

	// SortableFields lists the fields usable in sort clauses.
	SortableFields []string `yaml:"sortableFields"`

	// RankingRules is the ranking rule order. Entries are rule names or
	// custom rules of the form "field:asc" / "field:desc".
	RankingRules []string `yaml:"rankingRules"`

	// StopWords are dropped from documents and queries.
	StopWords []string `yaml:"stopWords"`

	// Synonyms maps a word to its equivalent words or phrases.
	Synonyms map[string][]string `yaml:"synonyms"`

	// TypoTolerance configures typo expansion.
	TypoTolerance TypoTolerance `yaml:"typoTolerance"`

	// MatchingStrategy decides whether all query words must match.
	MatchingStrategy MatchingStrategy `yaml:"matchingStrategy"`

	// Stemming names a Snowball stemmer language, or "" to disable stemming.
	Stemming string `yaml:"stemming"`

	// EmbedFields lists the fields whose text is embedded when an embedder
	// is configured. Empty disables generated embeddings.
	EmbedFields []string `yaml:"embedFields"`

	// MaxPrefixExpansions bounds the words a prefix query expands to.
	// Default: 50
	MaxPrefixExpansions int `yaml:"maxPrefixExpansions"`

	// Weights holds the ranking weight constants.
	Weights RankingWeights `yaml:"weights"`
}

// SettingOption is a functional option for configuring Settings.
type SettingOption func(*Settings)

// WithPrimaryKey sets the primary key field.
func WithPrimaryKey(field string) SettingOption {
	return func(s *Settings) {
		s.PrimaryKey = field
	}
}

// WithSearchableFields sets the searchable fields in rank order.
func WithSearchableFields(fields ...string) SettingOption {
	return func(s *Settings) {
		s.SearchableFields = fields
	}
}

// WithFilterableFields sets the filterable fields.
func WithFilterableFields(fields ...string) SettingOption {
	return func(s *Settings) {
		s.FilterableFields = fields
	}
}

// WithSortableFields sets the sortable fields.
func WithSortableFields(fields ...string) SettingOption {
	return func(s *Settings) {
		s.SortableFields = fields
	}
}

// WithRankingRules sets the ranking rule order.
func WithRankingRules(rules ...string) SettingOption {
	return func(s *Settings) {
		s.RankingRules = rules
	}
}

// WithStopWords sets the stop words.
func WithStopWords(words ...string) SettingOption {
	return func(s *Settings) {
		s.StopWords = words
	}
}

// WithSynonyms sets the synonym table.
func WithSynonyms(synonyms map[string][]string) SettingOption {
	return func(s *Settings) {
		s.Synonyms = synonyms
	}
}

// WithTypoTolerance sets the typo tolerance configuration.
func WithTypoTolerance(tt TypoTolerance) SettingOption {
	return func(s *Settings) {
		s.TypoTolerance = tt
	}
}

// WithMatchingStrategy sets the matching strategy.
func WithMatchingStrategy(strategy MatchingStrategy) SettingOption {
	return func(s *Settings) {
		s.MatchingStrategy = strategy
	}
}

// WithStemming enables a Snowball stemmer for the given language.
func WithStemming(language string) SettingOption {
	return func(s *Settings) {
		s.Stemming = language
	}
}

// WithEmbedFields sets the fields embedded during indexing.
func WithEmbedFields(fields ...string) SettingOption {
	return func(s *Settings) {
		s.EmbedFields = fields
	}
}

// WithWeights sets the ranking weight constants.
func WithWeights(w RankingWeights) SettingOption {
	return func(s *Settings) {
		s.Weights = w
	}
}

// DefaultSettings returns Settings with defaults suitable for most corpora.
func DefaultSettings() *Settings {
	return &Settings{
		PrimaryKey:   DefaultPrimaryKey,
		RankingRules: slices.Clone(DefaultRankingRules),
		Synonyms:     map[string][]string{},
		TypoTolerance: TypoTolerance{
			Enabled:           true,
			OneTypoMinLength:  3,
			TwoTyposMinLength: 8,
		},
		MatchingStrategy:    MatchAll,
		MaxPrefixExpansions: 50,
		Weights: RankingWeights{
			TypoPenalty:     1.0,
			PrefixPenalty:   0.5,
			SynonymPenalty:  0.25,
			SplitPenalty:    1.0,
			SplitTypoCost:   1,
			SynonymTypoCost: 0,
			SemanticHits:    0,
		},
	}
}

// NewSettings creates Settings with the default values and applies the provided options.
//
// Example:
//
//	settings := NewSettings(
//	    WithSearchableFields("title", "overview"),
//	    WithFilterableFields("genre", "year"),
//	)
func NewSettings(opts ...SettingOption) *Settings {
	s := DefaultSettings()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	c := *s
	c.SearchableFields = slices.Clone(s.SearchableFields)
	c.FilterableFields = slices.Clone(s.FilterableFields)
	c.SortableFields = slices.Clone(s.SortableFields)
	c.RankingRules = slices.Clone(s.RankingRules)
	c.StopWords = slices.Clone(s.StopWords)
	c.EmbedFields = slices.Clone(s.EmbedFields)
	c.TypoTolerance.DisableOnWords = slices.Clone(s.TypoTolerance.DisableOnWords)
	c.Synonyms = make(map[string][]string, len(s.Synonyms))
	for k, v := range s.Synonyms {
		c.Synonyms[k] = slices.Clone(v)
	}
	return &c
}

// Normalize puts the settings in canonical form: word lists are lowercased,
// trimmed and deduplicated, and zero values fall back to defaults.
func (s *Settings) Normalize() {
	if s.PrimaryKey == "" {
		s.PrimaryKey = DefaultPrimaryKey
	}
	if len(s.RankingRules) == 0 {
		s.RankingRules = slices.Clone(DefaultRankingRules)
	}
	if s.MatchingStrategy == "" {
		s.MatchingStrategy = MatchAll
	}
	if s.MaxPrefixExpansions <= 0 {
		s.MaxPrefixExpansions = 50
	}
	s.StopWords = normalizeWords(s.StopWords)
	s.TypoTolerance.DisableOnWords = normalizeWords(s.TypoTolerance.DisableOnWords)
	s.Stemming = strings.ToLower(strings.TrimSpace(s.Stemming))

	synonyms := make(map[string][]string, len(s.Synonyms))
	for _, word := range slices.Sorted(maps.Keys(s.Synonyms)) {
		key := strings.ToLower(strings.TrimSpace(word))
		if key == "" {
			continue
		}
		synonyms[key] = normalizeWords(append(synonyms[key], s.Synonyms[word]...))
	}
	s.Synonyms = synonyms
}

// Validate checks that the settings are valid and complete.
// It normalizes the settings before validation.
func (s *Settings) Validate() error {
	s.Normalize()

	if s.MatchingStrategy != MatchAll && s.MatchingStrategy != MatchLast {
		return fmt.Errorf("%w: %w: matching strategy %q", ErrValidation, ErrInvalidSettings, s.MatchingStrategy)
	}
	tt := s.TypoTolerance
	if tt.Enabled && (tt.OneTypoMinLength < 1 || tt.TwoTyposMinLength < tt.OneTypoMinLength) {
		return fmt.Errorf("%w: %w: typo lengths %d/%d", ErrValidation, ErrInvalidSettings,
			tt.OneTypoMinLength, tt.TwoTyposMinLength)
	}
	if s.Stemming != "" && s.Stemming != "english" {
		return fmt.Errorf("%w: %w: unsupported stemming language %q", ErrValidation, ErrInvalidSettings, s.Stemming)
	}
	if s.Weights.SplitTypoCost < 0 || s.Weights.SynonymTypoCost < 0 || s.Weights.SemanticHits < 0 {
		return fmt.Errorf("%w: %w: negative weight", ErrValidation, ErrInvalidSettings)
	}
	if s.Weights.VectorBucketWidth < 0 {
		return fmt.Errorf("%w: %w: negative vector bucket width", ErrValidation, ErrInvalidSettings)
	}
	if slices.Contains(s.SearchableFields, "") || slices.Contains(s.FilterableFields, "") {
		return fmt.Errorf("%w: %w: empty field name", ErrValidation, ErrInvalidSettings)
	}
	return nil
}

// IsFilterable reports whether a field may be used in filters.
func (s *Settings) IsFilterable(field string) bool {
	return slices.Contains(s.FilterableFields, field)
}

// IsSortable reports whether a field may be used in sort clauses.
func (s *Settings) IsSortable(field string) bool {
	return slices.Contains(s.SortableFields, field)
}

// IsFacet reports whether a field's values are written to the facet databases.
func (s *Settings) IsFacet(field string) bool {
	if s.IsFilterable(field) || s.IsSortable(field) {
		return true
	}
	for _, rule := range s.RankingRules {
		if name, _, ok := strings.Cut(rule, ":"); ok && name == field {
			return true
		}
	}
	return false
}

// IsStopWord reports whether a normalized word is a stop word.
func (s *Settings) IsStopWord(word string) bool {
	_, found := slices.BinarySearch(s.StopWords, word)
	return found
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}
