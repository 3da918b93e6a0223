package query

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/blevesearch/vellum"
	"github.com/blevesearch/vellum/levenshtein"
)

// Dictionary is the sorted set of every indexed word, held as a finite-state
// transducer. The zero Dictionary is empty.
type Dictionary struct {
	fst *vellum.FST
}

// LoadDictionary opens serialized dictionary bytes. Empty input yields an
// empty dictionary.
func LoadDictionary(data []byte) (*Dictionary, error) {
	if len(data) == 0 {
		return &Dictionary{}, nil
	}
	fst, err := vellum.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
	}
	return &Dictionary{fst: fst}, nil
}

// BuildDictionary serializes words, which must be strictly ascending.
func BuildDictionary(words iter.Seq[string]) ([]byte, error) {
	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
	}
	n := 0
	for word := range words {
		if err := builder.Insert([]byte(word), 0); err != nil {
			return nil, fmt.Errorf("%w: insert %q: %w", ErrDictionary, word, err)
		}
		n++
	}
	if err := builder.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf.Bytes(), nil
}

// Len returns the number of words.
func (d *Dictionary) Len() int {
	if d.fst == nil {
		return 0
	}
	return d.fst.Len()
}

// Contains reports whether word is indexed.
func (d *Dictionary) Contains(word string) bool {
	if d.fst == nil {
		return false
	}
	ok, err := d.fst.Contains([]byte(word))
	return err == nil && ok
}

// Words yields every word in ascending order.
func (d *Dictionary) Words() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if d.fst == nil {
			return
		}
		itr, err := d.fst.Iterator(nil, nil)
		for err == nil {
			key, _ := itr.Current()
			if !yield(string(key), nil) {
				return
			}
			err = itr.Next()
		}
		if !errors.Is(err, vellum.ErrIteratorDone) {
			yield("", err)
		}
	}
}

// Prefix returns up to limit words starting with prefix, in ascending
// order. The prefix itself is included when indexed.
func (d *Dictionary) Prefix(prefix string, limit int) ([]string, error) {
	if d.fst == nil || limit <= 0 {
		return nil, nil
	}
	var out []string
	itr, err := d.fst.Iterator([]byte(prefix), prefixEnd([]byte(prefix)))
	for err == nil && len(out) < limit {
		key, _ := itr.Current()
		out = append(out, string(key))
		err = itr.Next()
	}
	if err != nil && !errors.Is(err, vellum.ErrIteratorDone) {
		return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
	}
	return out, nil
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Match is a dictionary word within some edit distance of a query word.
type Match struct {
	Word     string
	Distance int
}

var (
	builderOnce [3]sync.Once
	builders    [3]*levenshtein.LevenshteinAutomatonBuilder
	builderErrs [3]error
)

// automatonBuilder returns the shared Levenshtein builder for a distance.
// Building one is expensive, so each is built once per process.
func automatonBuilder(distance int) (*levenshtein.LevenshteinAutomatonBuilder, error) {
	builderOnce[distance].Do(func() {
		builders[distance], builderErrs[distance] = levenshtein.NewLevenshteinAutomatonBuilder(uint8(distance), true)
	})
	return builders[distance], builderErrs[distance]
}

// Fuzzy returns the words within maxDistance edits of word, transpositions
// counting as one edit. The word itself is not returned. Each match carries
// its smallest distance.
func (d *Dictionary) Fuzzy(word string, maxDistance int) ([]Match, error) {
	if d.fst == nil || maxDistance <= 0 {
		return nil, nil
	}
	maxDistance = min(maxDistance, 2)

	seen := map[string]bool{word: true}
	var out []Match
	for distance := 1; distance <= maxDistance; distance++ {
		builder, err := automatonBuilder(distance)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
		}
		dfa, err := builder.BuildDfa(word, uint8(distance))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
		}
		itr, err := d.fst.Search(dfa, nil, nil)
		for err == nil {
			key, _ := itr.Current()
			if w := string(key); !seen[w] {
				seen[w] = true
				out = append(out, Match{Word: w, Distance: distance})
			}
			err = itr.Next()
		}
		if !errors.Is(err, vellum.ErrIteratorDone) {
			return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
		}
	}
	return out, nil
}
