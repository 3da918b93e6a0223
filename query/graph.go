package query

import (
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// MaxQueryWords is the number of query words kept after stop word removal.
const MaxQueryWords = 10

// Kind tags how a derivation was produced.
type Kind uint8

const (
	KindExact Kind = iota
	KindTypo
	KindPrefix
	KindSynonym
	KindSplit
	KindConcat
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindTypo:
		return "typo"
	case KindPrefix:
		return "prefix"
	case KindSynonym:
		return "synonym"
	case KindSplit:
		return "split"
	case KindConcat:
		return "concat"
	default:
		return "unknown"
	}
}

// Derivation is one way to match the query words covered by an edge of the
// graph.
type Derivation struct {
	// Words are the dictionary words that must all match. A split or a
	// multi-word synonym has more than one word, in document order.
	Words []string

	Kind Kind

	// Typos is the edit distance charged by the typo rule.
	Typos int

	// Span is the number of query positions the derivation covers.
	Span int

	// Weight is a relevance weight, 1 for an exact match and lower for
	// derived alternatives.
	Weight float64

	// Docs are the documents matching the derivation.
	Docs *roaring.Bitmap
}

// First returns the word a preceding term pairs with.
func (d *Derivation) First() string { return d.Words[0] }

// Last returns the word a following term pairs with.
func (d *Derivation) Last() string { return d.Words[len(d.Words)-1] }

// Exact reports whether the derivation matches the query word as typed.
func (d *Derivation) Exact() bool { return d.Kind == KindExact }

func (d *Derivation) String() string {
	return d.Kind.String() + ":" + strings.Join(d.Words, "+")
}

// Term is one query word and the derivations starting at its position.
type Term struct {
	Word     string
	Position int
	Prefix   bool

	// Alternatives start at Position. Their spans may reach later positions.
	Alternatives []*Derivation
}

// Graph is the expanded query: one Term per kept query word.
type Graph struct {
	Terms []Term

	// Dropped lists the stop words removed from the query.
	Dropped []string
}

// Len returns the number of query positions.
func (g *Graph) Len() int {
	return len(g.Terms)
}

// Words returns the query words in order.
func (g *Graph) Words() []string {
	out := make([]string, len(g.Terms))
	for i, t := range g.Terms {
		out[i] = t.Word
	}
	return out
}

// Edge is a derivation together with the positions it spans.
type Edge struct {
	From, To int
	*Derivation
}

// EdgesTo returns every derivation ending right before position to, that
// is, covering positions up to to-1.
func (g *Graph) EdgesTo(to int) []Edge {
	var out []Edge
	for from := 0; from < to; from++ {
		for _, alt := range g.Terms[from].Alternatives {
			if from+alt.Span == to {
				out = append(out, Edge{From: from, To: to, Derivation: alt})
			}
		}
	}
	return out
}

// Truncate returns a graph over the first n positions. Derivations reaching
// past n are dropped.
func (g *Graph) Truncate(n int) *Graph {
	if n >= len(g.Terms) {
		return g
	}
	out := &Graph{Terms: make([]Term, n), Dropped: g.Dropped}
	for i := 0; i < n; i++ {
		t := g.Terms[i]
		alts := make([]*Derivation, 0, len(t.Alternatives))
		for _, alt := range t.Alternatives {
			if i+alt.Span <= n {
				alts = append(alts, alt)
			}
		}
		t.Alternatives = alts
		out.Terms[i] = t
	}
	return out
}

// Matching returns the documents with a full path through the graph: every
// position covered by a matching derivation.
func (g *Graph) Matching(universe *roaring.Bitmap) *roaring.Bitmap {
	n := len(g.Terms)
	if n == 0 {
		return universe.Clone()
	}
	reach := make([]*roaring.Bitmap, n+1)
	reach[0] = universe
	for to := 1; to <= n; to++ {
		var parts []*roaring.Bitmap
		for _, e := range g.EdgesTo(to) {
			if reach[e.From] == nil || reach[e.From].IsEmpty() {
				continue
			}
			parts = append(parts, roaring.And(reach[e.From], e.Docs))
		}
		reach[to] = roaring.FastOr(parts...)
	}
	return reach[n]
}
