package search

import (
	"fmt"
	"math"
	"time"

	"github.com/poiesic/sift/core"
)

const (
	// DefaultLimit is the page size used when a request sets none.
	DefaultLimit = 20

	// MaxLimit caps the page size of a request.
	MaxLimit = 1000
)

// SearchRequest describes one query.
type SearchRequest struct {
	// Query is the free text to match. An empty query matches every
	// document allowed by the filter.
	Query string

	// Filter is a filter expression, for example
	// `genre = comedy AND year >= 2000`.
	Filter string

	// Sort lists sort clauses such as "price:asc" or
	// "_geoPoint(48.85,2.35):asc". They replace the sort ranking rule.
	Sort []string

	// Geo restricts and orders results around a point.
	Geo *GeoQuery

	// Vector is the query embedding. When empty and an embedder is
	// configured, one is generated from Query.
	Vector []float32

	// MatchingStrategy overrides the strategy of the index settings.
	MatchingStrategy core.MatchingStrategy

	Limit  int
	Offset int

	// Timeout bounds the query. Zero uses the searcher default.
	Timeout time.Duration
}

// GeoQuery is the geographic part of a request.
type GeoQuery struct {
	Point core.GeoPoint

	// RadiusMeters, when positive, keeps only documents within that
	// distance of Point.
	RadiusMeters float64
}

// SearchResponse is one page of ranked hits.
type SearchResponse struct {
	Hits []Hit

	// EstimatedTotal is the number of candidates before pagination.
	EstimatedTotal int

	// Partial is set when the deadline expired during ranking.
	Partial bool

	// VectorDegraded is set when the query embedding could not be used.
	VectorDegraded bool

	// Version is the index version the query ran against.
	Version uint64

	Took time.Duration
}

// Hit is a ranked document.
type Hit struct {
	DocumentID core.DocumentID
	Key        string
	Document   *core.Document

	// RankingDetails holds the bucket the document landed in for each
	// ranking rule that was applied, in rule order.
	RankingDetails []RuleBucket
}

// RuleBucket is the bucket a hit landed in for one rule. Lower buckets rank
// first.
type RuleBucket struct {
	Rule   string
	Bucket int
}

// normalize applies defaults and checks the request.
func (r *SearchRequest) normalize() error {
	if r.Limit < 0 || r.Offset < 0 {
		return fmt.Errorf("%w: %w: limit %d, offset %d", core.ErrValidation, ErrInvalidPagination, r.Limit, r.Offset)
	}
	if r.Limit == 0 {
		r.Limit = DefaultLimit
	}
	r.Limit = min(r.Limit, MaxLimit)

	switch r.MatchingStrategy {
	case "", core.MatchAll, core.MatchLast:
	default:
		return fmt.Errorf("%w: matching strategy %q", core.ErrValidation, r.MatchingStrategy)
	}
	for i, f := range r.Vector {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: %w: element %d", core.ErrValidation, core.ErrInvalidVector, i)
		}
	}
	if r.Geo != nil && !r.Geo.Point.Valid() {
		return fmt.Errorf("%w: invalid geo point (%v, %v)", core.ErrValidation, r.Geo.Point.Lat, r.Geo.Point.Lng)
	}
	return nil
}
