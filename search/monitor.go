package search

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/poiesic/sift/query"
	"github.com/poiesic/sift/vector"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
// Bitmaps passed to the hooks belong to the search and must not be modified.
type SearchMonitor interface {
	Start(req *SearchRequest)
	AfterExpansion(graph *query.Graph)
	AfterFilter(allowed *roaring.Bitmap)
	AfterSemanticSearch(neighbors []vector.Neighbor)
	VectorDegraded(err error)
	AfterCandidates(candidates *roaring.Bitmap)
	Finish(resp *SearchResponse)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ *SearchRequest)                  {}
func (n *noopMonitor) AfterExpansion(_ *query.Graph)           {}
func (n *noopMonitor) AfterFilter(_ *roaring.Bitmap)           {}
func (n *noopMonitor) AfterSemanticSearch(_ []vector.Neighbor) {}
func (n *noopMonitor) VectorDegraded(_ error)                  {}
func (n *noopMonitor) AfterCandidates(_ *roaring.Bitmap)       {}
func (n *noopMonitor) Finish(_ *SearchResponse)                {}
