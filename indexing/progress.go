package indexing

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports the progress of a bulk import.
type ProgressTracker struct {
	writer         io.Writer
	total          int
	current        int
	rejected       int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

// NewProgressTracker creates a new progress tracker.
// writer: where to write progress output (typically os.Stderr)
// total: number of documents expected, or 0 when unknown
// reportInterval: report progress every N documents
func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	return &ProgressTracker{
		writer:         writer,
		total:          total,
		reportInterval: max(reportInterval, 1),
	}
}

// Start begins tracking progress.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.rejected = 0
	p.lastReported = 0
}

// Batch records the outcome of one committed batch.
func (p *ProgressTracker) Batch(res *BatchResult) {
	if res == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.current += res.CommittedCount + len(res.Errors)
	p.rejected += len(res.Errors)
	if p.total > 0 && p.current > p.total {
		p.current = p.total
	}

	if p.current-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.current
	}
}

// Finish prints the final progress line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	if p.total > 0 {
		p.current = p.total
	}
	p.report()
	fmt.Fprintln(p.writer)
}

// Processed returns the number of documents seen so far and how many of
// them were rejected.
func (p *ProgressTracker) Processed() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.rejected
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report() {
	elapsed := time.Since(p.startTime)
	rate := float64(p.current) / elapsed.Seconds()

	if p.total > 0 {
		percentage := float64(p.current) / float64(p.total) * 100.0
		fmt.Fprintf(p.writer, "\rIndexed: %d/%d (%.1f%%) - %d rejected - %.1f docs/s",
			p.current, p.total, percentage, p.rejected, rate)
		return
	}
	fmt.Fprintf(p.writer, "\rIndexed: %d - %d rejected - %.1f docs/s", p.current, p.rejected, rate)
}
