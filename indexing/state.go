package indexing

import (
	"fmt"
	"log/slog"
	"time"
)

// BatchState is the lifecycle stage of a batch.
type BatchState uint8

const (
	Received BatchState = iota
	Extracting
	Merging
	Committing
	Committed
	Failed
)

func (s BatchState) String() string {
	switch s {
	case Received:
		return "received"
	case Extracting:
		return "extracting"
	case Merging:
		return "merging"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s BatchState) Terminal() bool {
	return s == Committed || s == Failed
}

// CanTransition reports whether a batch may move from s to next.
func (s BatchState) CanTransition(next BatchState) bool {
	if s.Terminal() {
		return false
	}
	if next == Failed {
		return true
	}
	return next == s+1
}

// batchTracker holds the state of one batch and logs every transition.
type batchTracker struct {
	id      uint64
	state   BatchState
	started time.Time
	entered time.Time
	logger  *slog.Logger
}

func newBatchTracker(id uint64, logger *slog.Logger) *batchTracker {
	now := time.Now()
	b := &batchTracker{id: id, state: Received, started: now, entered: now, logger: logger.With("batch", id)}
	b.logger.Debug("batch received")
	return b
}

// to moves the batch to next. An illegal transition is a programming error
// and panics.
func (b *batchTracker) to(next BatchState) {
	if !b.state.CanTransition(next) {
		panic(fmt.Sprintf("indexing: illegal batch transition %s -> %s", b.state, next))
	}
	now := time.Now()
	b.logger.Debug("batch transition", "from", b.state, "to", next, "took", now.Sub(b.entered))
	b.state = next
	b.entered = now
}

// fail moves the batch to Failed unless it already finished.
func (b *batchTracker) fail(err error) {
	if b.state.Terminal() {
		return
	}
	b.logger.Warn("batch failed", "state", b.state, "err", err)
	b.to(Failed)
}

func (b *batchTracker) elapsed() time.Duration {
	return time.Since(b.started)
}
