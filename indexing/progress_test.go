package indexing

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Batches(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Batch(&BatchResult{CommittedCount: 40})
	tracker.Batch(&BatchResult{CommittedCount: 48, Errors: []DocumentError{{Key: "a", Reason: errors.New("bad")}, {Key: "b", Reason: errors.New("bad")}}})
	tracker.Batch(nil)

	current, rejected := tracker.Processed()
	assert.Equal(t, 90, current)
	assert.Equal(t, 2, rejected)
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
	assert.Contains(t, buf.String(), "90/100")
	assert.Contains(t, buf.String(), "2 rejected")
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Batch(&BatchResult{CommittedCount: 75})
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "100/100", "finish should set to total")
	assert.Contains(t, output, "100.0%", "finish should show 100%")
	assert.Contains(t, output, "\n", "finish should print newline")
}

func TestProgressTracker_UnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 0, 1)

	tracker.Start()
	tracker.Batch(&BatchResult{CommittedCount: 3})
	tracker.Finish()

	assert.Contains(t, buf.String(), "Indexed: 3 - 0 rejected")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 1)

	tracker.Batch(&BatchResult{CommittedCount: 5})
	tracker.Finish()

	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}
