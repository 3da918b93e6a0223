package indexing

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to BatchState
		want     bool
	}{
		{Received, Extracting, true},
		{Extracting, Merging, true},
		{Merging, Committing, true},
		{Committing, Committed, true},
		{Received, Merging, false},
		{Extracting, Committed, false},
		{Merging, Extracting, false},
		{Received, Failed, true},
		{Committing, Failed, true},
		{Committed, Failed, false},
		{Failed, Received, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestBatchState_String(t *testing.T) {
	assert.Equal(t, "merging", Merging.String())
	assert.Equal(t, "state(42)", BatchState(42).String())
}

func TestBatchTracker(t *testing.T) {
	tracker := newBatchTracker(1, slog.Default())
	tracker.to(Extracting)
	tracker.to(Merging)

	assert.Panics(t, func() { tracker.to(Committed) })

	tracker.fail(errors.New("boom"))
	assert.Equal(t, Failed, tracker.state)

	// Failing a finished batch is a no-op.
	assert.NotPanics(t, func() { tracker.fail(errors.New("again")) })
	assert.Greater(t, tracker.elapsed(), time.Duration(0))
}
