package filter

import (
	"errors"
	"testing"

	"github.com/poiesic/sift/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`genre = horror`, `genre = horror`},
		{`genre = "science fiction"`, `genre = "science fiction"`},
		{`year>=2000`, `year >= 2000`},
		{`price 10 TO 20`, `price 10 TO 20`},
		{`color IN [red, 'dark blue']`, `color IN [red, "dark blue"]`},
		{`color NOT IN [red]`, `NOT color IN [red]`},
		{`rating EXISTS`, `rating EXISTS`},
		{`a = 1 AND b = 2 OR c = 3`, `((a = 1 AND b = 2) OR c = 3)`},
		{`a = 1 and (b = 2 or c = 3)`, `(a = 1 AND (b = 2 OR c = 3))`},
		{`NOT NOT a != -1.5`, `NOT NOT a != -1.5`},
		{`_geoRadius(48.85, 2.35, 2000)`, `_geoRadius(48.85, 2.35, 2000)`},
		{`_geoBoundingBox([50, 1], [48, 3])`, `_geoBoundingBox([50, 1], [48, 3])`},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			node, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, node.String())
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		input string
		pos   int
	}{
		{``, 0},
		{`genre =`, 7},
		{`genre horror`, 12},
		{`genre ! horror`, 6},
		{`(genre = a`, 10},
		{`genre = 'open`, 8},
		{`color IN [a b]`, 12},
		{`_geoRadius(48, x, 10)`, 15},
		{`_geoRadius(95, 2, 10)`, 0},
		{`a = 1 b`, 6},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			_, err := Parse(tc.input)
			var syn *SyntaxError
			require.True(t, errors.As(err, &syn), "got %v", err)
			assert.Equal(t, tc.pos, syn.Pos)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestParse_DeepNesting(t *testing.T) {
	input := ""
	for i := 0; i < maxParseDepth+1; i++ {
		input += "("
	}
	input += "a = 1"
	_, err := Parse(input)
	var syn *SyntaxError
	require.ErrorAs(t, err, &syn)
	assert.Contains(t, syn.Msg, "nested too deeply")
}
