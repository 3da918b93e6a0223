package ranking

import (
	"testing"

	"github.com/poiesic/sift/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]string{"words", "typo", "price:desc", "sort"})
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.Equal(t, RuleWords, rules[0].Kind)
	assert.Equal(t, Rule{Kind: RuleCustom, Field: "price", Descending: true}, rules[2])
	assert.Equal(t, "price:desc", rules[2].String())
	assert.Equal(t, "sort", rules[3].String())

	_, err = ParseRules([]string{"words", "popularity"})
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		in      string
		want    Rule
		wantErr bool
	}{
		{in: "price:asc", want: Rule{Kind: RuleSort, Field: "price"}},
		{in: "release.year:DESC", want: Rule{Kind: RuleSort, Field: "release.year", Descending: true}},
		{in: "_geoPoint(48.85, 2.35):asc", want: Rule{Kind: RuleSort, Geo: &core.GeoPoint{Lat: 48.85, Lng: 2.35}}},
		{in: "price", wantErr: true},
		{in: "price:up", wantErr: true},
		{in: ":asc", wantErr: true},
		{in: "_geoPoint(95,0):asc", wantErr: true},
		{in: "_geoPoint(1):asc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSort(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSort)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpand(t *testing.T) {
	rules, err := ParseRules(core.DefaultRankingRules)
	require.NoError(t, err)
	price, err := ParseSort("price:asc")
	require.NoError(t, err)

	expanded := Expand(rules, []Rule{price})
	assert.Len(t, expanded, len(rules))
	assert.Equal(t, price, expanded[len(expanded)-1])

	assert.Len(t, Expand(rules, nil), len(rules)-1)
}
