package analysis

import (
	"testing"

	"github.com/poiesic/sift/core"
	"github.com/stretchr/testify/assert"
)

func TestAnalyzer_Segment(t *testing.T) {
	a := New()
	text := "Running, shoes!  Café 42"
	tokens := a.Segment(text)

	assert.Equal(t, []Token{
		{Text: "running", Start: 0, End: 7},
		{Text: "shoes", Start: 9, End: 14},
		{Text: "cafe", Start: 17, End: 22},
		{Text: "42", Start: 23, End: 25},
	}, tokens)

	for _, tok := range tokens {
		assert.NotEmpty(t, text[tok.Start:tok.End])
	}
}

func TestAnalyzer_Stemming(t *testing.T) {
	plain := New()
	stemmed := New(WithStemming(true))

	assert.Equal(t, []string{"running", "shoes"}, plain.Words("running shoes"))
	assert.Equal(t, []string{"run", "shoe"}, stemmed.Words("running shoes"))
}

func TestAnalyzer_ForSettings(t *testing.T) {
	a := ForSettings(core.NewSettings(core.WithStemming("english")))
	assert.Equal(t, "connect", a.Normalize("Connections"))
}

func TestAnalyzer_DropsOversizedWords(t *testing.T) {
	long := make([]byte, core.MaxWordLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.Equal(t, []string{"ok"}, New().Words(string(long)+" ok"))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "creme brulee", Fold("Crème Brûlée"))
	assert.Equal(t, "strasse", Fold("STRASSE"))
}

func TestWordSet(t *testing.T) {
	set := New(WithStemming(true)).WordSet([]string{"The", "Shoes", ""})
	assert.Equal(t, map[string]bool{"the": true, "shoe": true}, set)
}
