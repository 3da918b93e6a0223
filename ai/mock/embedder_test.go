package mock

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicVector(t *testing.T) {
	a := DeterministicVector("running shoes", 8)
	b := DeterministicVector("running shoes", 8)
	c := DeterministicVector("trail boots", 8)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, f := range a {
		sum += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder_ConcurrentCalls(t *testing.T) {
	emb := NewMockEmbedder(WithDimensions(4))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vecs, err := emb.EmbedTexts(context.Background(), []string{"a", "b"})
			assert.NoError(t, err)
			assert.Len(t, vecs, 2)
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, emb.CallCount())
	assert.Len(t, emb.Texts(), 32)

	emb.Reset()
	assert.Zero(t, emb.CallCount())
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider(WithDimensions(2))
	vec, err := p.Embedder().EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	require.NoError(t, p.Close())
	assert.True(t, p.(*MockProvider).Closed())
}
