// Package mock provides a test double for ai.Embedder and ai.Provider.
//
// The mock lets indexing and search tests run without an embedding service
// and with deterministic vectors.
//
//	emb := mock.NewMockEmbedder(mock.WithDimensions(3))
//	emb.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("service down")
//	}
//	pipeline, _ := indexing.NewPipeline(store, cat, indexing.WithEmbedder(emb))
//
// By default each text maps to a unit vector derived from its FNV hash, so
// equal texts always embed equally.
package mock
