// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai provides the embedding abstractions used by sift.
//
// The index only needs one AI capability: turning text into vectors. Document
// embeddings feed the vector ranking rule and semantic retrieval, and query
// embeddings are generated at search time under a timeout.
//
// # Implementation Packages
//
//   - ai/openai: implementation using OpenAI-compatible APIs through langchaingo
//   - ai/mock: deterministic test doubles
//
// Public constructors (openai.NewProvider, openai.NewEmbedder) return
// interface types. Test constructors (mock.NewMockEmbedder) return concrete
// types so tests can inject behavior and assert on call counts.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "trail running shoes")
//
// Embedding calls are remote and may fail transiently. RetryWithBackoff wraps
// them with exponential backoff bounded by the caller's context.
package ai
