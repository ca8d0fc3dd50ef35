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


// Package ai provides abstractions for the model-backed collaborators used by
// syllabus.
//
// The package defines the interfaces the rest of the module depends on:
//
//   - Embedder: Generates vector embeddings from text
//   - TopicExtractor: Derives short topic tags from artifact text
//   - LLM: Turns an assembled Prompt into a well-formed JSON document
//   - PromptBuilder: Owns the wording of task and review prompts
//   - AIProvider: Aggregates the services for convenient initialization
//
// DefaultPromptBuilder is the stock PromptBuilder. Prompt wording is not part
// of any contract; callers only rely on the grounding and the JSON schema
// being present.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors in ai/openai return interface types. Mock constructors
// return concrete types so tests can inject behavior and count calls.
//
// # Usage Example
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "Photosynthesis converts light")
//	out, err := provider.LLM().Generate(ctx, prompt)
package ai
