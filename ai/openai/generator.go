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


package openai

import (
	"context"
	"log/slog"

	"github.com/poiesic/syllabus/ai"
	"github.com/tmc/langchaingo/llms/openai"
)

const generationTemperature = 0.4

// Generator implements ai.LLM using OpenAI-compatible chat APIs.
type Generator struct {
	client contentGenerator
	logger *slog.Logger
}

// newGenerator is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GeneratorHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.GeneratorModel),
	)
	if err != nil {
		return nil, err
	}

	return &Generator{
		client: client,
		logger: slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.LLM interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.LLM, error) {
	return newGenerator(config)
}

// Generate sends the prompt in JSON mode and returns the parsed document text.
// The schema is embedded in the system prompt by the prompt builder.
func (g *Generator) Generate(ctx context.Context, prompt ai.Prompt) (string, error) {
	g.logger.Debug("generating", "system_len", len(prompt.System), "user_len", len(prompt.User))
	return completeJSON(ctx, g.client, g.logger, prompt.System, prompt.User, generationTemperature)
}
