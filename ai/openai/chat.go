package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/poiesic/syllabus/ai"
	"github.com/tmc/langchaingo/llms"
)

const maxParseAttempts = 3

// contentGenerator is the part of llms.Model used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// completeJSON sends a system and user message and returns the first
// response that parses as JSON. Malformed output is retried up to
// maxParseAttempts times; transport errors are returned immediately.
func completeJSON(ctx context.Context, client contentGenerator, logger *slog.Logger, system, user string, temperature float64) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(user)},
		},
	}

	var lastErr error
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		response, err := client.GenerateContent(ctx, content, llms.WithTemperature(temperature), llms.WithJSONMode())
		if err != nil {
			logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return "", err
		}

		if len(response.Choices) < 1 {
			lastErr = fmt.Errorf("%w: no choices returned", ai.ErrMalformedResponse)
			logger.Warn("no choices returned from model", "attempt", attempt+1)
			continue
		}

		text := repairJSON(stripFences(response.Choices[0].Content))
		if !json.Valid([]byte(text)) {
			lastErr = fmt.Errorf("%w: %.200q", ai.ErrMalformedResponse, text)
			logger.Warn("error parsing model response", "attempt", attempt+1, "response", text)
			continue
		}
		return text, nil
	}

	logger.Error("failed to parse model response after retries", "err", lastErr)
	return "", lastErr
}
