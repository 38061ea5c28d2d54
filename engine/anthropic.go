package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// DefaultModel is used when AnthropicGenerator gets no model.
const DefaultModel = "claude-sonnet-4-20250514"

// continueMessage is the single user turn sent with every prompt. The
// conversation itself lives in the system block and ends with "NAME:".
const continueMessage = "Continue the conversation with your next reply."

// AnthropicGenerator generates replies with the Claude Messages API.
type AnthropicGenerator struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

var _ StreamingGenerator = (*AnthropicGenerator)(nil)

// NewAnthropicGenerator creates a generator. Zero model and maxTokens fall
// back to DefaultModel and 1024.
func NewAnthropicGenerator(client *anthropic.Client, model string, maxTokens int64) *AnthropicGenerator {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicGenerator{client: client, model: model, maxTokens: maxTokens}
}

func (g *AnthropicGenerator) params(prompt string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(continueMessage)),
		},
	}
}

// Generate returns the concatenated text blocks of one response.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, g.params(prompt))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("response has no text")
	}
	return b.String(), nil
}

// GenerateStream streams text deltas to onDelta and returns the full reply.
func (g *AnthropicGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	stream := g.client.Messages.NewStreaming(ctx, g.params(prompt))
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
				b.WriteString(delta.Text)
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return "", errors.New("response has no text")
	}
	return b.String(), nil
}
