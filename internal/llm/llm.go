// Package llm implements ports.LLMClient, the single text-completion
// interface used for planning, design, review, and classification fallback
// (spec.md §4.10.2-4.10.3, §4.4). Grounded on the anthropic-sdk-go manifest
// entry present in the example pack (out-of-pack API surface: no full pack
// repo exercises this SDK beyond its go.mod listing, so the call shape below
// follows the SDK's documented conventional usage).
package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shipwrightrun/shipwright/internal/ports"
)

// Client wraps the Anthropic Messages API as a single-shot text completion.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New constructs a Client. model defaults to Claude Opus when empty,
// matching the default model name used elsewhere in the pipeline (spec.md
// §4.11.3).
func New(apiKey, model string) *Client {
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeOpus4_0
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

// Complete sends prompt as a single user message and returns the
// concatenated text of the response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("complete prompt: %w", err)
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

var _ ports.LLMClient = (*Client)(nil)
