package googleai

import (
	"context"
	"fmt"

	"marketing-server/internal/observability"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// Client wraps the Gemini API as an opaque text generator.
type Client struct {
	client *genai.Client
	model  string
	logger *observability.Logger
}

// NewClient creates a new Google AI client.
func NewClient(apiKey string, logger *observability.Logger) (*Client, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}

	return &Client{
		client: client,
		model:  defaultModel,
		logger: logger,
	}, nil
}

// GenerateText sends a single prompt and returns the full model response.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		c.logger.Error(ctx, "AI generation failed", err)
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}
