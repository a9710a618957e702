package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"adstudio/internal/infra"
)

const captionInstruction = "Describe this product photo in one short sentence suitable as an image generation prompt. " +
	"Mention the product, its material and colour, and the setting. Reply with the sentence only."

// Fetcher downloads the image being captioned.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Options configures the Gemini captioner.
type Options struct {
	APIKey  string
	Model   string
	Fetcher Fetcher
	Logger  *infra.Logger
}

// Captioner derives captions with a Gemini multimodal model.
type Captioner struct {
	models  *genai.Models
	model   string
	fetcher Fetcher
	logger  *infra.Logger
}

// NewCaptioner builds a captioner backed by the Gemini API.
func NewCaptioner(ctx context.Context, opts Options) (*Captioner, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("gemini: fetcher is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Captioner{models: client.Models, model: model, fetcher: opts.Fetcher, logger: logger}, nil
}

// Caption returns a one sentence description of the image at imageURL.
func (c *Captioner) Caption(ctx context.Context, imageURL string) (string, error) {
	data, mimeType, err := c.fetcher.Download(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("gemini: fetch image: %w", err)
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromText(captionInstruction),
			genai.NewPartFromBytes(data, mimeType),
		},
	}}
	temperature := float32(0.2)
	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	caption := strings.TrimSpace(resp.Text())
	c.logger.Debug().Str("model", c.model).Str("caption", caption).Msg("gemini: caption generated")
	return caption, nil
}
