// Package googleai implements the Gemini provider on top of google.golang.org/genai.
// See https://ai.google.dev/ for more details.
package googleai

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/pkg/llms"
	"google.golang.org/genai"
)

// GoogleAI is a Gemini API client.
type GoogleAI struct {
	client *genai.Client
	opts   Options
}

var _ llms.Model = (*GoogleAI)(nil)

// New creates a new GoogleAI client.
func New(ctx context.Context, opts ...Option) (*GoogleAI, error) {
	clientOptions := DefaultOptions()
	for _, opt := range opts {
		opt(&clientOptions)
	}
	clientOptions.EnsureAuthPresent()

	cfg := &genai.ClientConfig{
		APIKey:     clientOptions.APIKey,
		HTTPClient: clientOptions.HTTPClient,
		Backend:    genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: clientOptions.BaseURL,
		},
	}
	if clientOptions.CloudProject != "" {
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = clientOptions.CloudProject
		cfg.Location = clientOptions.CloudLocation
		cfg.Credentials = clientOptions.Credentials
		cfg.APIKey = ""
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "googleai: failed to create client")
	}

	return &GoogleAI{
		client: client,
		opts:   clientOptions,
	}, nil
}
