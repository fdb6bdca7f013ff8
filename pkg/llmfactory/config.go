package llmfactory

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
)

// Config specifies the LLM providers
type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`
	// DefaultProvider specifies the default provider to use
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	// AssistantModels specifies the mapping of assistants to models.
	// key is the assistant name, value is the list of preferred models.
	// Use `default: [<model_name>]` as the default model for assistants.
	AssistantModels map[string][]string `json:"assistant_models,omitempty" yaml:"assistant_models,omitempty"`
}

// ProviderConfig specifies a provider
type ProviderConfig struct {
	Name            string       `json:"name" yaml:"name" validate:"required"`
	Token           string       `json:"token,omitempty" yaml:"token,omitempty"`
	DefaultModel    string       `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	AvailableModels []string     `json:"available_models,omitempty" yaml:"available_models,omitempty"`
	OpenAI          OpenAIConfig `json:"open_ai" yaml:"open_ai"`
	// Region is the AWS region for BEDROCK, or the GCP location for GOOGLEAI
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
	// Project is the GCP project, when set GOOGLEAI uses Vertex AI
	Project string `json:"project,omitempty" yaml:"project,omitempty"`
}

// OpenAIConfig specifies the API options
type OpenAIConfig struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// BaseURLSuffix is appended to BaseURL, if it's not already there,
	// for example `/openai/v1` for OpenAI compatible gateways
	BaseURLSuffix string `json:"base_url_suffix,omitempty" yaml:"base_url_suffix,omitempty"`
	// APIType specifies the type of API to use:
	// OPENAI|ANTHROPIC|GOOGLEAI|BEDROCK
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty" validate:"required"`
	// OrgID specifies which organization's quota and billing should be used when making API requests.
	OrgID string `json:"org_id,omitempty" yaml:"org_id,omitempty"`
	// Headers are added to each request, for example the app key of a gateway
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// FindModel returns the first of models available in the provider,
// or the default model of the provider.
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load LLM config: %s", file)
	}
	return cfg, nil
}
