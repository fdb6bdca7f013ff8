package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/mcpbot/pkg/llms/bedrock/internal/bedrockclient"
	"github.com/effective-security/x/values"
)

// Anthropic models available on Bedrock
const (
	ModelAnthropicClaude35SonnetV2 = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	ModelAnthropicClaude35Haiku    = "anthropic.claude-3-5-haiku-20241022-v1:0"
	ModelAnthropicClaude37Sonnet   = "anthropic.claude-3-7-sonnet-20250219-v1:0"
)

const defaultModel = ModelAnthropicClaude35SonnetV2

// InvokeModelAPI is the part of the Bedrock runtime API used by the model.
type InvokeModelAPI = bedrockclient.InvokeModelAPI

// LLM is a Bedrock LLM implementation.
type LLM struct {
	modelID string
	client  *bedrockclient.Client
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Bedrock LLM implementation.
// The AWS configuration is loaded from the environment,
// unless the static credentials or the client are provided.
func New(opts ...Option) (*LLM, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.modelID = values.StringsCoalesce(o.modelID, defaultModel)

	if o.client == nil {
		var cfgOpts []func(*config.LoadOptions) error
		if o.region != "" {
			cfgOpts = append(cfgOpts, config.WithRegion(o.region))
		}
		if o.accessKeyID != "" {
			cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(o.accessKeyID, o.secretAccessKey, o.sessionToken)))
		}
		cfg, err := config.LoadDefaultConfig(context.Background(), cfgOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "bedrock: failed to load AWS config")
		}
		o.client = bedrockruntime.NewFromConfig(cfg)
	}

	return &LLM{
		client:  bedrockclient.NewClient(o.client),
		modelID: o.modelID,
	}, nil
}

// GetName returns the model ID.
func (l *LLM) GetName() string {
	return l.modelID
}

// GetProviderType implements the Model interface.
func (l *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderBedrock
}

// GenerateContent implements llms.Model.
func (l *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)
	opts.Model = values.StringsCoalesce(opts.Model, l.modelID)
	return l.client.CreateCompletion(ctx, opts.Model, messages, opts)
}
