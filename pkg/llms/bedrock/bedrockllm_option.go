package bedrock

// Option is an option for the Bedrock LLM.
type Option func(*options)

type options struct {
	modelID string
	client  InvokeModelAPI

	region          string
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
}

// WithModel allows setting a custom modelId.
//
// If not set, the default model "anthropic.claude-3-5-sonnet-20241022-v2:0" is used.
// Inference profiles, like "us.anthropic.claude-3-5-sonnet-20241022-v2:0", are supported.
func WithModel(modelID string) Option {
	return func(o *options) {
		o.modelID = modelID
	}
}

// WithClient allows setting a custom bedrockruntime.Client.
//
// You may use this to pass a custom bedrockruntime.Client
// with custom configuration options.
func WithClient(client InvokeModelAPI) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithCredentials sets static AWS credentials,
// by default the credentials chain from the environment is used.
func WithCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return func(o *options) {
		o.accessKeyID = accessKeyID
		o.secretAccessKey = secretAccessKey
		o.sessionToken = sessionToken
	}
}
