package googleai

import (
	"net/http"
	"os"

	"cloud.google.com/go/auth"
	"github.com/effective-security/x/values"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model
	DefaultModel = "gemini-2.5-pro"
	// DefaultMaxTokens is the default output token limit
	DefaultMaxTokens = 8192
)

// Options is a set of options for GoogleAI clients.
// When CloudProject is set, the Vertex AI backend is used.
type Options struct {
	CloudProject       string
	CloudLocation      string
	DefaultModel       string
	DefaultMaxTokens   int
	DefaultTemperature float64
	HarmThreshold      genai.HarmBlockThreshold
	APIKey             string
	BaseURL            string
	Credentials        *auth.Credentials
	HTTPClient         *http.Client
}

// DefaultOptions returns the default options
func DefaultOptions() Options {
	return Options{
		DefaultModel:       DefaultModel,
		DefaultMaxTokens:   DefaultMaxTokens,
		DefaultTemperature: 0.5,
		HarmThreshold:      genai.HarmBlockThresholdBlockOnlyHigh,
	}
}

// EnsureAuthPresent falls back to GOOGLE_API_KEY or GEMINI_API_KEY
// environment variables, if neither the key nor credentials are provided.
func (o *Options) EnsureAuthPresent() {
	if o.Credentials == nil && o.APIKey == "" {
		o.APIKey = values.StringsCoalesce(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
	}
}

// Option is a function that configures Options
type Option func(*Options)

// WithAPIKey passes the API key to the client.
func WithAPIKey(apiKey string) Option {
	return func(opts *Options) {
		opts.APIKey = apiKey
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(opts *Options) {
		opts.BaseURL = baseURL
	}
}

// WithCredentials sets the credentials for Vertex AI.
func WithCredentials(credentials *auth.Credentials) Option {
	return func(opts *Options) {
		if credentials == nil {
			return
		}
		opts.Credentials = credentials
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(opts *Options) {
		opts.HTTPClient = httpClient
	}
}

// WithCloudProject sets the GCP project, and switches to Vertex AI.
func WithCloudProject(p string) Option {
	return func(opts *Options) {
		opts.CloudProject = p
	}
}

// WithCloudLocation sets the GCP region for Vertex AI.
func WithCloudLocation(l string) Option {
	return func(opts *Options) {
		opts.CloudLocation = l
	}
}

// WithDefaultModel sets the model used when the call does not specify one.
func WithDefaultModel(defaultModel string) Option {
	return func(opts *Options) {
		if defaultModel != "" {
			opts.DefaultModel = defaultModel
		}
	}
}

// WithDefaultMaxTokens sets the maximum output token count.
func WithDefaultMaxTokens(maxTokens int) Option {
	return func(opts *Options) {
		opts.DefaultMaxTokens = maxTokens
	}
}

// WithDefaultTemperature sets the default temperature.
func WithDefaultTemperature(defaultTemperature float64) Option {
	return func(opts *Options) {
		opts.DefaultTemperature = defaultTemperature
	}
}

// WithHarmThreshold sets the safety threshold for all harm categories.
func WithHarmThreshold(ht genai.HarmBlockThreshold) Option {
	return func(opts *Options) {
		opts.HarmThreshold = ht
	}
}
