package assistants

import (
	"github.com/effective-security/mcpbot/pkg/llms"
)

// Option is a function that can be used to modify the behavior of the Assistant Config.
type Option func(*Config)

type Config struct {
	// Name is the name of the assistant, used in logs and metrics.
	Name string

	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate to use in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the temperature for sampling to use in an LLM call, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// ToolChoice is the choice of tool to use, it can either be "none", "auto" (the default behavior),
	// "required", or a specific tool as described in the ToolChoice type.
	ToolChoice any

	// MaxTurns is the number of model calls allowed for one request.
	MaxTurns int

	// ParallelToolCalls executes the tool calls of one turn concurrently.
	// The results are appended in the order of the calls.
	ParallelToolCalls bool

	// CallbackHandler is the callback handler for the Assistant
	CallbackHandler Callback
}

func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Name:       "Assistant",
		ToolChoice: string(llms.FunctionCallBehaviorAuto),
		MaxTurns:   DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.CallbackHandler == nil {
		cfg.CallbackHandler = noopCallback{}
	}
	return cfg
}

// WithName sets the name of the Assistant.
func WithName(name string) Option {
	return func(o *Config) {
		if name != "" {
			o.Name = name
		}
	}
}

// WithModel is an option for LLM.Call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = model != ""
	}
}

// WithMaxTokens is an option for LLM.Call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for LLM.Call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithToolChoice is an option for LLM.Call.
func WithToolChoice(choice any) Option {
	return func(o *Config) {
		o.ToolChoice = choice
	}
}

// WithMaxTurns limits the number of model calls for one request.
// Zero or negative value sets DefaultMaxTurns.
func WithMaxTurns(n int) Option {
	return func(o *Config) {
		o.MaxTurns = n
	}
}

// WithParallelToolCalls allows to execute the tool calls of one turn concurrently.
func WithParallelToolCalls(parallel bool) Option {
	return func(o *Config) {
		o.ParallelToolCalls = parallel
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// GetCallOptions returns the options for the model call with the tools of the current step.
func (c *Config) GetCallOptions(tools []llms.Tool) []llms.CallOption {
	var callOptions []llms.CallOption
	if c.modelSet {
		callOptions = append(callOptions, llms.WithModel(c.Model))
	}
	if c.maxTokensSet {
		callOptions = append(callOptions, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.temperatureSet {
		callOptions = append(callOptions, llms.WithTemperature(c.Temperature))
	}
	if len(tools) > 0 {
		callOptions = append(callOptions, llms.WithTools(tools))
		if c.ToolChoice != nil {
			callOptions = append(callOptions, llms.WithToolChoice(c.ToolChoice))
		}
	}
	return callOptions
}
