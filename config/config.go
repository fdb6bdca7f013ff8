// Package config provides the configuration of the bot.
//
// The file is YAML or JSON, the environment variables in values are expanded:
//
//	servers:
//	  troubleshooter:
//	    url: ${MCP_SERVER_URL}
//	llm:
//	  default_provider: openai
//	  providers:
//	    - name: openai
//	      token: ${OPENAI_API_KEY}
//	      open_ai:
//	        api_type: OPENAI
//	bot:
//	  name: MCP Troubleshooter Bot
//
// The `servers` section is compatible with mcp_server_config.json.
package config

import (
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/pkg/llmfactory"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
	"sigs.k8s.io/yaml"
)

// DefaultBotName is the name of the bot, if not configured
const DefaultBotName = "MCP Troubleshooter Bot"

// Redacted replaces the secrets in Dump
const Redacted = "[REDACTED]"

// ErrServerNotFound is returned when the MCP server is not configured
var ErrServerNotFound = errors.New("MCP server not found")

// Config of the bot
type Config struct {
	// Servers specifies the MCP servers by name
	Servers map[string]*ServerConfig `json:"servers" yaml:"servers" validate:"required,min=1,dive,required"`
	// LLM specifies the LLM providers
	LLM llmfactory.Config `json:"llm,omitempty" yaml:"llm,omitempty"`
	// Bot specifies the chat behavior
	Bot BotConfig `json:"bot,omitempty" yaml:"bot,omitempty"`
}

// ServerConfig specifies the MCP server
type ServerConfig struct {
	// URL is the SSE endpoint of the server
	URL string `json:"url" yaml:"url" validate:"required,url"`
	// Headers are added to each request, for example Authorization
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// BotConfig specifies the chat behavior
type BotConfig struct {
	// Name is used in the greeting and as the assistant name
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// ID of the bot on the chat platform, the messages from this ID are ignored
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Email of the bot on the chat platform, the messages from this email are ignored
	Email string `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
	// SkillPaths are the locations of SKILL.md, the first existing file is used
	SkillPaths []string `json:"skill_paths,omitempty" yaml:"skill_paths,omitempty"`
	// MaxTurns limits the number of model calls for one request
	MaxTurns int `json:"max_turns,omitempty" yaml:"max_turns,omitempty" validate:"gte=0"`
	// ParallelToolCalls executes the tool calls of one turn concurrently
	ParallelToolCalls bool `json:"parallel_tool_calls,omitempty" yaml:"parallel_tool_calls,omitempty"`
	// Model is the preferred model name
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// RequestTimeout is the timeout of one MCP call, for example 30s
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	// LogLevel is the global log level: TRACE|DEBUG|INFO|NOTICE|WARNING|ERROR|CRITICAL
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=TRACE DEBUG INFO NOTICE WARNING ERROR CRITICAL"`
}

// Load returns the config from file
func Load(file string) (*Config, error) {
	cfg := new(Config)
	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load config: %s", file)
	}

	if err = cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config: %s", file)
	}
	return cfg, nil
}

// Validate returns error if the config is not valid
func (c *Config) Validate() error {
	c.Bot.LogLevel = strings.ToUpper(c.Bot.LogLevel)

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.WithStack(err)
	}
	if _, err := c.Bot.GetRequestTimeout(); err != nil {
		return err
	}
	return nil
}

// Server returns the MCP server by name,
// or the first server by sorted name if name is empty.
func (c *Config) Server(name string) (*ServerConfig, error) {
	if name != "" {
		s := c.Servers[name]
		if s == nil {
			return nil, errors.Wrapf(ErrServerNotFound, "name %q", name)
		}
		return s, nil
	}

	names := c.ServerNames()
	if len(names) == 0 {
		return nil, ErrServerNotFound
	}
	return c.Servers[names[0]], nil
}

// ServerNames returns the sorted names of the servers
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetName returns the name of the bot
func (c *BotConfig) GetName() string {
	return values.StringsCoalesce(c.Name, DefaultBotName)
}

// GetRequestTimeout returns the MCP call timeout, or 0 for the default
func (c *BotConfig) GetRequestTimeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid request_timeout")
	}
	if d < 0 {
		return 0, errors.Newf("invalid request_timeout: %s", c.RequestTimeout)
	}
	return d, nil
}

// Dump returns the config in YAML, the tokens and the header values are redacted
func (c *Config) Dump() (string, error) {
	cp := *c
	cp.Servers = make(map[string]*ServerConfig, len(c.Servers))
	for name, s := range c.Servers {
		if s == nil {
			continue
		}
		sc := *s
		sc.Headers = redactHeaders(s.Headers)
		cp.Servers[name] = &sc
	}

	cp.LLM.Providers = make([]*llmfactory.ProviderConfig, 0, len(c.LLM.Providers))
	for _, p := range c.LLM.Providers {
		if p == nil {
			continue
		}
		pc := *p
		if pc.Token != "" {
			pc.Token = Redacted
		}
		pc.OpenAI.Headers = redactHeaders(p.OpenAI.Headers)
		cp.LLM.Providers = append(cp.LLM.Providers, &pc)
	}

	bs, err := yaml.Marshal(&cp)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal config")
	}
	return string(bs), nil
}

func redactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	redacted := make(map[string]string, len(headers))
	for k := range headers {
		redacted[k] = Redacted
	}
	return redacted
}
