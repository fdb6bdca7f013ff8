package assistants_test

import (
	"testing"

	"github.com/effective-security/mcpbot/assistants"
	"github.com/effective-security/mcpbot/callbacks"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Config(t *testing.T) {
	t.Parallel()

	cfg := assistants.NewConfig()
	assert.Equal(t, "Assistant", cfg.Name)
	assert.Empty(t, cfg.Model)
	assert.Equal(t, assistants.DefaultMaxTurns, cfg.MaxTurns)
	assert.False(t, cfg.ParallelToolCalls)
	assert.Equal(t, "auto", cfg.ToolChoice)
	assert.NotNil(t, cfg.CallbackHandler)
	assert.Empty(t, cfg.GetCallOptions(nil))

	tools := []llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "search"}}}
	opts := llms.NewCallOptions(cfg.GetCallOptions(tools)...)
	assert.Empty(t, opts.Model)
	assert.Equal(t, tools, opts.Tools)
	assert.Equal(t, "auto", opts.ToolChoiceName())

	cb := callbacks.NewNoop()
	cfg = assistants.NewConfig(
		assistants.WithName("troubleshooter"),
		assistants.WithModel("gpt-4o"),
		assistants.WithMaxTokens(100),
		assistants.WithTemperature(0),
		assistants.WithToolChoice(llms.FunctionCallBehaviorRequired),
		assistants.WithMaxTurns(3),
		assistants.WithParallelToolCalls(true),
		assistants.WithCallback(cb),
	)
	assert.Equal(t, "troubleshooter", cfg.Name)
	assert.Equal(t, 3, cfg.MaxTurns)
	assert.True(t, cfg.ParallelToolCalls)
	assert.Same(t, cb, cfg.CallbackHandler)

	callOpts := cfg.GetCallOptions(tools)
	require.Len(t, callOpts, 5)
	opts = llms.NewCallOptions(callOpts...)
	assert.Equal(t, "gpt-4o", opts.Model)
	assert.Equal(t, 100, opts.MaxTokens)
	// zero temperature is sent when set
	assert.Equal(t, 0.0, opts.Temperature)
	assert.Equal(t, "required", opts.ToolChoiceName())

	// empty values keep defaults
	cfg = assistants.NewConfig(assistants.WithName(""), assistants.WithModel(""), assistants.WithMaxTurns(-1))
	assert.Equal(t, "Assistant", cfg.Name)
	assert.Equal(t, assistants.DefaultMaxTurns, cfg.MaxTurns)
	assert.Empty(t, cfg.GetCallOptions(nil))
}
