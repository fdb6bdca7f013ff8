package llms_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallOptions(t *testing.T) {
	t.Parallel()

	tools := []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        "search",
				Description: "Search the web",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
			},
		},
	}

	opts := llms.NewCallOptions(
		llms.WithModel("gpt-4o"),
		llms.WithMaxTokens(1024),
		llms.WithTemperature(0.2),
		llms.WithStopWords([]string{"STOP"}),
		llms.WithTopP(0.9),
		llms.WithSeed(42),
		llms.WithTools(tools),
		llms.WithToolChoice("auto"),
		llms.WithMetadata(map[string]any{"room": "r1"}),
	)

	assert.Equal(t, "gpt-4o", opts.Model)
	assert.Equal(t, 1024, opts.MaxTokens)
	assert.Equal(t, 0.2, opts.Temperature)
	assert.Equal(t, []string{"STOP"}, opts.StopWords)
	assert.Equal(t, 0.9, opts.TopP)
	assert.Equal(t, 42, opts.Seed)
	assert.Equal(t, tools, opts.Tools)
	assert.Equal(t, "auto", opts.ToolChoiceName())
	assert.Equal(t, "r1", opts.Metadata["room"])

	// the schema is passed through as is
	js, err := json.Marshal(opts.Tools[0])
	require.NoError(t, err)
	assert.Equal(t, `{"type":"function","function":{"name":"search","description":"Search the web","parameters":{"type":"object","properties":{"q":{"type":"string"}}}}}`, string(js))

	copied := llms.NewCallOptions(llms.WithOptions(*opts))
	assert.Equal(t, opts, copied)
}

func TestToolChoiceName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		choice any
		exp    string
	}{
		{nil, ""},
		{"none", "none"},
		{llms.FunctionCallBehaviorRequired, "required"},
		{llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "search"}}, "search"},
		{&llms.ToolChoice{Type: "auto"}, "auto"},
		{(*llms.ToolChoice)(nil), ""},
		{42, ""},
	}
	for _, tc := range tests {
		opts := llms.NewCallOptions(llms.WithToolChoice(tc.choice))
		assert.Equal(t, tc.exp, opts.ToolChoiceName(), "%v", tc.choice)
	}
}
