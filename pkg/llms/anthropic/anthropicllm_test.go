package anthropic_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/mcpbot/pkg/llms/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNew(t *testing.T) {
	t.Setenv(anthropic.TokenEnvVarName, "")

	tests := []struct {
		name   string
		opts   []anthropic.Option
		expErr string
	}{
		{
			name:   "missing token",
			opts:   []anthropic.Option{anthropic.WithModel("claude-3-5-sonnet-20241022")},
			expErr: "anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable",
		},
		{
			name:   "missing model",
			opts:   []anthropic.Option{anthropic.WithToken("fake-token")},
			expErr: "anthropic: model is required",
		},
		{
			name: "valid configuration",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-3-5-sonnet-20241022"),
				anthropic.WithBaseURL("https://custom.anthropic.com"),
				anthropic.WithHTTPClient(&http.Client{}),
				anthropic.WithAnthropicBetaHeader("beta-feature-1"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm, err := anthropic.New(tt.opts...)
			if tt.expErr != "" {
				assert.EqualError(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, llms.ProviderAnthropic, llm.GetProviderType())
			assert.Equal(t, "claude-3-5-sonnet-20241022", llm.GetName())
		})
	}
}

func TestNewWithEnvironmentVariable(t *testing.T) {
	t.Setenv(anthropic.TokenEnvVarName, "env-token")
	llm, err := anthropic.New(anthropic.WithModel("claude-3-5-sonnet-20241022"))
	require.NoError(t, err)
	assert.Equal(t, "env-token", llm.Options.Token)
}

func conversation() []llms.Message {
	return []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are helpful."),
		llms.MessageFromTextParts(llms.RoleSystem, "Be brief."),
		llms.MessageFromTextParts(llms.RoleUser, "Weather in Paris and Rome?"),
		llms.MessageFromToolCalls(llms.RoleAssistant, "Checking.",
			llms.ToolCall{ID: "tu_1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "weather", Arguments: `{"city":"Paris"}`}},
			llms.ToolCall{ID: "tu_2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "weather", Arguments: ""}},
		),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "tu_1", Name: "weather", Content: "sunny"}),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "tu_2", Name: "weather", Content: "Error: city is required"}),
	}
}

func TestProcessMessages(t *testing.T) {
	t.Parallel()

	msgs, system, err := anthropic.ProcessMessages(conversation())
	require.NoError(t, err)
	assert.Equal(t, "You are helpful.\nBe brief.", system)
	// user, assistant, merged tool results
	require.Len(t, msgs, 3)

	js, err := json.Marshal(msgs)
	require.NoError(t, err)

	assert.Equal(t, "user", gjson.GetBytes(js, "0.role").String())
	assert.Equal(t, "Weather in Paris and Rome?", gjson.GetBytes(js, "0.content.0.text").String())

	assert.Equal(t, "assistant", gjson.GetBytes(js, "1.role").String())
	assert.Equal(t, "text", gjson.GetBytes(js, "1.content.0.type").String())
	assert.Equal(t, "tool_use", gjson.GetBytes(js, "1.content.1.type").String())
	assert.Equal(t, "tu_1", gjson.GetBytes(js, "1.content.1.id").String())
	assert.Equal(t, "Paris", gjson.GetBytes(js, "1.content.1.input.city").String())
	assert.Equal(t, "tu_2", gjson.GetBytes(js, "1.content.2.id").String())
	assert.True(t, gjson.GetBytes(js, "1.content.2.input").IsObject())

	assert.Equal(t, "user", gjson.GetBytes(js, "2.role").String())
	assert.Equal(t, "tool_result", gjson.GetBytes(js, "2.content.0.type").String())
	assert.Equal(t, "tu_1", gjson.GetBytes(js, "2.content.0.tool_use_id").String())
	assert.False(t, gjson.GetBytes(js, "2.content.0.is_error").Bool())
	assert.Equal(t, "tu_2", gjson.GetBytes(js, "2.content.1.tool_use_id").String())
	assert.True(t, gjson.GetBytes(js, "2.content.1.is_error").Bool())
}

func TestProcessMessages_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		msgs   []llms.Message
		expErr string
	}{
		{
			name:   "unknown role",
			msgs:   []llms.Message{llms.MessageFromTextParts("robot", "hi")},
			expErr: "anthropic: robot: anthropic: unsupported message type",
		},
		{
			name:   "empty user",
			msgs:   []llms.Message{{Role: llms.RoleUser}},
			expErr: "anthropic: no text in user message: anthropic: invalid content type",
		},
		{
			name:   "empty assistant",
			msgs:   []llms.Message{{Role: llms.RoleAssistant}},
			expErr: "anthropic: no valid content in assistant message",
		},
		{
			name: "invalid arguments",
			msgs: []llms.Message{llms.MessageFromToolCalls(llms.RoleAssistant, "",
				llms.ToolCall{ID: "tu_1", FunctionCall: &llms.FunctionCall{Name: "x", Arguments: "{"}})},
			expErr: "anthropic: invalid tool call arguments for tu_1",
		},
		{
			name:   "text in tool message",
			msgs:   []llms.Message{llms.MessageFromTextParts(llms.RoleTool, "hi")},
			expErr: "anthropic: for tool message part type: llms.TextContent: anthropic: invalid content type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := anthropic.ProcessMessages(tt.msgs)
			assert.EqualError(t, err, tt.expErr)
		})
	}
}

func TestToTools(t *testing.T) {
	t.Parallel()

	tools, err := anthropic.ToTools(nil)
	require.NoError(t, err)
	assert.Nil(t, tools)

	tools, err = anthropic.ToTools([]llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        "weather",
				Description: "Get weather",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
			},
		},
		{
			Type:     "function",
			Function: &llms.FunctionDefinition{Name: "ping"},
		},
	})
	require.NoError(t, err)
	require.Len(t, tools, 2)

	js, err := json.Marshal(tools)
	require.NoError(t, err)
	assert.Equal(t, "weather", gjson.GetBytes(js, "0.name").String())
	assert.Equal(t, "Get weather", gjson.GetBytes(js, "0.description").String())
	assert.Equal(t, "object", gjson.GetBytes(js, "0.input_schema.type").String())
	assert.Equal(t, "string", gjson.GetBytes(js, "0.input_schema.properties.city.type").String())
	assert.Equal(t, "city", gjson.GetBytes(js, "0.input_schema.required.0").String())
	assert.Equal(t, "ping", gjson.GetBytes(js, "1.name").String())
	assert.False(t, gjson.GetBytes(js, "1.description").Exists())

	_, err = anthropic.ToTools([]llms.Tool{{Type: "retrieval"}})
	assert.EqualError(t, err, "anthropic: tool type retrieval not supported")

	_, err = anthropic.ToTools([]llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "bad", Parameters: "{"}}})
	assert.Error(t, err)
}

func TestToToolChoice(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, anthropic.ToToolChoice("").OfAuto)
	assert.NotNil(t, anthropic.ToToolChoice("auto").OfAuto)
	assert.NotNil(t, anthropic.ToToolChoice("none").OfNone)
	assert.NotNil(t, anthropic.ToToolChoice("required").OfAny)
	tc := anthropic.ToToolChoice("weather")
	require.NotNil(t, tc.OfTool)
	assert.Equal(t, "weather", tc.OfTool.Name)
}

const messageReply = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-5-sonnet-20241022",
	"stop_reason": "tool_use",
	"content": [
		{"type": "text", "text": "Let me check."},
		{"type": "tool_use", "id": "tu_1", "name": "weather", "input": {"city": "Paris"}}
	],
	"usage": {"input_tokens": 30, "output_tokens": 10}
}`

func TestGenerateContent(t *testing.T) {
	var body []byte
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageReply))
	}))
	defer srv.Close()

	llm, err := anthropic.New(
		anthropic.WithToken("fake-token"),
		anthropic.WithModel("claude-3-5-sonnet-20241022"),
		anthropic.WithBaseURL(srv.URL),
		anthropic.WithMaxRetries(0),
	)
	require.NoError(t, err)

	tools := []llms.Tool{{
		Type:     "function",
		Function: &llms.FunctionDefinition{Name: "weather", Parameters: map[string]any{"type": "object"}},
	}}
	resp, err := llm.GenerateContent(t.Context(), conversation()[:3], llms.WithTools(tools), llms.WithToolChoice("auto"))
	require.NoError(t, err)

	assert.Equal(t, "fake-token", headers.Get("X-Api-Key"))
	assert.Equal(t, "claude-3-5-sonnet-20241022", gjson.GetBytes(body, "model").String())
	assert.EqualValues(t, anthropic.DefaultMaxTokens, gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, "You are helpful.\nBe brief.", gjson.GetBytes(body, "system.0.text").String())
	assert.Equal(t, "auto", gjson.GetBytes(body, "tool_choice.type").String())
	assert.Equal(t, "weather", gjson.GetBytes(body, "tools.0.name").String())

	require.Len(t, resp.Choices, 1)
	choice := resp.Choices[0]
	assert.Equal(t, "Let me check.", choice.Content)
	assert.Equal(t, "tool_use", choice.StopReason)
	require.Len(t, choice.ToolCalls, 1)
	assert.Equal(t, "tu_1", choice.ToolCalls[0].ID)
	assert.Equal(t, "weather", choice.ToolCalls[0].FunctionName())
	assert.JSONEq(t, `{"city":"Paris"}`, choice.ToolCalls[0].FunctionCall.Arguments)
	assert.EqualValues(t, 40, choice.GenerationInfo["TotalTokens"])
}

func TestGenerateContent_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer srv.Close()

	llm, err := anthropic.New(
		anthropic.WithToken("fake-token"),
		anthropic.WithModel("claude-3-5-sonnet-20241022"),
		anthropic.WithBaseURL(srv.URL),
		anthropic.WithMaxRetries(0),
	)
	require.NoError(t, err)

	_, err = llm.GenerateContent(t.Context(), []llms.Message{llms.MessageFromTextParts(llms.RoleUser, "hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: failed to create message")
}
