package openai

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/mcpbot/pkg/llms/openai/internal/openaiclient"
	"github.com/effective-security/x/values"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// ErrEmptyResponse is returned when the API returns no choices.
var ErrEmptyResponse = openaiclient.ErrEmptyResponse

// LLM is the OpenAI compatible chat completions model.
type LLM struct {
	client *openaiclient.Client
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	o.token = values.StringsCoalesce(o.token, os.Getenv(tokenEnvVarName))
	o.model = values.StringsCoalesce(o.model, os.Getenv(modelEnvVarName))
	o.baseURL = values.StringsCoalesce(o.baseURL, os.Getenv(baseURLEnvVarName))
	o.organization = values.StringsCoalesce(o.organization, os.Getenv(organizationEnvVarName))

	if o.baseURL != "" && o.baseURLSuffix != "" {
		o.baseURL = joinSuffix(o.baseURL, o.baseURLSuffix)
	}

	return &LLM{
		client: openaiclient.New(o.model, o.token, o.baseURL, o.organization, o.headers, o.httpClient),
	}, nil
}

func joinSuffix(baseURL, suffix string) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	suffix = "/" + strings.Trim(suffix, "/")
	if strings.HasSuffix(baseURL, suffix) {
		return baseURL
	}
	return baseURL + suffix
}

// BaseURL returns the API endpoint used by the model
func (o *LLM) BaseURL() string {
	return o.client.BaseURL()
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderOpenAI
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)

	chatMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, mc := range messages {
		msg, err := messageFromMessage(mc)
		if err != nil {
			return nil, err
		}
		chatMsgs = append(chatMsgs, msg)
	}

	req := &openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(opts.Model),
		Messages: chatMsgs,
	}
	if opts.MaxTokens > 0 {
		req.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		req.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		req.TopP = openai.Float(opts.TopP)
	}
	if opts.Seed != 0 {
		req.Seed = openai.Int(int64(opts.Seed))
	}
	if len(opts.StopWords) > 0 {
		req.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}

	for _, tool := range opts.Tools {
		t, err := toolFromTool(tool)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to convert llms tool to openai tool")
		}
		req.Tools = append(req.Tools, t)
	}
	if len(req.Tools) > 0 {
		if choice := toolChoice(opts.ToolChoiceName()); choice != "" {
			req.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(choice)}
		}
	}

	result, err := o.client.CreateChat(ctx, req)
	if err != nil {
		return nil, err
	}

	choices := make([]*llms.ContentChoice, len(result.Choices))
	for i, c := range result.Choices {
		choices[i] = &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: c.FinishReason,
			GenerationInfo: map[string]any{
				"InputTokens":     result.Usage.PromptTokens,
				"OutputTokens":    result.Usage.CompletionTokens,
				"TotalTokens":     result.Usage.TotalTokens,
				"ReasoningTokens": result.Usage.CompletionTokensDetails.ReasoningTokens,
			},
		}
		for _, tool := range c.Message.ToolCalls {
			choices[i].ToolCalls = append(choices[i].ToolCalls, llms.ToolCall{
				ID:   tool.ID,
				Type: values.StringsCoalesce(tool.Type, "function"),
				FunctionCall: &llms.FunctionCall{
					Name:      tool.Function.Name,
					Arguments: tool.Function.Arguments,
				},
			})
		}
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

func messageFromMessage(mc llms.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch mc.Role {
	case llms.RoleSystem:
		return openai.SystemMessage(mc.Text()), nil
	case llms.RoleUser:
		return openai.UserMessage(mc.Text()), nil
	case llms.RoleAssistant:
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if text := mc.Text(); text != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
		}
		for _, tc := range mc.ToolCalls() {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.FunctionName(),
						Arguments: arguments(tc),
					},
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, nil
	case llms.RoleTool:
		// tool message carries exactly one response
		if len(mc.Parts) != 1 {
			return openai.ChatCompletionMessageParamUnion{}, errors.Newf("expected exactly one part for role %v, got %v", mc.Role, len(mc.Parts))
		}
		p, ok := mc.Parts[0].(llms.ToolCallResponse)
		if !ok {
			return openai.ChatCompletionMessageParamUnion{}, errors.Newf("expected part of type ToolCallResponse for role %v, got %T", mc.Role, mc.Parts[0])
		}
		return openai.ToolMessage(p.Content, p.ToolCallID), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, errors.Wrapf(llms.ErrUnexpectedRole, "role %v not supported", mc.Role)
	}
}

func arguments(tc llms.ToolCall) string {
	if tc.FunctionCall == nil || tc.FunctionCall.Arguments == "" {
		return "{}"
	}
	return tc.FunctionCall.Arguments
}

// toolChoice maps the choice to "none", "auto" or "required",
// a specific function is sent as "required".
func toolChoice(name string) string {
	switch name {
	case "", "none", "auto", "required":
		return name
	default:
		return "required"
	}
}

// toolFromTool converts an llms.Tool to the API tool.
func toolFromTool(t llms.Tool) (openai.ChatCompletionToolUnionParam, error) {
	if t.Type != "function" || t.Function == nil {
		return openai.ChatCompletionToolUnionParam{}, errors.Newf("tool type %v not supported", t.Type)
	}

	params, err := parameters(t.Function.Parameters)
	if err != nil {
		return openai.ChatCompletionToolUnionParam{}, errors.WithMessagef(err, "invalid parameters for %s", t.Function.Name)
	}

	fn := shared.FunctionDefinitionParam{
		Name:       t.Function.Name,
		Parameters: params,
	}
	if t.Function.Description != "" {
		fn.Description = openai.String(t.Function.Description)
	}
	if t.Function.Strict {
		fn.Strict = openai.Bool(true)
	}
	return openai.ChatCompletionFunctionTool(fn), nil
}

// parameters returns the schema as a generic map,
// the schema content is not interpreted.
func parameters(p any) (shared.FunctionParameters, error) {
	var raw []byte
	switch v := p.(type) {
	case nil:
		return shared.FunctionParameters{"type": "object", "properties": map[string]any{}}, nil
	case map[string]any:
		return shared.FunctionParameters(v), nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		js, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		raw = js
	}

	var res map[string]any
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.WithStack(err)
	}
	return shared.FunctionParameters(res), nil
}
