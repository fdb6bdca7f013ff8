package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/x/values"
)

var (
	ErrEmptyResponse          = errors.New("anthropic: no response")
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrInvalidContentType     = errors.New("anthropic: invalid content type")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
	ErrUnsupportedContentType = errors.New("anthropic: unsupported content type")
)

const (
	// DefaultMaxTokens is used when the call does not limit the output
	DefaultMaxTokens = 4096
	// DefaultBaseURL is the Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"
)

// LLM is the Anthropic Messages API model.
type LLM struct {
	Client  *anthropic.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
//
// If no token is provided via options, it will attempt to read the API key
// from the ANTHROPIC_API_KEY environment variable.
//
// Example usage:
//
//	llm, err := anthropic.New(
//	    anthropic.WithToken("your-api-key"),
//	    anthropic.WithModel("claude-3-5-sonnet-20241022"),
//	)
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		Token:      os.Getenv(TokenEnvVarName),
		BaseURL:    DefaultBaseURL,
		HttpClient: http.DefaultClient,
		MaxRetries: 2,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, ErrMissingToken
	}
	if options.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(options.MaxRetries),
		option.WithRequestTimeout(5 * time.Minute),
	}
	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}
	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}
	if options.AnthropicBetaHeader != "" {
		sdkOpts = append(sdkOpts, option.WithHeader("anthropic-beta", options.AnthropicBetaHeader))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &LLM{
		Client:  &client,
		Options: options,
	}, nil
}

// GetName returns the model name.
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// GenerateContent implements the Model interface.
//
// The text blocks and tool use blocks of the reply are returned
// in a single choice.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)
	opts.Model = values.StringsCoalesce(opts.Model, o.Options.Model)

	params, err := NewMessageParams(messages, opts)
	if err != nil {
		return nil, err
	}

	result, err := o.Client.Messages.New(ctx, *params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to create message")
	}
	return ToContentResponse(result)
}

// NewMessageParams returns the request parameters for the messages and options.
// The system messages are sent as the system prompt.
func NewMessageParams(messages []llms.Message, opts *llms.CallOptions) (*anthropic.MessageNewParams, error) {
	sdkMessages, systemPrompt, err := ProcessMessages(messages)
	if err != nil {
		return nil, errors.WithMessage(err, "anthropic: failed to process messages")
	}

	tools, err := ToTools(opts.Tools)
	if err != nil {
		return nil, err
	}

	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}
	if len(tools) > 0 {
		params.Tools = tools
		params.ToolChoice = ToToolChoice(opts.ToolChoiceName())
	}
	return params, nil
}

// ToContentResponse converts the API message to a single choice response.
func ToContentResponse(result *anthropic.Message) (*llms.ContentResponse, error) {
	if result == nil || len(result.Content) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := &llms.ContentChoice{
		StopReason: string(result.StopReason),
		GenerationInfo: map[string]any{
			"InputTokens":  result.Usage.InputTokens,
			"OutputTokens": result.Usage.OutputTokens,
			"TotalTokens":  result.Usage.InputTokens + result.Usage.OutputTokens,
			"ID":           result.ID,
		},
	}

	var text strings.Builder
	for _, contentBlock := range result.Content {
		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		case anthropic.ToolUseBlock:
			argumentsJSON, err := json.Marshal(content.Input)
			if err != nil {
				return nil, errors.Wrap(err, "anthropic: failed to marshal tool use arguments")
			}
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   content.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      content.Name,
					Arguments: string(argumentsJSON),
				},
			})
		case anthropic.ThinkingBlock, anthropic.RedactedThinkingBlock:
			// not part of the answer
		default:
			return nil, errors.WithMessagef(ErrUnsupportedContentType, "anthropic: %T", content)
		}
	}
	choice.Content = text.String()

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{choice},
	}, nil
}

// ToToolChoice maps "none", "auto", "required" or a function name
// to the tool choice parameter.
func ToToolChoice(name string) anthropic.ToolChoiceUnionParam {
	switch name {
	case "", "auto":
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	case "none":
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case "required":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: name}}
	}
}

// ToTools converts LLM tool definitions to Anthropic SDK tool parameters.
//
// The JSON schema of the parameters is not interpreted,
// its properties and required fields are passed as is.
func ToTools(tools []llms.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Function == nil {
			return nil, errors.Newf("anthropic: tool type %v not supported", tool.Type)
		}

		schema, err := ToInputSchema(tool.Function.Parameters)
		if err != nil {
			return nil, errors.WithMessagef(err, "anthropic: invalid parameters for %s", tool.Function.Name)
		}

		tp := &anthropic.ToolParam{
			Name:        tool.Function.Name,
			InputSchema: schema,
		}
		if tool.Function.Description != "" {
			tp.Description = anthropic.String(tool.Function.Description)
		}
		sdkTools = append(sdkTools, anthropic.ToolUnionParam{OfTool: tp})
	}
	return sdkTools, nil
}

// ToInputSchema converts JSON schema of the tool parameters.
func ToInputSchema(parameters any) (anthropic.ToolInputSchemaParam, error) {
	schema := anthropic.ToolInputSchemaParam{}
	if parameters == nil {
		return schema, nil
	}

	var raw []byte
	switch v := parameters.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		js, err := json.Marshal(v)
		if err != nil {
			return schema, errors.WithStack(err)
		}
		raw = js
	}

	var js struct {
		Properties any      `json:"properties"`
		Required   []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &js); err != nil {
		return schema, errors.WithStack(err)
	}
	schema.Properties = js.Properties
	schema.Required = js.Required
	return schema, nil
}

// ProcessMessages converts messages to Anthropic SDK message parameters.
//
// System messages are returned as the system prompt. Consecutive tool
// messages are sent as a single user message with tool result blocks.
func ProcessMessages(messages []llms.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	var systemPrompt []string
	var toolResults []anthropic.ContentBlockParamUnion

	flushToolResults := func() {
		if len(toolResults) > 0 {
			chatMessages = append(chatMessages, anthropic.NewUserMessage(toolResults...))
			toolResults = nil
		}
	}

	for _, msg := range messages {
		if msg.Role != llms.RoleTool {
			flushToolResults()
		}

		switch msg.Role {
		case llms.RoleSystem:
			if text := msg.Text(); text != "" {
				systemPrompt = append(systemPrompt, text)
			}
		case llms.RoleUser:
			text := msg.Text()
			if text == "" {
				return nil, "", errors.WithMessage(ErrInvalidContentType, "anthropic: no text in user message")
			}
			chatMessages = append(chatMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		case llms.RoleAssistant:
			chatMessage, err := HandleAssistantMessage(msg)
			if err != nil {
				return nil, "", err
			}
			chatMessages = append(chatMessages, chatMessage)
		case llms.RoleTool:
			blocks, err := HandleToolMessage(msg)
			if err != nil {
				return nil, "", err
			}
			toolResults = append(toolResults, blocks...)
		default:
			return nil, "", errors.WithMessagef(ErrUnsupportedMessageType, "anthropic: %v", msg.Role)
		}
	}
	flushToolResults()

	return chatMessages, strings.Join(systemPrompt, "\n"), nil
}

// HandleAssistantMessage converts assistant messages with text and tool calls.
// Tool call arguments must be a valid JSON.
func HandleAssistantMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			if p.Text != "" {
				contents = append(contents, anthropic.NewTextBlock(p.Text))
			}
		case llms.ToolCall:
			args := "{}"
			if p.FunctionCall != nil && p.FunctionCall.Arguments != "" {
				args = p.FunctionCall.Arguments
			}
			if !json.Valid([]byte(args)) {
				return anthropic.MessageParam{}, errors.Newf("anthropic: invalid tool call arguments for %s", p.ID)
			}
			contents = append(contents, anthropic.NewToolUseBlock(p.ID, json.RawMessage(args), p.FunctionName()))
		default:
			return anthropic.MessageParam{}, errors.Newf("anthropic: unsupported assistant message part type: %T", part)
		}
	}

	if len(contents) == 0 {
		return anthropic.MessageParam{}, errors.New("anthropic: no valid content in assistant message")
	}
	return anthropic.NewAssistantMessage(contents...), nil
}

// HandleToolMessage converts tool response message to tool result blocks.
// Content starting with "Error: " is reported as the error result.
func HandleToolMessage(msg llms.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var contents []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		resp, ok := part.(llms.ToolCallResponse)
		if !ok {
			return nil, errors.WithMessagef(ErrInvalidContentType, "anthropic: for tool message part type: %T", part)
		}
		contents = append(contents, anthropic.NewToolResultBlock(
			resp.ToolCallID,
			resp.Content,
			strings.HasPrefix(resp.Content, "Error: "),
		))
	}
	if len(contents) == 0 {
		return nil, errors.New("anthropic: no valid content in tool message")
	}
	return contents, nil
}
