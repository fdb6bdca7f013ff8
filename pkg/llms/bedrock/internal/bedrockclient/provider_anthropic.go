package bedrockclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/pkg/llms"
)

// Ref: https://docs.aws.amazon.com/bedrock/latest/userguide/model-parameters-anthropic-claude-messages.html

// anthropicInputContent is a content block of the input message.
type anthropicInputContent struct {
	// One of: "text", "tool_use", "tool_result"
	Type string `json:"type"`
	// Required if type is "text"
	Text string `json:"text,omitempty"`
	// Tool use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// Tool result fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicInputMessage struct {
	// One of: "user", "assistant"
	Role    string                  `json:"role"`
	Content []anthropicInputContent `json:"content"`
}

// anthropicTool is a tool that can be used by the model,
// the input schema is sent as is.
type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	// One of: "auto", "any", "tool"
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// anthropicInput is the request body.
type anthropicInput struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	System           string                   `json:"system,omitempty"`
	Messages         []*anthropicInputMessage `json:"messages"`
	Temperature      float64                  `json:"temperature,omitempty"`
	TopP             float64                  `json:"top_p,omitempty"`
	StopSequences    []string                 `json:"stop_sequences,omitempty"`
	Tools            []anthropicTool          `json:"tools,omitempty"`
	ToolChoice       *anthropicToolChoice     `json:"tool_choice,omitempty"`
}

// anthropicOutputContent is a content block of the output
type anthropicOutputContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// anthropicOutput is the response body.
type anthropicOutput struct {
	ID      string                   `json:"id"`
	Type    string                   `json:"type"`
	Role    string                   `json:"role"`
	Content []anthropicOutputContent `json:"content"`
	// One of: ["end_turn", "max_tokens", "stop_sequence", "tool_use"]
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

const (
	// AnthropicLatestVersion is the API version for Claude models on Bedrock
	AnthropicLatestVersion = "bedrock-2023-05-31"

	anthropicDefaultMaxTokens = 4096
)

// Finish reason for the completion of the generation.
const (
	AnthropicCompletionReasonEndTurn      = "end_turn"
	AnthropicCompletionReasonMaxTokens    = "max_tokens"
	AnthropicCompletionReasonStopSequence = "stop_sequence"
	AnthropicCompletionReasonToolUse      = "tool_use"
)

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

func createAnthropicCompletion(ctx context.Context,
	client InvokeModelAPI,
	modelID string,
	messages []llms.Message,
	options *llms.CallOptions,
) (*llms.ContentResponse, error) {
	input, err := newAnthropicInput(messages, options)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrap(err, "bedrock: failed to invoke model")
	}

	var output anthropicOutput
	if err = json.Unmarshal(resp.Body, &output); err != nil {
		return nil, errors.Wrap(err, "bedrock: failed to decode response")
	}
	return toContentResponse(&output)
}

func newAnthropicInput(messages []llms.Message, options *llms.CallOptions) (*anthropicInput, error) {
	inputMessages, systemPrompt, err := processInputMessagesAnthropic(messages)
	if err != nil {
		return nil, err
	}

	input := &anthropicInput{
		AnthropicVersion: AnthropicLatestVersion,
		MaxTokens:        getMaxTokens(options.MaxTokens, anthropicDefaultMaxTokens),
		System:           systemPrompt,
		Messages:         inputMessages,
		Temperature:      options.Temperature,
		TopP:             options.TopP,
		StopSequences:    options.StopWords,
	}

	for _, tool := range options.Tools {
		if tool.Function == nil {
			return nil, errors.Newf("bedrock: tool type %v not supported", tool.Type)
		}
		schema, err := inputSchema(tool.Function.Parameters)
		if err != nil {
			return nil, errors.WithMessagef(err, "bedrock: invalid parameters for %s", tool.Function.Name)
		}
		input.Tools = append(input.Tools, anthropicTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		})
	}

	if len(input.Tools) > 0 {
		switch choice := options.ToolChoiceName(); choice {
		case "none":
			input.Tools = nil
		case "", "auto":
			input.ToolChoice = &anthropicToolChoice{Type: "auto"}
		case "required":
			input.ToolChoice = &anthropicToolChoice{Type: "any"}
		default:
			input.ToolChoice = &anthropicToolChoice{Type: "tool", Name: choice}
		}
	}
	return input, nil
}

func inputSchema(parameters any) (json.RawMessage, error) {
	var raw []byte
	switch v := parameters.(type) {
	case nil:
		return emptySchema, nil
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
	if len(raw) == 0 {
		return emptySchema, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("invalid JSON schema")
	}
	return json.RawMessage(raw), nil
}

func toContentResponse(output *anthropicOutput) (*llms.ContentResponse, error) {
	if len(output.Content) == 0 {
		return nil, errors.New("bedrock: no results")
	}
	switch output.StopReason {
	case AnthropicCompletionReasonEndTurn, AnthropicCompletionReasonStopSequence, AnthropicCompletionReasonToolUse:
	default:
		return nil, errors.Newf("bedrock: completed due to %s. Maybe try increasing max tokens", output.StopReason)
	}

	choice := &llms.ContentChoice{
		StopReason: output.StopReason,
		GenerationInfo: map[string]any{
			"InputTokens":  output.Usage.InputTokens,
			"OutputTokens": output.Usage.OutputTokens,
			"TotalTokens":  output.Usage.InputTokens + output.Usage.OutputTokens,
			"ID":           output.ID,
		},
	}

	var text strings.Builder
	for _, c := range output.Content {
		switch c.Type {
		case "text":
			text.WriteString(c.Text)
		case "tool_use":
			args := string(c.Input)
			if args == "" || args == "null" {
				args = "{}"
			}
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   c.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      c.Name,
					Arguments: args,
				},
			})
		}
	}
	choice.Content = text.String()

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{choice},
	}, nil
}

// processInputMessagesAnthropic converts the messages to the anthropic input,
// system messages are joined into the system prompt,
// consecutive messages of the same role are merged.
func processInputMessagesAnthropic(messages []llms.Message) ([]*anthropicInputMessage, string, error) {
	var system []string
	var result []*anthropicInputMessage

	for _, msg := range messages {
		if msg.Role == llms.RoleSystem {
			if text := msg.Text(); text != "" {
				system = append(system, text)
			}
			continue
		}

		role, err := getAnthropicRole(msg.Role)
		if err != nil {
			return nil, "", err
		}
		content, err := getAnthropicInputContent(msg)
		if err != nil {
			return nil, "", err
		}
		if len(content) == 0 {
			continue
		}

		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, content...)
			continue
		}
		result = append(result, &anthropicInputMessage{
			Role:    role,
			Content: content,
		})
	}
	return result, strings.Join(system, "\n"), nil
}

// getAnthropicRole returns the role of the message, tool results are sent by the user.
func getAnthropicRole(role llms.Role) (string, error) {
	switch role {
	case llms.RoleAssistant:
		return "assistant", nil
	case llms.RoleUser, llms.RoleTool:
		return "user", nil
	default:
		return "", errors.Wrapf(llms.ErrUnexpectedRole, "bedrock: role %s not supported", role)
	}
}

func getAnthropicInputContent(msg llms.Message) ([]anthropicInputContent, error) {
	var content []anthropicInputContent
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			if p.Text != "" {
				content = append(content, anthropicInputContent{Type: "text", Text: p.Text})
			}
		case llms.ToolCall:
			args := "{}"
			if p.FunctionCall != nil && p.FunctionCall.Arguments != "" {
				args = p.FunctionCall.Arguments
			}
			if !json.Valid([]byte(args)) {
				return nil, errors.Newf("bedrock: invalid tool call arguments for %s", p.ID)
			}
			content = append(content, anthropicInputContent{
				Type:  "tool_use",
				ID:    p.ID,
				Name:  p.FunctionName(),
				Input: json.RawMessage(args),
			})
		case llms.ToolCallResponse:
			content = append(content, anthropicInputContent{
				Type:      "tool_result",
				ToolUseID: p.ToolCallID,
				Content:   p.Content,
				IsError:   strings.HasPrefix(p.Content, "Error: "),
			})
		default:
			return nil, errors.Newf("bedrock: unsupported content part: %T", part)
		}
	}
	return content, nil
}
