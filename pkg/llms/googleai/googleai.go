package googleai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/mcpbot/pkg/llms/googleai/internal/genaiutils"
	"github.com/effective-security/x/values"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

var (
	ErrNoContentInResponse   = errors.New("googleai: no content in generation response")
	ErrUnknownPartInResponse = errors.New("googleai: unknown part type in generation response")
)

const (
	CITATIONS = "citations"
	SAFETY    = "safety"
	RoleModel = "model"
	RoleUser  = "user"
)

var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryDangerousContent,
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
}

// GetName returns the default model name.
func (g *GoogleAI) GetName() string {
	return g.opts.DefaultModel
}

// GetProviderType implements the Model interface.
func (g *GoogleAI) GetProviderType() llms.ProviderType {
	return llms.ProviderGoogleAI
}

// GenerateContent implements the [llms.Model] interface.
func (g *GoogleAI) GenerateContent(
	ctx context.Context,
	messages []llms.Message,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{
		Model:       g.opts.DefaultModel,
		MaxTokens:   g.opts.DefaultMaxTokens,
		Temperature: g.opts.DefaultTemperature,
	}
	for _, opt := range options {
		opt(&opts)
	}

	callCfg := &genai.GenerateContentConfig{
		StopSequences:   opts.StopWords,
		MaxOutputTokens: int32(opts.MaxTokens),
		Temperature:     genaiutils.Float32Ptr(float32(opts.Temperature)),
		TopP:            genaiutils.Float32Ptr(float32(opts.TopP)),
		Seed:            genaiutils.Int32Ptr(int32(opts.Seed)),
	}
	for _, cat := range harmCategories {
		callCfg.SafetySettings = append(callCfg.SafetySettings, &genai.SafetySetting{
			Category:  cat,
			Threshold: g.opts.HarmThreshold,
		})
	}

	var err error
	if callCfg.Tools, err = genaiutils.ConvertTools(opts.Tools); err != nil {
		return nil, err
	}
	if len(callCfg.Tools) > 0 {
		callCfg.ToolConfig = genaiutils.ConvertToolChoice(opts.ToolChoiceName())
	}

	history, system, err := convertMessages(messages)
	if err != nil {
		return nil, err
	}
	callCfg.SystemInstruction = system

	model := values.StringsCoalesce(opts.Model, g.opts.DefaultModel)
	resp, err := g.client.Models.GenerateContent(ctx, model, history, callCfg)
	if err != nil {
		return nil, errors.Wrap(err, "googleai: failed to generate content")
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrNoContentInResponse
	}
	return convertCandidate(resp.Candidates[0], resp.UsageMetadata)
}

// convertCandidate merges the text and function calls of the candidate into a single choice.
func convertCandidate(candidate *genai.Candidate, usage *genai.GenerateContentResponseUsageMetadata) (*llms.ContentResponse, error) {
	var buf strings.Builder
	var toolCalls []llms.ToolCall

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch {
			case part.Thought:
				// skip reasoning summaries
			case part.FunctionCall != nil:
				args := "{}"
				if len(part.FunctionCall.Args) > 0 {
					b, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						return nil, errors.WithStack(err)
					}
					args = string(b)
				}
				toolCalls = append(toolCalls, llms.ToolCall{
					ID:   values.StringsCoalesce(part.FunctionCall.ID, "call_"+uuid.NewString()),
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: args,
					},
				})
			case part.Text != "":
				buf.WriteString(part.Text)
			default:
				return nil, errors.Wrap(ErrUnknownPartInResponse, "not text or function call")
			}
		}
	}

	metadata := map[string]any{
		CITATIONS: candidate.CitationMetadata,
		SAFETY:    candidate.SafetyRatings,
	}
	if usage != nil {
		metadata["InputTokens"] = int(usage.PromptTokenCount)
		metadata["OutputTokens"] = int(usage.CandidatesTokenCount + usage.ToolUsePromptTokenCount + usage.ThoughtsTokenCount)
		metadata["TotalTokens"] = int(usage.TotalTokenCount)
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        buf.String(),
			StopReason:     string(candidate.FinishReason),
			GenerationInfo: metadata,
			ToolCalls:      toolCalls,
		}},
	}, nil
}

// convertMessages returns the conversation contents and the system instruction.
// Consecutive messages with the same genai role are merged, as Gemini expects
// all function responses of a turn in one content.
func convertMessages(messages []llms.Message) ([]*genai.Content, *genai.Content, error) {
	var system *genai.Content
	history := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		parts, err := convertParts(msg.Parts)
		if err != nil {
			return nil, nil, err
		}

		var role string
		switch msg.Role {
		case llms.RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, parts...)
			continue
		case llms.RoleAssistant:
			role = RoleModel
		case llms.RoleUser, llms.RoleTool:
			role = RoleUser
		default:
			return nil, nil, errors.Wrapf(llms.ErrUnexpectedRole, "role %v not supported", msg.Role)
		}

		if n := len(history); n > 0 && history[n-1].Role == role {
			history[n-1].Parts = append(history[n-1].Parts, parts...)
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: parts})
	}
	return history, system, nil
}

func convertParts(parts []llms.ContentPart) ([]*genai.Part, error) {
	converted := make([]*genai.Part, 0, len(parts))
	for _, part := range parts {
		out := new(genai.Part)

		switch p := part.(type) {
		case llms.TextContent:
			if p.Text == "" {
				continue
			}
			out.Text = p.Text
		case llms.ToolCall:
			if p.FunctionCall == nil {
				return nil, errors.Newf("tool call %s has no function", p.ID)
			}
			var args map[string]any
			if p.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(p.FunctionCall.Arguments), &args); err != nil {
					return nil, errors.Wrapf(err, "invalid arguments for tool call %s", p.ID)
				}
			}
			out.FunctionCall = &genai.FunctionCall{
				ID:   p.ID,
				Name: p.FunctionCall.Name,
				Args: args,
			}
		case llms.ToolCallResponse:
			out.FunctionResponse = &genai.FunctionResponse{
				ID:   p.ToolCallID,
				Name: p.Name,
				Response: map[string]any{
					"response": p.Content,
				},
			}
		default:
			return nil, errors.Newf("unsupported content part: %T", part)
		}

		converted = append(converted, out)
	}
	return converted, nil
}
