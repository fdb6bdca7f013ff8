package assistants

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/chatmodel"
	"github.com/effective-security/mcpbot/mcp"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/mcpbot/pkg/llmutils"
	"github.com/effective-security/mcpbot/pkg/metricskey"
	"github.com/effective-security/mcpbot/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// Assistant drives one conversation: it asks the model, executes the tools
// the model requests on the MCP server, and feeds the results back
// until the model produces the final answer.
// The history is kept for the lifetime of the Assistant.
type Assistant struct {
	llm   llms.Model
	tools ToolClient
	cfg   *Config

	// lock serializes the requests of the conversation
	lock        sync.Mutex
	history     []llms.Message
	fingerprint uint64
}

var _ IAssistant = (*Assistant)(nil)

// NewAssistant returns the Assistant.
// The history starts with the system prompt, if provided.
func NewAssistant(model llms.Model, tools ToolClient, systemPrompt string, options ...Option) *Assistant {
	a := &Assistant{
		llm:   model,
		tools: tools,
		cfg:   NewConfig(options...),
	}
	if systemPrompt != "" {
		a.history = append(a.history, llms.MessageFromTextParts(llms.RoleSystem, systemPrompt))
	}
	return a
}

// Name returns the name of the Assistant.
func (a *Assistant) Name() string {
	return a.cfg.Name
}

// History returns a copy of the conversation history
func (a *Assistant) History() []llms.Message {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.historyCopy()
}

func (a *Assistant) historyCopy() []llms.Message {
	return append([]llms.Message(nil), a.history...)
}

// ProcessRequest appends the user input to the history and runs the loop
// until the model answers without tool calls.
// The requests of one Assistant are processed one at a time.
func (a *Assistant) ProcessRequest(ctx context.Context, input string) (string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	started := time.Now()
	defer metricskey.PerfAssistantCall.MeasureSince(started, a.Name())

	callback := a.cfg.CallbackHandler
	callback.OnAssistantStart(ctx, a, input)

	output, err := a.run(ctx, input)
	if err != nil {
		metricskey.StatsAssistantCallsFailed.IncrCounter(1, a.Name())
		logger.ContextKV(ctx, xlog.ERROR,
			"assistant", a.Name(),
			"chat_id", chatmodel.GetChatID(ctx),
			"input", slices.StringUpto(input, 64),
			"err", err.Error(),
		)
		callback.OnAssistantError(ctx, a, input, err, a.historyCopy())
		return "", err
	}

	metricskey.StatsAssistantCallsSucceeded.IncrCounter(1, a.Name())
	callback.OnAssistantEnd(ctx, a, input, output, a.historyCopy())
	return output, nil
}

func (a *Assistant) run(ctx context.Context, input string) (string, error) {
	assistantName := a.Name()
	a.history = append(a.history, llms.MessageFromTextParts(llms.RoleUser, input))

	for turn := 0; ; turn++ {
		if turn >= a.cfg.MaxTurns {
			logger.ContextKV(ctx, xlog.WARNING,
				"assistant", assistantName,
				"status", "max_turns_exceeded",
				"turns", turn,
			)
			return "", errors.Wrapf(ErrMaxTurnsExceeded, "assistant %s", assistantName)
		}

		catalog, err := a.listTools(ctx)
		if err != nil {
			return "", err
		}

		resp, err := a.generate(ctx, catalog)
		if err != nil {
			return "", err
		}

		text, toolCalls := mergeChoices(resp)
		// the model's turn is recorded even when it has no text
		a.history = append(a.history, llms.MessageFromToolCalls(llms.RoleAssistant, text, toolCalls...))

		logger.ContextKV(ctx, xlog.DEBUG,
			"assistant", assistantName,
			"status", "response_analysis",
			"turn", turn,
			"choices_count", len(resp.Choices),
			"tool_calls", len(toolCalls),
		)

		if len(toolCalls) == 0 {
			return text, nil
		}

		a.history = append(a.history, a.executeToolCalls(ctx, catalog, toolCalls)...)
	}
}

// listTools fetches the tools for the current step
func (a *Assistant) listTools(ctx context.Context) (*tools.Catalog, error) {
	list, err := a.tools.ListTools(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to list tools")
	}

	catalog := tools.NewCatalog(list)
	if fp := catalog.Fingerprint(); fp != a.fingerprint {
		if a.fingerprint != 0 {
			metricskey.StatsToolCatalogChanges.IncrCounter(1, a.Name())
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"assistant", a.Name(),
			"status", "tool_catalog_changed",
			"tools", catalog.Len(),
			"fingerprint", fmt.Sprintf("%016x", fp),
		)
		a.fingerprint = fp
	}
	return catalog, nil
}

// generate calls the model, and retries when the response has no choices
func (a *Assistant) generate(ctx context.Context, catalog *tools.Catalog) (*llms.ContentResponse, error) {
	assistantName := a.Name()
	modelName := values.StringsCoalesce(a.cfg.Model, string(a.llm.GetProviderType()))
	callOpts := a.cfg.GetCallOptions(catalog.Definitions())
	callback := a.cfg.CallbackHandler

	for retryCount := 1; ; retryCount++ {
		bytesSent := llmutils.CountMessagesContentSize(a.history)

		callback.OnAssistantLLMCallStart(ctx, a, a.llm, a.historyCopy())

		metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(a.history)), assistantName, modelName)
		metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), assistantName, modelName)

		resp, err := a.llm.GenerateContent(ctx, a.historyCopy(), callOpts...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to generate content from LLM")
		}

		callback.OnAssistantLLMCallEnd(ctx, a, a.llm, resp)

		bytesReceived := llmutils.CountResponseContentSize(resp)
		metricskey.StatsLLMBytesReceived.IncrCounter(float64(bytesReceived), assistantName, modelName)
		metricskey.StatsLLMBytesTotal.IncrCounter(float64(bytesSent+bytesReceived), assistantName, modelName)

		tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
		metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), assistantName, modelName)
		metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), assistantName, modelName)
		metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), assistantName, modelName)

		if resp != nil && len(resp.Choices) > 0 {
			return resp, nil
		}

		if retryCount >= DefaultMaxRetries {
			logger.ContextKV(ctx, xlog.ERROR,
				"assistant", assistantName,
				"status", "max_retries_exceeded",
				"retry_count", retryCount,
			)
			return nil, errors.Wrapf(ErrEmptyResponse, "assistant %s: %d attempts", assistantName, retryCount)
		}

		metricskey.StatsAssistantCallsRetried.IncrCounter(1, assistantName)
		logger.ContextKV(ctx, xlog.WARNING,
			"assistant", assistantName,
			"status", "retrying_empty_response",
			"retry_count", retryCount,
		)
	}
}

// mergeChoices returns the text and the tool calls of all choices.
// Tool calls without ID or type get the defaults.
func mergeChoices(resp *llms.ContentResponse) (string, []llms.ToolCall) {
	var texts []string
	var toolCalls []llms.ToolCall
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		if choice.Content != "" {
			texts = append(texts, choice.Content)
		}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				tc.FunctionCall = &llms.FunctionCall{}
			}
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("%s_%d", tc.FunctionCall.Name, len(toolCalls))
			}
			tc.Type = values.StringsCoalesce(tc.Type, "function")
			toolCalls = append(toolCalls, tc)
		}
	}
	return strings.Join(texts, "\n\n"), toolCalls
}

// executeToolCalls executes the tool calls, and returns the tool messages
// in the order of the calls.
func (a *Assistant) executeToolCalls(ctx context.Context, catalog *tools.Catalog, toolCalls []llms.ToolCall) []llms.Message {
	results := make([]string, len(toolCalls))

	if a.cfg.ParallelToolCalls && len(toolCalls) > 1 {
		var wg sync.WaitGroup
		wg.Add(len(toolCalls))
		for i, tc := range toolCalls {
			go func(index int, tc llms.ToolCall) {
				defer wg.Done()
				results[index] = a.callTool(ctx, catalog, tc)
			}(i, tc)
		}
		wg.Wait()
	} else {
		for i, tc := range toolCalls {
			results[i] = a.callTool(ctx, catalog, tc)
		}
	}

	messages := make([]llms.Message, 0, len(toolCalls))
	for i, tc := range toolCalls {
		logger.ContextKV(ctx, xlog.DEBUG,
			"assistant", a.Name(),
			"status", "tool_call_response",
			"tool_call_id", tc.ID,
			"tool_name", tc.FunctionCall.Name,
			"content_length", len(results[i]),
		)
		messages = append(messages, llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
			ToolCallID: tc.ID,
			Name:       tc.FunctionCall.Name,
			Content:    results[i],
		}))
	}
	return messages
}

// callTool invokes the tool on the server and returns the content for the model.
// Failures are returned as content prefixed with "Error: ".
func (a *Assistant) callTool(ctx context.Context, catalog *tools.Catalog, tc llms.ToolCall) string {
	toolName := tc.FunctionCall.Name
	toolArgs := tc.FunctionCall.Arguments
	callback := a.cfg.CallbackHandler

	if !catalog.Has(toolName) {
		// still sent to the server
		metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
		callback.OnToolNotFound(ctx, a, toolName)
		logger.ContextKV(ctx, xlog.WARNING,
			"assistant", a.Name(),
			"status", "tool_not_found",
			"tool_name", toolName,
			"available_tools", strings.Join(catalog.Names(), ", "),
		)
	}

	callback.OnToolStart(ctx, a, toolName, toolArgs)
	started := time.Now()

	res, err := a.invoke(ctx, toolName, toolArgs)
	metricskey.PerfToolCall.MeasureSince(started, toolName)

	if err != nil {
		if errors.Is(err, tools.ErrInvalidArguments) {
			metricskey.StatsAssistantLLMParseErrors.IncrCounter(1, a.Name())
		}
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		callback.OnToolError(ctx, a, toolName, toolArgs, err)
		logger.ContextKV(ctx, xlog.WARNING,
			"assistant", a.Name(),
			"status", "tool_call_failed",
			"tool", toolName,
			"err", err.Error(),
		)
		return tools.ErrorContent(err)
	}

	content := tools.ResultContent(res)
	if res != nil && res.IsError {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		logger.ContextKV(ctx, xlog.WARNING,
			"assistant", a.Name(),
			"status", "tool_returned_error",
			"tool", toolName,
			"content", slices.StringUpto(content, 128),
		)
	} else {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)
	}

	callback.OnToolEnd(ctx, a, toolName, toolArgs, content)
	return content
}

func (a *Assistant) invoke(ctx context.Context, toolName, toolArgs string) (*mcp.CallToolResult, error) {
	args, err := tools.ParseArguments(toolArgs)
	if err != nil {
		return nil, err
	}
	return a.tools.CallTool(ctx, toolName, args)
}
