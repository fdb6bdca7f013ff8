package assistants

import (
	"context"

	"github.com/effective-security/mcpbot/pkg/llms"
)

// Callback receives the events of the assistant run.
// Implementations are in the callbacks package.
type Callback interface {
	OnAssistantStart(ctx context.Context, assistant IAssistant, input string)
	OnAssistantEnd(ctx context.Context, assistant IAssistant, input string, output string, messages []llms.Message)
	OnAssistantError(ctx context.Context, assistant IAssistant, input string, err error, messages []llms.Message)
	OnAssistantLLMCallStart(ctx context.Context, assistant IAssistant, llm llms.Model, messages []llms.Message)
	OnAssistantLLMCallEnd(ctx context.Context, assistant IAssistant, llm llms.Model, resp *llms.ContentResponse)

	OnToolStart(ctx context.Context, assistant IAssistant, tool string, input string)
	OnToolEnd(ctx context.Context, assistant IAssistant, tool string, input string, output string)
	OnToolError(ctx context.Context, assistant IAssistant, tool string, input string, err error)
	OnToolNotFound(ctx context.Context, assistant IAssistant, tool string)
}

type noopCallback struct{}

func (noopCallback) OnAssistantStart(context.Context, IAssistant, string) {}
func (noopCallback) OnAssistantEnd(context.Context, IAssistant, string, string, []llms.Message) {
}
func (noopCallback) OnAssistantError(context.Context, IAssistant, string, error, []llms.Message) {
}
func (noopCallback) OnAssistantLLMCallStart(context.Context, IAssistant, llms.Model, []llms.Message) {
}
func (noopCallback) OnAssistantLLMCallEnd(context.Context, IAssistant, llms.Model, *llms.ContentResponse) {
}
func (noopCallback) OnToolStart(context.Context, IAssistant, string, string)        {}
func (noopCallback) OnToolEnd(context.Context, IAssistant, string, string, string)  {}
func (noopCallback) OnToolError(context.Context, IAssistant, string, string, error) {}
func (noopCallback) OnToolNotFound(context.Context, IAssistant, string)             {}
