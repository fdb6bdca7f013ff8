package assistants

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot", "assistants")

//go:generate mockgen -destination=../mocks/mockllms/llm_mock.gen.go -package mockllms github.com/effective-security/mcpbot/pkg/llms Model
//go:generate mockgen -source=assistants.go -destination=../mocks/mockassistants/assistants_mock.gen.go -package mockassistants

const (
	// DefaultMaxTurns is the number of model calls allowed for one request
	DefaultMaxTurns = 10
	// DefaultMaxRetries is the number of attempts when the model returns no choices
	DefaultMaxRetries = 3
)

var (
	// ErrMaxTurnsExceeded is returned when the model keeps asking for tools
	// after the allowed number of turns.
	ErrMaxTurnsExceeded = errors.New("max turns exceeded")
	// ErrEmptyResponse is returned when the model returned no choices after retries
	ErrEmptyResponse = errors.New("LLM returned empty response")
)

// ToolClient provides the tools of the MCP server
type ToolClient interface {
	// ListTools returns the tools currently offered by the server.
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	// CallTool invokes the tool with the arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// IAssistant answers the user requests in one conversation
type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// ProcessRequest runs the conversation loop for the user input,
	// and returns the final answer of the model.
	ProcessRequest(ctx context.Context, input string) (string, error)
}

var _ ToolClient = (*mcp.Client)(nil)
