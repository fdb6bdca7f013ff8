package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpbot/assistants"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ assistants.Callback = (*Noop)(nil)
	_ assistants.Callback = (*Printer)(nil)
	_ assistants.Callback = (*PackageLogger)(nil)
	_ assistants.Callback = (*Fanout)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []assistants.Callback
}

func NewFanout(callbacks ...assistants.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback assistants.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnAssistantStart(ctx context.Context, assistant assistants.IAssistant, input string) {
	for _, callback := range l.callbacks {
		callback.OnAssistantStart(ctx, assistant, input)
	}
}

func (l *Fanout) OnAssistantEnd(ctx context.Context, assistant assistants.IAssistant, input string, output string, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnAssistantEnd(ctx, assistant, input, output, messages)
	}
}

func (l *Fanout) OnAssistantError(ctx context.Context, assistant assistants.IAssistant, input string, err error, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnAssistantError(ctx, assistant, input, err, messages)
	}
}

func (l *Fanout) OnAssistantLLMCallStart(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnAssistantLLMCallStart(ctx, assistant, llm, payload)
	}
}

func (l *Fanout) OnAssistantLLMCallEnd(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnAssistantLLMCallEnd(ctx, assistant, llm, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, assistant assistants.IAssistant, tool, input string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, assistant, tool, input)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, assistant assistants.IAssistant, tool, input string, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, assistant, tool, input, output)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, assistant assistants.IAssistant, tool, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, assistant, tool, input, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, assistant assistants.IAssistant, tool string) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, assistant, tool)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnAssistantStart(ctx context.Context, assistant assistants.IAssistant, input string) {
}
func (l *Noop) OnAssistantEnd(ctx context.Context, assistant assistants.IAssistant, input string, output string, messages []llms.Message) {
}
func (l *Noop) OnAssistantError(ctx context.Context, assistant assistants.IAssistant, input string, err error, messages []llms.Message) {
}
func (l *Noop) OnAssistantLLMCallStart(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, payload []llms.Message) {
}
func (l *Noop) OnAssistantLLMCallEnd(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
}
func (l *Noop) OnToolStart(ctx context.Context, assistant assistants.IAssistant, tool, input string) {}
func (l *Noop) OnToolEnd(ctx context.Context, assistant assistants.IAssistant, tool, input string, output string) {
}
func (l *Noop) OnToolError(ctx context.Context, assistant assistants.IAssistant, tool, input string, err error) {
}
func (l *Noop) OnToolNotFound(ctx context.Context, assistant assistants.IAssistant, tool string) {}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnAssistantStart(ctx context.Context, assistant assistants.IAssistant, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Assistant Start: %s\n", assistant.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnAssistantEnd(ctx context.Context, assistant assistants.IAssistant, input string, output string, messages []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Assistant End: %s\n", assistant.Name())
	if l.Mode == ModeVerbose && output != "" {
		fmt.Fprintln(l.Out, output)
	}
}

func (l *Printer) OnAssistantError(ctx context.Context, assistant assistants.IAssistant, input string, err error, messages []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Assistant Error: %s: %s\n", assistant.Name(), err.Error())
}

func (l *Printer) OnAssistantLLMCallStart(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Assistant LLM Call: %s: %s, %d messages\n", assistant.Name(), llm.GetProviderType(), len(payload))
}

func (l *Printer) OnAssistantLLMCallEnd(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Assistant LLM Call End: %s: %s, %d choices\n", assistant.Name(), llm.GetProviderType(), len(resp.Choices))
}

func (l *Printer) OnToolStart(ctx context.Context, assistant assistants.IAssistant, tool, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s (%s)\n", tool, assistant.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnToolEnd(ctx context.Context, assistant assistants.IAssistant, tool, input string, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s (%s)\n", tool, assistant.Name())
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", output)
	}
}

func (l *Printer) OnToolError(ctx context.Context, assistant assistants.IAssistant, tool, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s (%s): %s\n", tool, assistant.Name(), err.Error())
}

func (l *Printer) OnToolNotFound(ctx context.Context, assistant assistants.IAssistant, tool string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", tool)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnAssistantStart(ctx context.Context, assistant assistants.IAssistant, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_start",
		"assistant", assistant.Name(),
		"input", slices.StringUpto(input, 256),
	)
}

func (l *PackageLogger) OnAssistantEnd(ctx context.Context, assistant assistants.IAssistant, input string, output string, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_end",
		"assistant", assistant.Name(),
		"messages", len(messages),
		"result", slices.StringUpto(output, 256),
	)
}

func (l *PackageLogger) OnAssistantError(ctx context.Context, assistant assistants.IAssistant, input string, err error, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "assistant_error",
		"assistant", assistant.Name(),
		"messages", len(messages),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnAssistantLLMCallStart(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_llm_call_start",
		"assistant", assistant.Name(),
		"provider", llm.GetProviderType(),
		"messages", len(payload),
	)
}

func (l *PackageLogger) OnAssistantLLMCallEnd(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_llm_call_end",
		"assistant", assistant.Name(),
		"provider", llm.GetProviderType(),
		"choices", len(resp.Choices),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, assistant assistants.IAssistant, tool, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"assistant", assistant.Name(),
		"tool", tool,
		"input", slices.StringUpto(input, 256),
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, assistant assistants.IAssistant, tool, input string, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"assistant", assistant.Name(),
		"tool", tool,
		"output", slices.StringUpto(output, 256),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, assistant assistants.IAssistant, tool, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"assistant", assistant.Name(),
		"tool", tool,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, assistant assistants.IAssistant, tool string) {
	l.logger.ContextKV(ctx, xlog.WARNING,
		"event", "tool_not_found",
		"assistant", assistant.Name(),
		"tool", tool,
	)
}
