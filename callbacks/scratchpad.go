package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/mcpbot/assistants"
	"github.com/effective-security/mcpbot/chatmodel"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/mcpbot/pkg/llmutils"
)

// ensure Scratchpad implements assistants.Callback
var _ assistants.Callback = (*Scratchpad)(nil)

var TimeNowFn = time.Now

// RunStats is the summary of one chat request
type RunStats struct {
	ChatID string
	RunID  string

	Duration                time.Duration
	TotalMessages           uint32
	LLMBytesOut             uint64
	LLMBytesIn              uint64
	LLMInputTokens          uint64
	LLMOutputTokens         uint64
	LLMTotalTokens          uint64
	AssistantCalls          uint32
	AssistantCallsSucceeded uint32
	AssistantCallsFailed    uint32
	AssistantLLMCalls       uint32
	ToolsCalls              uint32
	ToolsCallsSucceeded     uint32
	ToolsCallsFailed        uint32
	ToolNotFound            uint32
	// ToolsUsed is the number of calls per tool
	ToolsUsed map[string]uint32
}

// ToolsUsedString returns the tools used in the run, sorted by name: `name=count,...`
func (s *RunStats) ToolsUsedString() string {
	names := make([]string, 0, len(s.ToolsUsed))
	for name := range s.ToolsUsed {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf strings.Builder
	for i, name := range names {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, "%s=%d", name, s.ToolsUsed[name])
	}
	return buf.String()
}

// Scratchpad collects the transcript and the stats of the runs.
// A run is identified by the RunID of chatmodel.ChatContext,
// the events without a started run are ignored.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// StartRun starts the run for the ChatContext in ctx
func (l *Scratchpad) StartRun(ctx context.Context) {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return
	}

	r := &run{
		stats: RunStats{
			ChatID:    chatCtx.GetChatID(),
			RunID:     chatCtx.RunID(),
			ToolsUsed: map[string]uint32{},
		},
		chatCtx: chatCtx,
		started: TimeNowFn(),
	}

	l.lock.Lock()
	l.runs[chatCtx.RunID()] = r
	l.lock.Unlock()

	r.print("*** Run Started ***")
}

// EndRun returns the stats and the transcript of the run, and removes it
func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, []byte) {
	run := l.getRun(ctx)
	if run == nil {
		return nil, nil
	}

	run.lock.Lock()
	stats := run.stats
	stats.ToolsUsed = maps.Clone(run.stats.ToolsUsed)
	run.lock.Unlock()
	stats.Duration = TimeNowFn().Sub(run.started)

	run.print(fmt.Sprintf("Assistant calls: %d, Failed: %d",
		stats.AssistantCalls,
		stats.AssistantCallsFailed,
	))
	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
		stats.ToolsCalls,
		stats.ToolsCallsFailed,
		stats.ToolNotFound,
	))
	if len(stats.ToolsUsed) > 0 {
		run.print("Tools used:", stats.ToolsUsedString())
	}
	run.print(fmt.Sprintf("LLM calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Bytes Total: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
		stats.AssistantLLMCalls,
		stats.TotalMessages,
		stats.LLMBytesOut,
		stats.LLMBytesIn,
		stats.LLMBytesOut+stats.LLMBytesIn,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
		stats.LLMTotalTokens,
	))

	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	delete(l.runs, run.chatCtx.RunID())
	l.lock.Unlock()

	return &stats, run.w.Bytes()
}

// Runs returns the number of active runs
func (l *Scratchpad) Runs() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.runs)
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	runID := chatmodel.GetRunID(ctx)
	if runID == "" {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[runID]
}

func (l *Scratchpad) OnAssistantStart(ctx context.Context, assistant assistants.IAssistant, input string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AssistantCalls, 1)
	run.print(assistant.Name(), "*** Assistant Start ***")
	run.print(assistant.Name(), "Input:", input)
}

func (l *Scratchpad) OnAssistantEnd(ctx context.Context, assistant assistants.IAssistant, input string, output string, messages []llms.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AssistantCallsSucceeded, 1)

	if l.mode == ModeVerbose {
		run.print(assistant.Name(), "Output:", output)
		run.print(assistant.Name(), l.printMessages(messages))
	}
	run.print(assistant.Name(), "*** Assistant End ***")
}

func (l *Scratchpad) OnAssistantError(ctx context.Context, assistant assistants.IAssistant, input string, err error, messages []llms.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AssistantCallsFailed, 1)
	run.print(assistant.Name(), "*** Error ***", err.Error())
	run.print(assistant.Name(), l.printMessages(messages))
}

func (l *Scratchpad) printMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		textParts := 0
		toolParts := 0
		toolResponseParts := 0
		for _, part := range msg.Parts {
			switch typ := part.(type) {
			case llms.TextContent:
				textParts++
			case llms.ToolCall:
				toolParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			case llms.ToolCallResponse:
				toolResponseParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			}
		}

		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool responses\n", textParts, toolParts, toolResponseParts)
	}
	return buf.String()
}

func (l *Scratchpad) OnAssistantLLMCallStart(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesOut, llmutils.CountMessagesContentSize(payload))
	atomic.AddUint32(&run.stats.AssistantLLMCalls, 1)
	count := uint32(len(payload))
	atomic.AddUint32(&run.stats.TotalMessages, count)

	run.print(assistant.Name(), "*** LLM Call ***", fmt.Sprintf("%s, %d messages", llm.GetProviderType(), count))
	if l.mode == ModeVerbose {
		run.print(assistant.Name(), l.printMessages(payload))
	}
}

func (l *Scratchpad) OnAssistantLLMCallEnd(ctx context.Context, assistant assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))

	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	atomic.AddUint64(&run.stats.LLMInputTokens, uint64(tokensIn))
	atomic.AddUint64(&run.stats.LLMOutputTokens, uint64(tokensOut))
	atomic.AddUint64(&run.stats.LLMTotalTokens, uint64(tokensTotal))

	run.print(assistant.Name(), "*** LLM Call End ***", fmt.Sprintf("%s, %d input tokens, %d output tokens, %d total tokens", llm.GetProviderType(), tokensIn, tokensOut, tokensTotal))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, assistant assistants.IAssistant, tool, input string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCalls, 1)
	run.countTool(tool)
	run.print(assistant.Name(), tool, "*** Tool Start ***")
	run.print(assistant.Name(), tool, "Input:", input)
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, assistant assistants.IAssistant, tool, input string, output string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsSucceeded, 1)
	if l.mode == ModeVerbose {
		run.print(assistant.Name(), tool, "Output:", output)
	}
	run.print(assistant.Name(), tool, "*** Tool End ***")
}

func (l *Scratchpad) OnToolError(ctx context.Context, assistant assistants.IAssistant, tool, input string, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsFailed, 1)
	run.print(assistant.Name(), tool, "*** Tool Error ***", err.Error())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, assistant assistants.IAssistant, tool string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolNotFound, 1)
	run.print(assistant.Name(), "*** Tool Not Found ***", tool)
}

type run struct {
	chatCtx chatmodel.ChatContext
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

func (r *run) countTool(tool string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.stats.ToolsUsed[tool]++
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp chatID.runID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ts := TimeNowFn().Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.chatCtx.GetChatID())
	_, _ = r.w.WriteString(".")
	_, _ = r.w.WriteString(r.chatCtx.RunID())
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
