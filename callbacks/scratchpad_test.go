package callbacks

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/effective-security/mcpbot/chatmodel"
	"github.com/effective-security/mcpbot/mocks/mockassistants"
	"github.com/effective-security/mcpbot/mocks/mockllms"
	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRunStats_ToolsUsedString(t *testing.T) {
	t.Parallel()
	s := &RunStats{}
	assert.Empty(t, s.ToolsUsedString())

	s.ToolsUsed = map[string]uint32{"search": 2, "get_status": 1}
	assert.Equal(t, "get_status=1,search=2", s.ToolsUsedString())
}

func newTestChatContext() (context.Context, chatmodel.ChatContext) {
	chatCtx := chatmodel.NewChatContext("room1", chatmodel.Sender{ID: "u1"})
	ctx := chatmodel.WithChatContext(context.Background(), chatCtx)
	return ctx, chatCtx
}

func TestScratchpad_StartRun_EndRun(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeVerbose)
	ctx, cctx := newTestChatContext()
	sp.StartRun(ctx)
	assert.Equal(t, 1, sp.Runs())

	r := sp.runs[cctx.RunID()]
	require.NotNil(t, r)
	r.stats.AssistantCalls = 2
	r.stats.AssistantCallsFailed = 1
	r.stats.ToolsCalls = 3
	r.stats.ToolsCallsFailed = 2
	r.stats.ToolNotFound = 1

	stats, buf := sp.EndRun(ctx)
	require.NotNil(t, stats)
	assert.Equal(t, "room1", stats.ChatID)
	assert.Equal(t, cctx.RunID(), stats.RunID)
	assert.Contains(t, string(buf), "Run Started")
	assert.Contains(t, string(buf), "Run Ended")
	assert.Contains(t, string(buf), "Assistant calls: 2, Failed: 1")
	assert.Contains(t, string(buf), "Tool calls: 3, Failed: 2, Not Found: 1")
	assert.Equal(t, 0, sp.Runs())

	// already ended
	s2, b2 := sp.EndRun(ctx)
	assert.Nil(t, s2)
	assert.Nil(t, b2)
}

func TestScratchpad_NoRun(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeDefault)
	assert.Nil(t, sp.getRun(context.Background()))
	// no chat context, nothing is started
	sp.StartRun(context.Background())
	assert.Equal(t, 0, sp.Runs())

	ctx, _ := newTestChatContext()
	assert.Nil(t, sp.getRun(ctx))
}

func TestScratchpad_OnCallbacks(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	ast := mockassistants.NewMockIAssistant(ctrl)
	ast.EXPECT().Name().Return("A1").AnyTimes()
	llm := mockllms.NewMockModel(ctrl)
	llm.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	sp := NewScratchpad(ModeVerbose)
	ctx, _ := newTestChatContext()
	sp.StartRun(ctx)

	call := llms.ToolCall{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "T1", Arguments: `{}`}}
	msgs := []llms.Message{
		llms.MessageFromTextParts(llms.RoleUser, "foo"),
		llms.MessageFromToolCalls(llms.RoleAssistant, "", call),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "c1", Name: "T1", Content: "bar"}),
	}
	resp := &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "Answer 1",
		GenerationInfo: map[string]any{"InputTokens": 10, "OutputTokens": 5, "TotalTokens": 15},
	}}}

	sp.OnAssistantStart(ctx, ast, "input")
	sp.OnAssistantLLMCallStart(ctx, ast, llm, msgs)
	sp.OnAssistantLLMCallEnd(ctx, ast, llm, resp)
	sp.OnToolStart(ctx, ast, "T1", "tinput")
	sp.OnToolEnd(ctx, ast, "T1", "tinput", "toutput")
	sp.OnToolError(ctx, ast, "T1", "tinput", errors.New("terr"))
	sp.OnToolNotFound(ctx, ast, "T2")
	sp.OnAssistantEnd(ctx, ast, "input", "Answer 1", msgs)
	sp.OnAssistantError(ctx, ast, "input", errors.New("fail"), msgs)

	stats, output := sp.EndRun(ctx)
	require.NotNil(t, stats)
	assert.EqualValues(t, 1, stats.AssistantCalls)
	assert.EqualValues(t, 1, stats.AssistantCallsSucceeded)
	assert.EqualValues(t, 1, stats.AssistantCallsFailed)
	assert.EqualValues(t, 1, stats.AssistantLLMCalls)
	assert.EqualValues(t, 3, stats.TotalMessages)
	assert.EqualValues(t, 1, stats.ToolsCalls)
	assert.EqualValues(t, 1, stats.ToolsCallsSucceeded)
	assert.EqualValues(t, 1, stats.ToolsCallsFailed)
	assert.EqualValues(t, 1, stats.ToolNotFound)
	assert.Equal(t, map[string]uint32{"T1": 1}, stats.ToolsUsed)
	assert.Equal(t, "T1=1", stats.ToolsUsedString())
	assert.EqualValues(t, 10, stats.LLMInputTokens)
	assert.EqualValues(t, 5, stats.LLMOutputTokens)
	assert.EqualValues(t, 15, stats.LLMTotalTokens)
	assert.NotZero(t, stats.LLMBytesOut)
	assert.NotZero(t, stats.LLMBytesIn)

	outStr := string(output)
	assert.Contains(t, outStr, "A1 *** Assistant Start ***")
	assert.Contains(t, outStr, "A1 *** Assistant End ***")
	assert.Contains(t, outStr, "A1 T1 *** Tool Start ***")
	assert.Contains(t, outStr, "A1 T1 *** Tool End ***")
	assert.Contains(t, outStr, "*** LLM Call *** OPENAI, 3 messages")
	assert.Contains(t, outStr, "ToolCall: c1 (T1)")
	assert.Contains(t, outStr, "*** Tool Not Found *** T2")
	assert.Contains(t, outStr, "Tools used: T1=1")
	assert.Contains(t, outStr, "*** Error *** fail")

	// the events after the run are ignored
	sp.OnAssistantStart(ctx, ast, "input")
	sp.OnToolStart(ctx, ast, "T1", "tinput")
	assert.Equal(t, 0, sp.Runs())
}

func Test_run_print_format(t *testing.T) {
	t.Parallel()
	_, chatCtx := newTestChatContext()
	r := &run{chatCtx: chatCtx}

	r.print("hello", "again")
	lines := strings.Split(r.w.String(), "\n")
	require.NotEmpty(t, lines[0])
	exp := regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} room1\.` + chatCtx.RunID() + ` hello again$`)
	assert.Regexp(t, exp, lines[0])
}
