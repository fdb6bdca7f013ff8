package llmutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/mcpbot/pkg/llms"
	"github.com/effective-security/x/values"
)

// CleanJSON returns JSON by trimming prefixes and postfixes,
// models sometimes wrap tool arguments, like
// "```json\n{...}\n```" or `Here you go: {json}`
func CleanJSON(bs []byte) []byte {
	bs = bytes.TrimSpace(bs)
	if len(bs) == 0 || bs[0] == '{' || bs[0] == '[' {
		return bs
	}

	start := firstOf(bytes.IndexByte(bs, '{'), bytes.IndexByte(bs, '['))
	if start == -1 {
		return bs
	}
	bs = bs[start:]

	end := max(bytes.LastIndexByte(bs, '}'), bytes.LastIndexByte(bs, ']'))
	if end == -1 {
		return bs
	}
	return bs[:end+1]
}

// TrimBackticks removes the markdown code fence, like "```yaml\n...\n```"
func TrimBackticks(bs []byte) []byte {
	bs = bytes.TrimSpace(bs)
	if !bytes.HasPrefix(bs, []byte("```")) {
		return bs
	}
	bs = bs[3:]
	// skip the language tag
	if idx := bytes.IndexByte(bs, '\n'); idx >= 0 {
		bs = bs[idx+1:]
	} else {
		bs = nil
	}
	bs = bytes.TrimSuffix(bytes.TrimSpace(bs), []byte("```"))
	return bytes.TrimSpace(bs)
}

// firstOf returns the smallest of the found indexes, or -1
func firstOf(a, b int) int {
	switch {
	case a == -1:
		return b
	case b == -1:
		return a
	}
	return min(a, b)
}

// ToJSON returns compact JSON, or empty string if val can not be encoded
func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

// ToJSONIndent returns indented JSON
func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// EnsureEndsWithNewline ensures the message ends with a newline,
// it also removes any extra leading and trailing spaces.
func EnsureEndsWithNewline(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return s + "\n"
}

// PrintMessages is a debugging helper for conversation history.
func PrintMessages(w io.Writer, msgs []llms.Message) {
	for _, mc := range msgs {
		fmt.Fprintf(w, "%s: ", strings.ToUpper(string(mc.Role)))
		if len(mc.Parts) == 0 {
			fmt.Fprintln(w)
		}
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, pp.Text)
			case llms.ToolCall:
				fmt.Fprintf(w, "ToolCall ID=%s, Type=%s, Func=%s(%s)\n", pp.ID, pp.Type, pp.FunctionName(), arguments(pp))
			case llms.ToolCallResponse:
				fmt.Fprintf(w, "ToolCallResponse ID=%s, Name=%s, Content=%s\n", pp.ToolCallID, pp.Name, pp.Content)
			}
		}
	}
}

func arguments(tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Arguments
}

// CountMessagesContentSize counts the size of the content in the messages
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size uint64
	for _, mc := range msgs {
		size += uint64(len(mc.Role))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				size += uint64(len(pp.Text))
			case llms.ToolCall:
				size += toolCallSize(pp)
			case llms.ToolCallResponse:
				size += uint64(len(pp.ToolCallID) + len(pp.Name) + len(pp.Content))
			}
		}
	}
	return size
}

// CountResponseContentSize counts the size of the content in the content response
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	var size uint64
	if resp == nil {
		return size
	}
	for _, choice := range resp.Choices {
		size += uint64(len(choice.Content))
		for _, toolCall := range choice.ToolCalls {
			size += toolCallSize(toolCall)
		}
	}
	return size
}

func toolCallSize(tc llms.ToolCall) uint64 {
	size := uint64(len(tc.ID) + len(tc.Type))
	if tc.FunctionCall != nil {
		size += uint64(len(tc.FunctionCall.Name) + len(tc.FunctionCall.Arguments))
	}
	return size
}

// CountTokens returns the token usage reported by the providers
// in GenerationInfo of the choices.
func CountTokens(resp *llms.ContentResponse) (in, out, total int64) {
	if resp == nil {
		return
	}
	for _, choice := range resp.Choices {
		ma := values.MapAny(choice.GenerationInfo)
		in += ma.Int64("InputTokens")
		out += ma.Int64("OutputTokens")
		total += ma.Int64("TotalTokens")
	}
	return
}
