package tools

import (
	"strings"

	"github.com/cockroachdb/errors"
	jsonenc "github.com/effective-security/mcpbot/encoding/json"
	"github.com/effective-security/mcpbot/mcp"
)

// ErrorPrefix marks the content of a failed tool call for the model
const ErrorPrefix = "Error: "

// ErrInvalidArguments is returned when the model produced arguments that are not a JSON object
var ErrInvalidArguments = errors.New("invalid tool arguments")

var argsDecoder = jsonenc.NewEncoder()

// ParseArguments decodes the arguments produced by the model.
// Empty arguments produce an empty map.
func ParseArguments(args string) (map[string]any, error) {
	args = strings.TrimSpace(args)
	if args == "" || args == "null" {
		return map[string]any{}, nil
	}

	var m map[string]any
	if err := argsDecoder.Unmarshal([]byte(args), &m); err != nil {
		return nil, errors.Wrapf(ErrInvalidArguments, "%s", err.Error())
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// ResultContent returns the text of the tool result for the model.
// The text blocks are concatenated, a result flagged as error is prefixed with "Error: ".
func ResultContent(res *mcp.CallToolResult) string {
	text := res.Text()
	if res != nil && res.IsError {
		return ErrorPrefix + text
	}
	return text
}

// ErrorContent returns the content for a failed tool call
func ErrorContent(err error) string {
	return ErrorPrefix + err.Error()
}
