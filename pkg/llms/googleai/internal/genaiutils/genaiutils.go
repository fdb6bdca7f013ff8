package genaiutils

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/pkg/llms"
	"google.golang.org/genai"
)

// ConvertTools converts a list of llms tools to a single genai tool
// with a function declaration per tool.
// The parameters schema is passed as JSON schema, without conversion.
func ConvertTools(tools []llms.Tool) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for i, tool := range tools {
		if tool.Type != "function" || tool.Function == nil {
			return nil, errors.Errorf("tool [%d]: unsupported type %q, want 'function'", i, tool.Type)
		}

		decl := &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
		}

		if tool.Function.Parameters != nil {
			schema, err := JSONSchema(tool.Function.Parameters)
			if err != nil {
				return nil, errors.Wrapf(err, "tool [%d]", i)
			}
			decl.ParametersJsonSchema = schema
		}
		decls = append(decls, decl)
	}

	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// JSONSchema returns the schema as a generic JSON value.
// Raw JSON and strings are validated, other values are returned as is.
func JSONSchema(params any) (any, error) {
	var raw []byte
	switch p := params.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		return params, nil
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, errors.Wrap(err, "invalid JSON schema")
	}
	return schema, nil
}

// ConvertToolChoice converts the tool choice name to a genai tool config:
// "none", "auto", "required" or the name of a function.
func ConvertToolChoice(choice string) *genai.ToolConfig {
	cfg := &genai.FunctionCallingConfig{}
	switch choice {
	case "":
		return nil
	case string(llms.FunctionCallBehaviorNone):
		cfg.Mode = genai.FunctionCallingConfigModeNone
	case string(llms.FunctionCallBehaviorAuto):
		cfg.Mode = genai.FunctionCallingConfigModeAuto
	case string(llms.FunctionCallBehaviorRequired):
		cfg.Mode = genai.FunctionCallingConfigModeAny
	default:
		cfg.Mode = genai.FunctionCallingConfigModeAny
		cfg.AllowedFunctionNames = []string{choice}
	}
	return &genai.ToolConfig{FunctionCallingConfig: cfg}
}

// Float32Ptr returns nil for zero values
func Float32Ptr(f float32) *float32 {
	if f == 0 {
		return nil
	}
	return &f
}

// Int32Ptr returns nil for zero values
func Int32Ptr(i int32) *int32 {
	if i == 0 {
		return nil
	}
	return &i
}
