package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// messageJSON is the JSON form of Message.
// A message with a single text part is written in the short form with `text`.
type messageJSON struct {
	Role  Role              `json:"role"`
	Text  string            `json:"text,omitempty"`
	Parts []json.RawMessage `json:"parts,omitempty"`
}

// contentPartJSON is the JSON form of a content part, tagged with `type`
type contentPartJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ToolCall     *toolCallJSON     `json:"tool_call,omitempty"`
	ToolResponse *ToolCallResponse `json:"tool_response,omitempty"`
}

// toolCallJSON keeps the field order: function, id, type
type toolCallJSON struct {
	FunctionCall *FunctionCall `json:"function"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
}

type toolResponseJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// MarshalJSON implements json.Marshaler for Message
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 {
		if tp, ok := m.Parts[0].(TextContent); ok && tp.Text != "" {
			return json.Marshal(messageJSON{
				Role: m.Role,
				Text: tp.Text,
			})
		}
	}

	return json.Marshal(struct {
		Role  Role          `json:"role"`
		Parts []ContentPart `json:"parts"`
	}{
		Role:  m.Role,
		Parts: m.Parts,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var js messageJSON
	if err := json.Unmarshal(data, &js); err != nil {
		return errors.WithStack(err)
	}

	m.Role = js.Role
	m.Parts = nil
	if js.Text != "" {
		m.Parts = []ContentPart{TextContent{Text: js.Text}}
		return nil
	}

	for _, raw := range js.Parts {
		var pj contentPartJSON
		if err := json.Unmarshal(raw, &pj); err != nil {
			return errors.WithStack(err)
		}
		part, err := pj.part()
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func (pj *contentPartJSON) part() (ContentPart, error) {
	switch pj.Type {
	case "text", "":
		return TextContent{Text: pj.Text}, nil
	case "tool_call":
		if pj.ToolCall == nil {
			return nil, errors.New("tool_call field is required for tool_call type")
		}
		if pj.ToolCall.ID == "" {
			return nil, errors.New("missing id field in ToolCall")
		}
		fc := pj.ToolCall.FunctionCall
		if fc == nil {
			fc = &FunctionCall{}
		}
		return ToolCall{
			ID:           pj.ToolCall.ID,
			Type:         pj.ToolCall.Type,
			FunctionCall: fc,
		}, nil
	case "tool_response":
		if pj.ToolResponse == nil {
			return nil, errors.New("tool_response field is required for tool_response type")
		}
		if pj.ToolResponse.ToolCallID == "" {
			return nil, errors.New("missing tool_call_id field in ToolCallResponse")
		}
		return *pj.ToolResponse, nil
	default:
		return nil, errors.Newf("unknown content type: '%s'", pj.Type)
	}
}

// MarshalJSON implements json.Marshaler for TextContent
func (tc TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text string `json:"text"`
		Type string `json:"type"`
	}{
		Text: tc.Text,
		Type: "text",
	})
}

// MarshalJSON implements json.Marshaler for ToolCall
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		ToolCall toolCallJSON `json:"tool_call"`
	}{
		Type: "tool_call",
		ToolCall: toolCallJSON{
			FunctionCall: tc.FunctionCall,
			ID:           tc.ID,
			Type:         tc.Type,
		},
	})
}

// MarshalJSON implements json.Marshaler for ToolCallResponse
func (tc ToolCallResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string           `json:"type"`
		ToolResponse toolResponseJSON `json:"tool_response"`
	}{
		Type:         "tool_response",
		ToolResponse: toolResponseJSON(tc),
	})
}

// UnmarshalJSON implements json.Unmarshaler for ToolCallResponse.
// Both the tagged and the plain forms are accepted.
func (tc *ToolCallResponse) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Type         string            `json:"type"`
		ToolResponse *toolResponseJSON `json:"tool_response"`
		toolResponseJSON
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return errors.WithStack(err)
	}
	if tagged.ToolResponse != nil {
		*tc = ToolCallResponse(*tagged.ToolResponse)
		return nil
	}
	*tc = ToolCallResponse(tagged.toolResponseJSON)
	return nil
}
