package json

import (
	"encoding/json"

	"github.com/bububa/ljson"
	"github.com/effective-security/mcpbot/pkg/llmutils"
)

// Encoder is a lenient JSON encoder:
// Unmarshal accepts JSON wrapped in text or code fences,
// and values with types not exactly matching the target, like "1" for int.
type Encoder struct{}

// NewEncoder returns JSON encoder
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (e *Encoder) Unmarshal(bs []byte, ret any) error {
	data := llmutils.CleanJSON(bs)
	return ljson.Unmarshal(data, ret)
}
