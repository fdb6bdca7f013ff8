package yaml

import (
	"github.com/effective-security/mcpbot/pkg/llmutils"
	"gopkg.in/yaml.v3"
)

// Encoder is YAML encoder
type Encoder struct{}

// NewEncoder returns YAML encoder
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (e *Encoder) Unmarshal(bs []byte, ret any) error {
	data := llmutils.TrimBackticks(bs)
	return yaml.Unmarshal(data, ret)
}
