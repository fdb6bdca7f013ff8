package toml

import (
	"github.com/BurntSushi/toml"
	"github.com/effective-security/mcpbot/pkg/llmutils"
)

// Encoder is TOML encoder
type Encoder struct{}

// NewEncoder returns TOML encoder
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Marshal(v any) ([]byte, error) {
	return toml.Marshal(v)
}

func (e *Encoder) Unmarshal(bs []byte, ret any) error {
	data := llmutils.TrimBackticks(bs)
	return toml.Unmarshal(data, ret)
}
