// Package encoding provides the decoders for content produced by models and
// authors: lenient JSON for tool arguments, YAML and TOML for frontmatter.
package encoding

import (
	"github.com/cockroachdb/errors"
	jsonenc "github.com/effective-security/mcpbot/encoding/json"
	tomlenc "github.com/effective-security/mcpbot/encoding/toml"
	yamlenc "github.com/effective-security/mcpbot/encoding/yaml"
)

// Encoder marshals and unmarshals values in a specific format
type Encoder interface {
	Marshal(v any) ([]byte, error)
	Unmarshal([]byte, any) error
}

// Mode is the encoding format
type Mode = string

const (
	ModeJSON Mode = "json"
	ModeYAML Mode = "yaml"
	ModeTOML Mode = "toml"
)

var (
	_ Encoder = (*jsonenc.Encoder)(nil)
	_ Encoder = (*tomlenc.Encoder)(nil)
	_ Encoder = (*yamlenc.Encoder)(nil)
)

// ErrUnsupportedMode is returned for unknown encoding mode
var ErrUnsupportedMode = errors.New("unsupported encoding mode")

// NewEncoder returns the encoder for the mode
func NewEncoder(mode Mode) (Encoder, error) {
	switch mode {
	case ModeJSON:
		return jsonenc.NewEncoder(), nil
	case ModeYAML:
		return yamlenc.NewEncoder(), nil
	case ModeTOML:
		return tomlenc.NewEncoder(), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedMode, "mode %q", mode)
	}
}

// Unmarshal decodes data in the mode format into v
func Unmarshal(mode Mode, data []byte, v any) error {
	enc, err := NewEncoder(mode)
	if err != nil {
		return err
	}
	if err = enc.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", mode)
	}
	return nil
}
