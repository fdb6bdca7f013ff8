package yaml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYaml(t *testing.T) {
	type Meta struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Tags        []string `yaml:"tags"`
	}

	enc := NewEncoder()
	var m Meta
	require.NoError(t, enc.Unmarshal([]byte("name: troubleshooter\ndescription: Finds issues\ntags: [a, b]\n"), &m))
	assert.Equal(t, Meta{Name: "troubleshooter", Description: "Finds issues", Tags: []string{"a", "b"}}, m)

	var fenced Meta
	require.NoError(t, enc.Unmarshal([]byte("```yaml\nname: x\n```"), &fenced))
	assert.Equal(t, "x", fenced.Name)

	bs, err := enc.Marshal(Meta{Name: "x"})
	require.NoError(t, err)
	assert.Contains(t, string(bs), "name: x")

	assert.Error(t, enc.Unmarshal([]byte("name: [x"), &m))
}
