// Package skills loads the system prompt of the bot from a SKILL.md file.
//
// The file may start with YAML frontmatter delimited by `---` lines,
// or TOML frontmatter delimited by `+++` lines:
//
//	---
//	name: troubleshooter
//	description: Troubleshoots the MCP server
//	template_format: go
//	inputs:
//	  product: MCP
//	---
//	You are a {{.product}} troubleshooter.
//
// The rest of the file is the prompt template.
package skills

import (
	"bytes"
	"maps"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/encoding"
	"github.com/effective-security/mcpbot/pkg/prompts"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot", "skills")

// DefaultPrompt is used when no skill file is found
const DefaultPrompt = "You are a helpful assistant."

// DefaultPaths are the locations of the skill file, in the order of lookup
var DefaultPaths = []string{
	"skills/troubleshooter/SKILL.md",
	"SKILL.md",
}

// Skill is the parsed skill file
type Skill struct {
	Name           string         `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	TemplateFormat string         `json:"template_format,omitempty" yaml:"template_format,omitempty" toml:"template_format,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty" toml:"inputs,omitempty"`

	// Path is the file the skill was loaded from, empty for the default skill
	Path string `json:"-" yaml:"-" toml:"-"`
	// Template is the body of the file
	Template string `json:"-" yaml:"-" toml:"-"`
}

// Default returns the skill with DefaultPrompt
func Default() *Skill {
	return &Skill{
		Name:     "default",
		Template: DefaultPrompt,
	}
}

// Load returns the skill from the first existing file of paths,
// or DefaultPaths if paths are not provided.
// If none of the files exist, the Default skill is returned.
func Load(paths ...string) (*Skill, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to read skill: %s", path)
		}

		s, err := Parse(data)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to parse skill: %s", path)
		}
		s.Path = path

		logger.KV(xlog.INFO,
			"status", "loaded",
			"path", path,
			"name", s.Name,
			"format", s.TemplateFormat,
		)
		return s, nil
	}

	logger.KV(xlog.WARNING,
		"reason", "not_found",
		"paths", strings.Join(paths, ","),
	)
	return Default(), nil
}

// Parse returns the skill from the content of SKILL.md
func Parse(data []byte) (*Skill, error) {
	s := new(Skill)

	mode, front, body := splitFrontmatter(data)
	if mode != "" {
		if err := encoding.Unmarshal(mode, front, s); err != nil {
			return nil, errors.WithMessage(err, "invalid frontmatter")
		}
	}

	format, err := prompts.ParseFormat(s.TemplateFormat)
	if err != nil {
		return nil, err
	}
	s.TemplateFormat = string(format)
	s.Template = strings.TrimSpace(string(body))
	return s, nil
}

// Prompt renders the template with the inputs of the skill,
// overridden by the provided inputs.
func (s *Skill) Prompt(inputs map[string]any) (string, error) {
	values := make(map[string]any, len(s.Inputs)+len(inputs))
	maps.Copy(values, s.Inputs)
	maps.Copy(values, inputs)

	prompt, err := prompts.RenderTemplate(s.Template, prompts.TemplateFormat(s.TemplateFormat), values)
	if err != nil {
		return "", errors.WithMessagef(err, "skill %s", s.Name)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return DefaultPrompt, nil
	}
	return prompt, nil
}

var delimiters = []struct {
	mark []byte
	mode encoding.Mode
}{
	{[]byte("---"), encoding.ModeYAML},
	{[]byte("+++"), encoding.ModeTOML},
}

// splitFrontmatter returns the encoding of the frontmatter, the frontmatter and the body.
// The mode is empty when the data has no frontmatter.
func splitFrontmatter(data []byte) (encoding.Mode, []byte, []byte) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimLeft(data, " \t\r\n")

	for _, d := range delimiters {
		if !bytes.HasPrefix(trimmed, d.mark) {
			continue
		}
		rest := bytes.TrimLeft(trimmed[len(d.mark):], " \t")
		switch {
		case bytes.HasPrefix(rest, []byte("\r\n")):
			rest = rest[2:]
		case bytes.HasPrefix(rest, []byte("\n")):
			rest = rest[1:]
		default:
			return "", nil, data
		}

		if bytes.HasPrefix(rest, d.mark) {
			// empty frontmatter
			return d.mode, nil, skipLine(rest[len(d.mark):])
		}

		closing := append([]byte("\n"), d.mark...)
		idx := bytes.Index(rest, closing)
		if idx < 0 {
			return "", nil, data
		}
		return d.mode, rest[:idx], skipLine(rest[idx+len(closing):])
	}
	return "", nil, data
}

// skipLine drops the remainder of the delimiter line
func skipLine(b []byte) []byte {
	if idx := bytes.IndexByte(b, '\n'); idx >= 0 {
		return b[idx+1:]
	}
	return nil
}
