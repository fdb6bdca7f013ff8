// Package prompts renders the prompt templates.
package prompts

import (
	"bytes"
	"slices"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/nikolalohinski/gonja"
)

// TemplateFormat is the format of the template
type TemplateFormat string

const (
	// TemplateFormatGoTemplate is the Go text/template format, with sprig functions
	TemplateFormatGoTemplate TemplateFormat = "go"
	// TemplateFormatJinja2 is the jinja2 format
	TemplateFormatJinja2 TemplateFormat = "jinja2"
	// TemplateFormatNone returns the template as is
	TemplateFormatNone TemplateFormat = "none"
)

// ErrInvalidTemplateFormat is returned for unknown template format
var ErrInvalidTemplateFormat = errors.New("invalid template format")

// Formats returns the supported template formats
func Formats() []TemplateFormat {
	return []TemplateFormat{TemplateFormatGoTemplate, TemplateFormatJinja2, TemplateFormatNone}
}

// ParseFormat returns the template format, empty value is TemplateFormatNone
func ParseFormat(s string) (TemplateFormat, error) {
	f := TemplateFormat(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return TemplateFormatNone, nil
	}
	if !slices.Contains(Formats(), f) {
		return "", errors.Wrapf(ErrInvalidTemplateFormat, "%q", s)
	}
	return f, nil
}

// RenderTemplate renders the template with the values
func RenderTemplate(tmpl string, format TemplateFormat, values map[string]any) (string, error) {
	switch format {
	case TemplateFormatGoTemplate:
		return renderGoTemplate(tmpl, values)
	case TemplateFormatJinja2:
		return renderJinja2(tmpl, values)
	case TemplateFormatNone, "":
		return tmpl, nil
	default:
		return "", errors.Wrapf(ErrInvalidTemplateFormat, "%q", format)
	}
}

func renderGoTemplate(tmpl string, values map[string]any) (string, error) {
	parsed, err := template.New("template").
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse template")
	}
	var buf bytes.Buffer
	if err = parsed.Execute(&buf, values); err != nil {
		return "", errors.Wrap(err, "failed to render template")
	}
	return buf.String(), nil
}

func renderJinja2(tmpl string, values map[string]any) (string, error) {
	parsed, err := gonja.FromString(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse template")
	}
	out, err := parsed.Execute(values)
	if err != nil {
		return "", errors.Wrap(err, "failed to render template")
	}
	return out, nil
}
