/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/PivotLLM/AIFlow/logging"
)

// Template is one parsed template file
type Template struct {
	ID          string                 `yaml:"id"`
	Description string                 `yaml:"description,omitempty"`
	Body        string                 `yaml:"template"`
	InputSchema map[string]interface{} `yaml:"input_schema,omitempty"`

	parsed *template.Template
	schema *gojsonschema.Schema
}

// InputValidationError lists every way the input failed the template's input_schema
type InputValidationError struct {
	TemplateID string
	Errors     []string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("input validation failed for template %s with %d errors: %s",
		e.TemplateID, len(e.Errors), strings.Join(e.Errors, "; "))
}

// RenderError is a template syntax or execution failure
type RenderError struct {
	TemplateID string
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed for template %s: %v", e.TemplateID, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// parseTemplate decodes a template file and compiles its text and input schema
func parseTemplate(file string, data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, &RenderError{TemplateID: file, Err: fmt.Errorf("invalid template file: %w", err)}
	}
	if t.ID == "" {
		t.ID = file
	}
	if strings.TrimSpace(t.Body) == "" {
		return nil, &RenderError{TemplateID: t.ID, Err: fmt.Errorf("template text is empty")}
	}
	parsed, err := template.New(t.ID).
		Funcs(templateFuncs()).
		Option("missingkey=error").
		Parse(t.Body)
	if err != nil {
		return nil, &RenderError{TemplateID: t.ID, Err: fmt.Errorf("template syntax error: %w", err)}
	}
	t.parsed = parsed

	if len(t.InputSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.InputSchema))
		if err != nil {
			return nil, &RenderError{TemplateID: t.ID, Err: fmt.Errorf("invalid input_schema: %w", err)}
		}
		t.schema = schema
	}

	return &t, nil
}

// ValidateInput checks input against the template's input_schema, if it has one
func (t *Template) ValidateInput(input map[string]interface{}) error {
	if t.schema == nil {
		return nil
	}

	result, err := t.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return &InputValidationError{TemplateID: t.ID, Errors: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	verr := &InputValidationError{TemplateID: t.ID}
	for _, desc := range result.Errors() {
		verr.Errors = append(verr.Errors, formatValidationError(desc.String()))
	}
	return verr
}

// Execute renders the template. A key referenced by the template but absent from input is an error.
func (t *Template) Execute(input map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.parsed.Execute(&buf, input); err != nil {
		return "", &RenderError{TemplateID: t.ID, Err: err}
	}
	return buf.String(), nil
}

// formatValidationError converts gojsonschema messages into shorter ones
func formatValidationError(rawError string) string {
	// "(root): field is required" -> "Missing required field: field"
	if strings.Contains(rawError, "is required") {
		parts := strings.SplitN(rawError, ": ", 2)
		if len(parts) == 2 {
			fieldName := strings.TrimSuffix(parts[1], " is required")
			if strings.HasPrefix(parts[0], "(root).") {
				return fmt.Sprintf("Missing required field: %s (in %s)", fieldName, strings.TrimPrefix(parts[0], "(root)."))
			}
			return fmt.Sprintf("Missing required field: %s", fieldName)
		}
	}

	// "field: Invalid type. Expected: string, given: number" -> "Field 'field': expected string, got number"
	if strings.Contains(rawError, "Invalid type") {
		parts := strings.SplitN(rawError, ": Invalid type. ", 2)
		if len(parts) == 2 {
			field := parts[0]
			if field == "(root)" {
				field = "root object"
			}
			typeInfo := strings.ReplaceAll(parts[1], "Expected: ", "expected ")
			typeInfo = strings.ReplaceAll(typeInfo, ", given: ", ", got ")
			return fmt.Sprintf("Field '%s': %s", field, typeInfo)
		}
	}

	if strings.HasPrefix(rawError, "(root): ") {
		return strings.TrimPrefix(rawError, "(root): ")
	}
	return strings.TrimPrefix(rawError, "(root).")
}

// templateFuncs returns the functions available to prompt templates
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v interface{}) string {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			return string(data)
		},
		"jsonCompact": func(v interface{}) string {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			return string(data)
		},
		"truncate": truncate,
		"upper":    strings.ToUpper,
		"lower":    strings.ToLower,
		"join":     strings.Join,
		"default": func(def, value interface{}) interface{} {
			if value == nil {
				return def
			}
			if s, ok := value.(string); ok && s == "" {
				return def
			}
			return value
		},
		"formatDatetime": formatDatetime,
	}
}

// truncate shortens s to at most length runes, ending with "..." when cut
func truncate(s string, length int) string {
	const suffix = "..."
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	if length <= len(suffix) {
		return string(runes[:max(length, 0)])
	}
	return string(runes[:length-len(suffix)]) + suffix
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// formatDatetime reformats an ISO-8601 value with a Go layout. Unparseable values are returned unchanged.
func formatDatetime(layout string, value interface{}) string {
	switch v := value.(type) {
	case time.Time:
		return v.Format(layout)
	case string:
		for _, l := range datetimeLayouts {
			if t, err := time.Parse(l, v); err == nil {
				return t.Format(layout)
			}
		}
		return v
	default:
		return fmt.Sprint(value)
	}
}

// Renderer renders registry templates after validating their input
type Renderer struct {
	registry *Registry
	logger   *logging.Logger
}

// NewRenderer creates a renderer over registry
func NewRenderer(registry *Registry, logger *logging.Logger) *Renderer {
	return &Renderer{registry: registry, logger: logger}
}

// Registry returns the underlying registry
func (r *Renderer) Registry() *Registry {
	return r.registry
}

// Languages returns the languages that have templates
func (r *Renderer) Languages() []string {
	return r.registry.ListLanguages()
}

// TemplateInfo returns the registry entry for a template. An empty version selects the latest.
func (r *Renderer) TemplateInfo(language, stage, version string) (*Info, error) {
	return r.registry.TemplateInfo(language, stage, version)
}

// Render renders the latest template for language and stage
func (r *Renderer) Render(language, stage string, input map[string]interface{}) (string, error) {
	return r.RenderVersion(language, stage, "", input)
}

// RenderVersion renders a specific template version
func (r *Renderer) RenderVersion(language, stage, version string, input map[string]interface{}) (string, error) {
	t, info, err := r.registry.Template(language, stage, version)
	if err != nil {
		return "", err
	}

	if err := t.ValidateInput(input); err != nil {
		r.logger.Warnf("Template %s: %v", info.ID, err)
		return "", err
	}

	text, err := t.Execute(input)
	if err != nil {
		r.logger.Warnf("Template %s: %v", info.ID, err)
		return "", err
	}

	r.logger.Debugf("Template %s rendered (%d bytes)", info.ID, len(text))
	return text, nil
}
