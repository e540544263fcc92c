/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package templates

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func understandingInput(language string) map[string]interface{} {
	return map[string]interface{}{
		"project_path":              "/src/demo",
		"project_name":              "demo",
		"language":                  language,
		"file_tree":                 "demo/\n├── main.py\n└── README.md",
		"current_timestamp_iso8601": "2025-01-15T10:30:00.000Z",
		"ai_model_name":             "gpt-4o-mini",
		"language_stats":            map[string]int{"Python": 12},
		"readme_excerpt":            "# Demo\nA small service.",
	}
}

func TestRenderEmbeddedUnderstanding(t *testing.T) {
	r, err := EmbeddedRegistry()
	if err != nil {
		t.Fatalf("EmbeddedRegistry() error = %v", err)
	}
	renderer := NewRenderer(r, nil)

	if langs := renderer.Languages(); strings.Join(langs, ",") != "go,java,javascript,python,typescript" {
		t.Errorf("Languages() = %v", langs)
	}

	out, err := renderer.Render("python", "project_understanding", understandingInput("python"))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{
		`"project_name": "demo"`,
		`"analyzed_at": "2025-01-15T10:30:00.000Z"`,
		"pyproject.toml",
		`"Python": 12`,
		"A small service.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q", want)
		}
	}
}

func TestRenderEmbeddedConcurrencyHints(t *testing.T) {
	r, err := EmbeddedRegistry()
	if err != nil {
		t.Fatalf("EmbeddedRegistry() error = %v", err)
	}
	renderer := NewRenderer(r, nil)

	out, err := renderer.Render("go", "concurrency_detection", map[string]interface{}{
		"project_name":         "svc",
		"language":             "go",
		"code_structure_json":  `{"nodes":[],"edges":[]}`,
		"execution_trace_json": `{"traceable_units":[]}`,
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "goroutines") {
		t.Error("go concurrency prompt should mention goroutines")
	}
}

func TestRenderInputValidation(t *testing.T) {
	r, err := EmbeddedRegistry()
	if err != nil {
		t.Fatalf("EmbeddedRegistry() error = %v", err)
	}
	renderer := NewRenderer(r, nil)

	input := understandingInput("python")
	delete(input, "file_tree")
	input["project_name"] = 42

	_, err = renderer.Render("python", "project_understanding", input)
	var verr *InputValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Render() error = %v, want *InputValidationError", err)
	}
	if verr.TemplateID != "python-project-understanding-v1.1.0" {
		t.Errorf("TemplateID = %q", verr.TemplateID)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 entries", verr.Errors)
	}
	joined := strings.Join(verr.Errors, "\n")
	if !strings.Contains(joined, "Missing required field: file_tree") {
		t.Errorf("Errors = %v, want missing file_tree", verr.Errors)
	}
	if !strings.Contains(joined, "Field 'project_name': expected string, got integer") {
		t.Errorf("Errors = %v, want project_name type error", verr.Errors)
	}
}

func TestRenderTemplateNotFound(t *testing.T) {
	r, err := EmbeddedRegistry()
	if err != nil {
		t.Fatalf("EmbeddedRegistry() error = %v", err)
	}
	_, err = NewRenderer(r, nil).Render("cobol", "project_understanding", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("Render() error = %v, want ErrTemplateNotFound", err)
	}
}

func newMapRenderer(t *testing.T, tmpl string) *Renderer {
	t.Helper()
	fsys := fstest.MapFS{
		"registry.yaml": {Data: []byte(`
languages:
  python:
    stage:
      latest: "1.0.0"
      templates:
        - id: test-template
          version: "1.0.0"
          file: t.yaml
`)},
		"t.yaml": {Data: []byte(tmpl)},
	}
	r, err := NewRegistry(fsys, "test")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return NewRenderer(r, nil)
}

func TestRenderStrictMissingKey(t *testing.T) {
	renderer := newMapRenderer(t, "id: test-template\ntemplate: \"Hello {{.name}} from {{.place}}\"\n")

	_, err := renderer.Render("python", "stage", map[string]interface{}{"name": "demo"})
	var rerr *RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("Render() error = %v, want *RenderError", err)
	}
	if rerr.TemplateID != "test-template" {
		t.Errorf("TemplateID = %q", rerr.TemplateID)
	}
}

func TestRenderSyntaxError(t *testing.T) {
	renderer := newMapRenderer(t, "id: test-template\ntemplate: \"{{.Invalid\"\n")

	_, err := renderer.Render("python", "stage", map[string]interface{}{})
	var rerr *RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("Render() error = %v, want *RenderError", err)
	}
	if !strings.Contains(err.Error(), "syntax error") {
		t.Errorf("error = %v, want syntax error", err)
	}
}

func TestTemplateFuncs(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]interface{}
		want     string
	}{
		{
			name:     "truncate",
			template: "{{truncate .text 8}}",
			data:     map[string]interface{}{"text": "Hello World"},
			want:     "Hello...",
		},
		{
			name:     "truncate short text",
			template: "{{truncate .text 50}}",
			data:     map[string]interface{}{"text": "Hello"},
			want:     "Hello",
		},
		{
			name:     "json",
			template: "{{json .value}}",
			data:     map[string]interface{}{"value": map[string]string{"key": "value"}},
			want:     "{\n  \"key\": \"value\"\n}",
		},
		{
			name:     "jsonCompact",
			template: "{{jsonCompact .value}}",
			data:     map[string]interface{}{"value": []int{1, 2}},
			want:     "[1,2]",
		},
		{
			name:     "default with empty value",
			template: "{{default \"N/A\" .framework}}",
			data:     map[string]interface{}{"framework": ""},
			want:     "N/A",
		},
		{
			name:     "default with value",
			template: "{{default \"N/A\" .framework}}",
			data:     map[string]interface{}{"framework": "flask"},
			want:     "flask",
		},
		{
			name:     "upper lower join",
			template: "{{upper .a}} {{lower .b}} {{join .list \", \"}}",
			data:     map[string]interface{}{"a": "go", "b": "PY", "list": []string{"x", "y"}},
			want:     "GO py x, y",
		},
		{
			name:     "formatDatetime",
			template: "{{formatDatetime \"2006-01-02 15:04\" .ts}}",
			data:     map[string]interface{}{"ts": "2025-01-15T10:30:00.000Z"},
			want:     "2025-01-15 10:30",
		},
		{
			name:     "formatDatetime unparseable",
			template: "{{formatDatetime \"2006-01-02\" .ts}}",
			data:     map[string]interface{}{"ts": "yesterday"},
			want:     "yesterday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := parseTemplate("inline.yaml", []byte("template: '"+tt.template+"'\n"))
			if err != nil {
				t.Fatalf("parseTemplate() error = %v", err)
			}
			got, err := tmpl.Execute(tt.data)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Execute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDatetimeTime(t *testing.T) {
	ts := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	if got := formatDatetime("2006-01-02", ts); got != "2025-01-15" {
		t.Errorf("formatDatetime() = %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncate("世界世界世界", 5); got != "世界..." {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdef", 2); got != "ab" {
		t.Errorf("truncate() = %q", got)
	}
}
