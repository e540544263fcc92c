/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package templates

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"testing/fstest"
)

var pipelineStages = []string{
	"project_understanding",
	"structure_recognition",
	"semantic_analysis",
	"execution_inference",
	"concurrency_detection",
}

func TestEmbeddedRegistry(t *testing.T) {
	r, err := EmbeddedRegistry()
	if err != nil {
		t.Fatalf("EmbeddedRegistry() error = %v", err)
	}
	if r.Source() != "embedded" {
		t.Errorf("Source() = %q", r.Source())
	}

	want := []string{"go", "java", "javascript", "python", "typescript"}
	if got := r.ListLanguages(); !reflect.DeepEqual(got, want) {
		t.Errorf("ListLanguages() = %v, want %v", got, want)
	}

	for _, lang := range want {
		stages, err := r.ListStages(lang)
		if err != nil {
			t.Fatalf("ListStages(%s) error = %v", lang, err)
		}
		if !reflect.DeepEqual(stages, pipelineStages) {
			t.Errorf("ListStages(%s) = %v, want registry order %v", lang, stages, pipelineStages)
		}

		// Every registered template must load and compile
		for _, stage := range stages {
			if _, _, err := r.Template(lang, stage, ""); err != nil {
				t.Errorf("Template(%s, %s) error = %v", lang, stage, err)
			}
		}
	}
}

func TestTemplateInfoVersions(t *testing.T) {
	r, err := EmbeddedRegistry()
	if err != nil {
		t.Fatalf("EmbeddedRegistry() error = %v", err)
	}

	latest, err := r.TemplateInfo("python", "project_understanding", "")
	if err != nil {
		t.Fatalf("TemplateInfo() error = %v", err)
	}
	if latest.Version != "1.1.0" || latest.ID != "python-project-understanding-v1.1.0" || !latest.Latest {
		t.Errorf("latest = %+v", latest)
	}

	older, err := r.TemplateInfo("python", "project_understanding", "1.0.0")
	if err != nil {
		t.Fatalf("TemplateInfo(1.0.0) error = %v", err)
	}
	if older.ID != "common-project-understanding-v1.0.0" || older.Latest {
		t.Errorf("older = %+v", older)
	}

	tests := []struct {
		name                     string
		language, stage, version string
	}{
		{"unknown language", "cobol", "project_understanding", ""},
		{"unknown stage", "python", "deployment", ""},
		{"unknown version", "python", "project_understanding", "9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.TemplateInfo(tt.language, tt.stage, tt.version)
			if !errors.Is(err, ErrTemplateNotFound) {
				t.Errorf("TemplateInfo() error = %v, want ErrTemplateNotFound", err)
			}
		})
	}

	if _, err := r.ListStages("cobol"); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("ListStages(cobol) error = %v", err)
	}
}

func TestRegistryList(t *testing.T) {
	r, err := EmbeddedRegistry()
	if err != nil {
		t.Fatalf("EmbeddedRegistry() error = %v", err)
	}

	all := r.List()
	// 5 languages x 5 stages, plus the older python project_understanding version
	if len(all) != 26 {
		t.Errorf("List() returned %d entries, want 26", len(all))
	}
	latest := 0
	for _, info := range all {
		if info.Latest {
			latest++
		}
	}
	if latest != 25 {
		t.Errorf("latest entries = %d, want 25", latest)
	}
}

func TestRegistryMissingTemplateFile(t *testing.T) {
	fsys := fstest.MapFS{
		"registry.yaml": {Data: []byte(`
version: "1.0"
languages:
  rust:
    project_understanding:
      latest: "1.0.0"
      templates:
        - id: rust-pu
          version: "1.0.0"
          file: rust/missing.yaml
`)},
	}

	r, err := NewRegistry(fsys, "test")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if _, _, err := r.Template("rust", "project_understanding", ""); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("Template() error = %v, want ErrTemplateNotFound", err)
	}
}

func TestRegistryInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"languages not a mapping", "languages: [python]"},
		{"entry without file", "languages:\n  python:\n    project_understanding:\n      latest: \"1\"\n      templates:\n        - id: x\n          version: \"1\"\n"},
		{"bad yaml", "languages: {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fstest.MapFS{"registry.yaml": {Data: []byte(tt.data)}}
			if _, err := NewRegistry(fsys, "test"); err == nil {
				t.Error("NewRegistry() expected error")
			}
		})
	}

	if _, err := NewRegistry(fstest.MapFS{}, "empty"); err == nil {
		t.Error("NewRegistry() expected error without registry.yaml")
	}
}

func TestLoadRegistryFromDir(t *testing.T) {
	dir := t.TempDir()
	registry := `
version: "1.0"
languages:
  python:
    project_understanding:
      latest: "2.0.0"
      templates:
        - id: custom-pu
          version: "2.0.0"
          file: custom.yaml
`
	tmpl := `
id: custom-pu
template: "Project {{.project_name}}"
`
	if err := os.WriteFile(filepath.Join(dir, RegistryFileName), []byte(registry), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(tmpl), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry() error = %v", err)
	}
	if r.Source() != dir || r.Version() != "1.0" {
		t.Errorf("Source() = %q, Version() = %q", r.Source(), r.Version())
	}

	out, err := NewRenderer(r, nil).Render("python", "project_understanding", map[string]interface{}{"project_name": "demo"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out != "Project demo" {
		t.Errorf("Render() = %q", out)
	}

	if _, err := LoadRegistry(filepath.Join(dir, "missing")); err == nil {
		t.Error("LoadRegistry() expected error for missing directory")
	}
}
