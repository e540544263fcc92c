/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package analysis

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
}

func TestFileTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "demo")
	writeFiles(t, root, map[string]string{
		".gitignore":      "build\n*.log\n",
		".git/HEAD":       "ref: refs/heads/main\n",
		"a.go":            "package a\n",
		"b.txt":           "b\n",
		"debug.log":       "noise\n",
		"build/out.bin":   "\x00",
		"src/main.go":     "package main\n",
		"src/util/x.go":   "package util\n",
		"src/util/deep/y": "y\n",
	})

	tree, err := FileTree(root, 3)
	if err != nil {
		t.Fatalf("FileTree() error = %v", err)
	}
	want := strings.Join([]string{
		"demo/",
		"├── .git",
		"├── src",
		"│   ├── util",
		"│   │   ├── deep",
		"│   │   │   └── y",
		"│   │   └── x.go",
		"│   └── main.go",
		"├── .gitignore",
		"├── a.go",
		"└── b.txt",
	}, "\n")
	if tree != want {
		t.Errorf("FileTree() =\n%s\nwant\n%s", tree, want)
	}

	shallow, err := FileTree(root, 0)
	if err != nil {
		t.Fatalf("FileTree(depth 0) error = %v", err)
	}
	if strings.Contains(shallow, "main.go") || !strings.Contains(shallow, "└── b.txt") {
		t.Errorf("FileTree(depth 0) =\n%s", shallow)
	}

	if _, err := FileTree(filepath.Join(root, "missing"), 3); err == nil {
		t.Error("FileTree() on a missing directory succeeded")
	}
}

func TestLanguageStats(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":              "generated/\n",
		"main.go":                 "package main\n",
		"server/server.go":        "package server\n",
		"app/gen.py":              "print('x')\n",
		"README.md":               "# readme\n",
		"node_modules/lib/x.js":   "module.exports = {}\n",
		".hidden/skip.go":         "package skip\n",
		"generated/models/gen.go": "package models\n",
	})

	stats, err := LanguageStats(root)
	if err != nil {
		t.Fatalf("LanguageStats() error = %v", err)
	}
	want := map[string]int{"go": 2, "python": 1}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("LanguageStats() = %v, want %v", stats, want)
	}
}

func TestDetectLanguage(t *testing.T) {
	supported := []string{"go", "java", "javascript", "python", "typescript"}

	tests := []struct {
		name    string
		stats   map[string]int
		want    string
		wantErr bool
	}{
		{"majority wins", map[string]int{"go": 3, "python": 5}, "python", false},
		{"unsupported ignored", map[string]int{"rust": 40, "go": 1}, "go", false},
		{"tie breaks alphabetically", map[string]int{"java": 2, "go": 2}, "go", false},
		{"nothing supported", map[string]int{"rust": 4}, "", true},
		{"empty", map[string]int{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectLanguage(tt.stats, supported)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectLanguage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectLanguage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadmeExcerpt(t *testing.T) {
	root := t.TempDir()
	if got := ReadmeExcerpt(root); got != "" {
		t.Errorf("ReadmeExcerpt() without README = %q", got)
	}

	writeFiles(t, root, map[string]string{
		"README.txt": "plain text readme\n",
		"readme.md":  "# Markdown readme\n",
	})
	if got := ReadmeExcerpt(root); !strings.HasPrefix(got, "# Markdown readme") {
		t.Errorf("ReadmeExcerpt() = %q, want the Markdown file", got)
	}

	long := strings.Repeat("x", readmeBytes*2)
	writeFiles(t, root, map[string]string{"readme.md": long})
	if got := ReadmeExcerpt(root); len(got) != readmeBytes {
		t.Errorf("ReadmeExcerpt() returned %d bytes, want %d", len(got), readmeBytes)
	}
}

func TestStageInputs(t *testing.T) {
	base := BaseInput{ProjectPath: "/src/demo", ProjectName: "demo", Language: "go"}

	first := UnderstandingInput{BaseInput: base, FileTree: "demo/"}.Values()
	if stats, ok := first["language_stats"].(map[string]interface{}); !ok || stats == nil {
		t.Errorf("language_stats = %#v, want an empty object", first["language_stats"])
	}
	if _, ok := first["readme_excerpt"]; !ok {
		t.Error("readme_excerpt missing from understanding input")
	}

	in, err := buildInput(StageConcurrencyDetection, base, map[Stage]*StageOutcome{})
	if err != nil {
		t.Fatalf("buildInput() error = %v", err)
	}
	if in.Stage() != StageConcurrencyDetection {
		t.Errorf("Stage() = %s", in.Stage())
	}
	values := in.Values()
	if values["code_structure_json"] != "{}" || values["execution_trace_json"] != "{}" {
		t.Errorf("missing sections should encode as {}: %v", values)
	}
	if values["project_name"] != "demo" || values["language"] != "go" {
		t.Errorf("base fields = %v", values)
	}

	if _, err := buildInput(StageProjectUnderstanding, base, nil); err == nil {
		t.Error("buildInput() accepted the first stage")
	}
}

func TestStageErrorFormat(t *testing.T) {
	err := newStageError(StageSemanticAnalysis, CategoryInvalidResponse, errNotJSONObject)
	if err.Error() != "invalid-response: response is not a JSON object" {
		t.Errorf("Error() = %q", err.Error())
	}
	if CategoryOf(err) != CategoryInvalidResponse {
		t.Errorf("CategoryOf() = %q", CategoryOf(err))
	}
	if CategoryOf(errNotJSONObject) != "" {
		t.Error("CategoryOf() matched a plain error")
	}
	if StageConcurrencyDetection.Index() != 4 || Stage("nope").Index() != -1 {
		t.Error("Index() returned the wrong position")
	}
}
