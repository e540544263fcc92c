/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package templates stores the prompt templates used by each analysis stage
// and renders them. A registry.yaml file maps language -> stage -> versions,
// and each template file carries the template text and a JSON schema for
// its input.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed prompts
var embeddedPrompts embed.FS

// RegistryFileName is the registry file at the root of a prompts directory
const RegistryFileName = "registry.yaml"

// ErrTemplateNotFound is returned when a language, stage, version or template file is unknown
var ErrTemplateNotFound = errors.New("template not found")

// Info describes one registered template version
type Info struct {
	ID              string `json:"id"`
	Version         string `json:"version"`
	File            string `json:"file"`
	Description     string `json:"description,omitempty"`
	Language        string `json:"language"`
	Stage           string `json:"stage"`
	EstimatedTokens int    `json:"estimated_tokens,omitempty"`
	Latest          bool   `json:"latest"`
}

type registryEntry struct {
	ID              string `yaml:"id"`
	Version         string `yaml:"version"`
	File            string `yaml:"file"`
	Description     string `yaml:"description"`
	EstimatedTokens int    `yaml:"estimated_tokens"`
}

type stageEntry struct {
	Latest    string          `yaml:"latest"`
	Templates []registryEntry `yaml:"templates"`
}

type languageEntry struct {
	name   string
	stages []string
	byName map[string]*stageEntry
}

// Registry resolves templates by language, stage and version. It is safe for concurrent use.
type Registry struct {
	fsys      fs.FS
	source    string
	version   string
	languages []*languageEntry
	byName    map[string]*languageEntry

	mu    sync.Mutex
	cache map[string]*Template
}

// EmbeddedRegistry returns the registry compiled into the binary
func EmbeddedRegistry() (*Registry, error) {
	sub, err := fs.Sub(embeddedPrompts, "prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded prompts: %w", err)
	}
	return NewRegistry(sub, "embedded")
}

// LoadRegistry reads a registry from a prompts directory on disk
func LoadRegistry(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("prompts directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("prompts path %s is not a directory", dir)
	}
	return NewRegistry(os.DirFS(dir), dir)
}

// NewRegistry parses registry.yaml at the root of fsys. source names the registry in messages.
func NewRegistry(fsys fs.FS, source string) (*Registry, error) {
	data, err := fs.ReadFile(fsys, RegistryFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", RegistryFileName, source, err)
	}

	r := &Registry{
		fsys:   fsys,
		source: source,
		byName: make(map[string]*languageEntry),
		cache:  make(map[string]*Template),
	}
	if err := r.parse(data); err != nil {
		return nil, fmt.Errorf("invalid registry in %s: %w", source, err)
	}
	return r, nil
}

// parse walks the languages mapping node by node so file order is preserved
func (r *Registry) parse(data []byte) error {
	var raw struct {
		Version   string    `yaml:"version"`
		Languages yaml.Node `yaml:"languages"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Languages.Kind != yaml.MappingNode {
		return fmt.Errorf("languages must be a mapping")
	}
	r.version = raw.Version

	langs := raw.Languages.Content
	for i := 0; i+1 < len(langs); i += 2 {
		name := langs[i].Value
		stagesNode := langs[i+1]
		if stagesNode.Kind != yaml.MappingNode {
			return fmt.Errorf("language %s: stages must be a mapping", name)
		}

		lang := &languageEntry{name: name, byName: make(map[string]*stageEntry)}
		for j := 0; j+1 < len(stagesNode.Content); j += 2 {
			stage := stagesNode.Content[j].Value
			var entry stageEntry
			if err := stagesNode.Content[j+1].Decode(&entry); err != nil {
				return fmt.Errorf("language %s stage %s: %w", name, stage, err)
			}
			for _, t := range entry.Templates {
				if t.ID == "" || t.Version == "" || t.File == "" {
					return fmt.Errorf("language %s stage %s: template entries need id, version and file", name, stage)
				}
			}
			lang.stages = append(lang.stages, stage)
			lang.byName[stage] = &entry
		}

		r.languages = append(r.languages, lang)
		r.byName[name] = lang
	}
	return nil
}

// Source returns "embedded" or the directory the registry was loaded from
func (r *Registry) Source() string {
	return r.source
}

// Version returns the registry format version
func (r *Registry) Version() string {
	return r.version
}

// ListLanguages returns the registered languages in sorted order
func (r *Registry) ListLanguages() []string {
	names := make([]string, 0, len(r.languages))
	for _, l := range r.languages {
		names = append(names, l.name)
	}
	sort.Strings(names)
	return names
}

// ListStages returns the stages registered for language in registry order
func (r *Registry) ListStages(language string) ([]string, error) {
	lang, ok := r.byName[language]
	if !ok {
		return nil, fmt.Errorf("%w: language %s", ErrTemplateNotFound, language)
	}
	return append([]string(nil), lang.stages...), nil
}

// TemplateInfo returns the registry entry for a template. An empty version selects the latest.
func (r *Registry) TemplateInfo(language, stage, version string) (*Info, error) {
	lang, ok := r.byName[language]
	if !ok {
		return nil, fmt.Errorf("%w: language %s", ErrTemplateNotFound, language)
	}
	entry, ok := lang.byName[stage]
	if !ok {
		return nil, fmt.Errorf("%w: stage '%s' for language '%s'", ErrTemplateNotFound, stage, language)
	}

	if version == "" {
		version = entry.Latest
		if version == "" {
			return nil, fmt.Errorf("%w: no latest version for %s/%s", ErrTemplateNotFound, language, stage)
		}
	}

	for _, t := range entry.Templates {
		if t.Version == version {
			return &Info{
				ID:              t.ID,
				Version:         t.Version,
				File:            t.File,
				Description:     t.Description,
				Language:        language,
				Stage:           stage,
				EstimatedTokens: t.EstimatedTokens,
				Latest:          t.Version == entry.Latest,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s version %s", ErrTemplateNotFound, language, stage, version)
}

// List returns every registered template version
func (r *Registry) List() []Info {
	var all []Info
	for _, name := range r.ListLanguages() {
		lang := r.byName[name]
		for _, stage := range lang.stages {
			entry := lang.byName[stage]
			for _, t := range entry.Templates {
				all = append(all, Info{
					ID:              t.ID,
					Version:         t.Version,
					File:            t.File,
					Description:     t.Description,
					Language:        name,
					Stage:           stage,
					EstimatedTokens: t.EstimatedTokens,
					Latest:          t.Version == entry.Latest,
				})
			}
		}
	}
	return all
}

// Template loads and compiles a template. Compiled templates are cached by file.
func (r *Registry) Template(language, stage, version string) (*Template, *Info, error) {
	info, err := r.TemplateInfo(language, stage, version)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.cache[info.File]; ok {
		return t, info, nil
	}

	data, err := fs.ReadFile(r.fsys, path.Clean(info.File))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: template file %s", ErrTemplateNotFound, info.File)
		}
		return nil, nil, fmt.Errorf("failed to read template file %s: %w", info.File, err)
	}

	t, err := parseTemplate(info.File, data)
	if err != nil {
		return nil, nil, err
	}
	r.cache[info.File] = t
	return t, info, nil
}
