/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package analysis

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-enry/go-enry/v2"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/PivotLLM/AIFlow/global"
)

const (
	// maxStatFiles bounds the language scan on very large trees
	maxStatFiles = 5000
	// sniffBytes is how much of each file the language detector reads
	sniffBytes = 16 * 1024
	// readmeBytes bounds the README excerpt
	readmeBytes = 8 * 1024
)

// ignoreRules matches paths excluded by the project's .gitignore. A nil value matches nothing.
type ignoreRules struct {
	matcher *gitignore.GitIgnore
}

// loadIgnoreRules compiles <root>/.gitignore if there is one
func loadIgnoreRules(root string) (*ignoreRules, error) {
	path := filepath.Join(root, ".gitignore")
	if !global.FileExists(path) {
		return &ignoreRules{}, nil
	}
	matcher, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read .gitignore: %w", err)
	}
	return &ignoreRules{matcher: matcher}, nil
}

// ignored reports whether rel (slash separated, relative to the root) is excluded
func (r *ignoreRules) ignored(rel string, isDir bool) bool {
	if r == nil || r.matcher == nil {
		return false
	}
	if r.matcher.MatchesPath(rel) {
		return true
	}
	return isDir && r.matcher.MatchesPath(rel+"/")
}

// FileTree renders root as an indented tree. Directories sort before files,
// hidden directories are listed but not descended, and entries matched by
// the project's .gitignore are left out.
func FileTree(root string, maxDepth int) (string, error) {
	rules, err := loadIgnoreRules(root)
	if err != nil {
		return "", err
	}

	lines := []string{filepath.Base(filepath.Clean(root)) + "/"}

	var walk func(dir, rel, prefix string, depth int) error
	walk = func(dir, rel, prefix string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}

		kept := entries[:0]
		for _, e := range entries {
			if !rules.ignored(joinRel(rel, e.Name()), e.IsDir()) {
				kept = append(kept, e)
			}
		}
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].IsDir() != kept[j].IsDir() {
				return kept[i].IsDir()
			}
			return kept[i].Name() < kept[j].Name()
		})

		for i, e := range kept {
			last := i == len(kept)-1
			connector, extension := "├── ", "│   "
			if last {
				connector, extension = "└── ", "    "
			}
			lines = append(lines, prefix+connector+e.Name())

			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				if err := walk(filepath.Join(dir, e.Name()), joinRel(rel, e.Name()), prefix+extension, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root, "", "", 0); err != nil {
		return "", fmt.Errorf("failed to list %s: %w", root, err)
	}
	return strings.Join(lines, "\n"), nil
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + "/" + name
}

// LanguageStats counts source files per programming language under root.
// Language names are lower-cased to match template registry tags. Hidden,
// vendored and ignored paths are skipped.
func LanguageStats(root string) (map[string]int, error) {
	rules, err := loadIgnoreRules(root)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int)
	scanned := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || enry.IsVendor(rel+"/") || rules.ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || rules.ignored(rel, false) {
			return nil
		}
		if enry.IsVendor(rel) || enry.IsDotFile(rel) || enry.IsDocumentation(rel) || enry.IsConfiguration(rel) {
			return nil
		}

		if scanned >= maxStatFiles {
			return filepath.SkipAll
		}
		scanned++

		content, err := sniff(p)
		if err != nil {
			return nil
		}
		lang := enry.GetLanguage(d.Name(), content)
		if lang == "" || enry.GetLanguageType(lang) != enry.Programming {
			return nil
		}
		stats[strings.ToLower(lang)]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return stats, nil
}

func sniff(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffBytes)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// DetectLanguage picks the language with the most files among supported.
// Ties break alphabetically.
func DetectLanguage(stats map[string]int, supported []string) (string, error) {
	best, bestCount := "", 0
	for _, lang := range supported {
		n := stats[lang]
		if n > bestCount || (n == bestCount && n > 0 && lang < best) {
			best, bestCount = lang, n
		}
	}
	if best == "" {
		return "", fmt.Errorf("no supported language found (supported: %s)", strings.Join(supported, ", "))
	}
	return best, nil
}

// ReadmeExcerpt returns the start of the project's README, preferring
// Markdown. It returns "" when the project has none.
func ReadmeExcerpt(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	var candidates []string
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if e.IsDir() || !strings.HasPrefix(name, "readme") {
			continue
		}
		candidates = append(candidates, e.Name())
	}
	sort.Slice(candidates, func(i, j int) bool {
		mi := strings.HasSuffix(strings.ToLower(candidates[i]), ".md")
		mj := strings.HasSuffix(strings.ToLower(candidates[j]), ".md")
		if mi != mj {
			return mi
		}
		return candidates[i] < candidates[j]
	})

	for _, name := range candidates {
		excerpt, err := global.ReadExcerpt(filepath.Join(root, name), readmeBytes)
		if err == nil && strings.TrimSpace(excerpt) != "" {
			return excerpt
		}
	}
	return ""
}
