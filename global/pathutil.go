/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHomePath replaces a leading "~/" with the user's home directory.
// The path is returned unchanged if the home directory cannot be determined.
func ExpandHomePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}
	return path
}

// ResolveWithinDir resolves a relative path against baseDir and rejects any
// result that escapes baseDir. Absolute paths are rejected.
func ResolveWithinDir(baseDir, relativePath string) (string, error) {
	if relativePath == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("absolute paths not allowed: %s", relativePath)
	}

	absBaseDir, err := filepath.Abs(ExpandHomePath(baseDir))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute base directory: %w", err)
	}

	absFilePath, err := filepath.Abs(filepath.Join(absBaseDir, filepath.Clean(relativePath)))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute file path: %w", err)
	}

	if !IsPathWithin(absBaseDir, absFilePath) || absFilePath == absBaseDir {
		return "", fmt.Errorf("path traversal attempt detected: %s", relativePath)
	}

	return absFilePath, nil
}

// IsPathWithin checks if resolvedPath is within or equal to baseDir.
// Both paths should be absolute.
func IsPathWithin(baseDir, resolvedPath string) bool {
	return strings.HasPrefix(resolvedPath, baseDir+string(filepath.Separator)) ||
		resolvedPath == baseDir
}

// ResultFileName builds the default report file name for a job
func ResultFileName(jobID string) string {
	return fmt.Sprintf("analysis_%s.json", jobID)
}
