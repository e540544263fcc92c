/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/logging"
	"github.com/gofrs/flock"
)

// ErrReportNotFound is returned when a report file does not exist
var ErrReportNotFound = errors.New("report file not found")

// ValidationFailedError is returned when a document fails validation on read or write
type ValidationFailedError struct {
	Result *ValidationResult
}

func (e *ValidationFailedError) Error() string {
	if e.Result == nil || len(e.Result.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Result.Errors), strings.Join(e.Result.Errors, "; "))
}

// Serializer persists reports as indented JSON, optionally gzip compressed
type Serializer struct {
	logger    *logging.Logger
	validator *Validator
	validate  bool
}

// SerializerOption configures a Serializer
type SerializerOption func(*Serializer)

// WithValidation enables or disables validation on read and write. Enabled by default.
func WithValidation(enabled bool) SerializerOption {
	return func(s *Serializer) {
		s.validate = enabled
	}
}

// NewSerializer creates a serializer. The logger may be nil.
func NewSerializer(logger *logging.Logger, opts ...SerializerOption) *Serializer {
	s := &Serializer{
		logger:    logger,
		validator: NewValidator(logger),
		validate:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Marshal encodes a document as JSON indented by two spaces
func Marshal(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes JSON or gzip compressed JSON into a document
func Unmarshal(data []byte) (Document, error) {
	if isGzip(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer func() { _ = zr.Close() }()
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress report: %w", err)
		}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	return doc, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Serialize writes a document to path and returns the path actually written.
// With compress the output is gzipped and ".gz" is appended when missing.
// When validation is enabled an invalid document is not written.
func (s *Serializer) Serialize(doc Document, path string, compress bool) (string, error) {
	if compress && !strings.HasSuffix(path, global.GzipSuffix) {
		path += global.GzipSuffix
	}

	var written string
	err := s.withLock(path, func() error {
		var err error
		written, err = s.write(doc, path, compress)
		return err
	})
	return written, err
}

// Deserialize reads a report written by Serialize. Compression is detected
// from the content, not the file name.
func (s *Serializer) Deserialize(path string) (Document, error) {
	if !global.FileExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, path)
	}

	var doc Document
	err := s.withLock(path, func() error {
		var err error
		doc, err = s.read(path)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.validate {
		if result := s.validator.Validate(doc); !result.IsValid() {
			return nil, &ValidationFailedError{Result: result}
		}
	}
	return doc, nil
}

// UpdatePartial deep-merges updates into an existing report under the file
// lock and rewrites it with the same compression.
func (s *Serializer) UpdatePartial(path string, updates Document) (Document, error) {
	if !global.FileExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, path)
	}

	var merged Document
	err := s.withLock(path, func() error {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s", ErrReportNotFound, path)
			}
			return fmt.Errorf("failed to read report: %w", err)
		}
		compressed := isGzip(raw)

		existing, err := Unmarshal(raw)
		if err != nil {
			return err
		}

		merged = DeepMerge(existing, updates)
		_, err = s.write(merged, path, compressed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// DeepMerge merges src into dst recursively. Nested objects are merged key
// by key; any other value in src replaces the one in dst.
func DeepMerge(dst, src Document) Document {
	if dst == nil {
		dst = Document{}
	}
	for key, value := range src {
		srcMap, srcIsMap := toMap(value)
		dstMap, dstIsMap := toMap(dst[key])
		if srcIsMap && dstIsMap {
			dst[key] = map[string]interface{}(DeepMerge(dstMap, srcMap))
			continue
		}
		dst[key] = value
	}
	return dst
}

func toMap(v interface{}) (Document, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

func (s *Serializer) write(doc Document, path string, compress bool) (string, error) {
	if s.validate {
		if result := s.validator.Validate(doc); !result.IsValid() {
			s.logger.Warnf("refusing to write invalid report %s: %s", path, result.Summary())
			return "", &ValidationFailedError{Result: result}
		}
	}

	data, err := Marshal(doc)
	if err != nil {
		return "", err
	}

	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return "", fmt.Errorf("failed to compress report: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("failed to compress report: %w", err)
		}
		data = buf.Bytes()
	}

	if err := global.AtomicWrite(path, data); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	s.logger.Infof("Report written to %s (%d bytes, compressed=%t)", path, len(data), compress)
	return path, nil
}

func (s *Serializer) read(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, path)
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return Unmarshal(raw)
}

// withLock holds an exclusive lock on "<path>.lock" while fn runs
func (s *Serializer) withLock(path string, fn func() error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	lock := flock.New(path + global.LockSuffix)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}
