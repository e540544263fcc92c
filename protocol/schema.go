/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package protocol defines the analysis report format, validates reports
// against the embedded JSON schema plus semantic checks, and persists them.
package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/analysis-v1.0.0.json
var schemaJSON []byte

var (
	schemaOnce  sync.Once
	fullSchema  *gojsonschema.Schema
	stageSchema *gojsonschema.Schema
	schemaErr   error
)

// SchemaBytes returns the raw embedded report schema
func SchemaBytes() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}

// loadSchemas compiles the full schema and the stage schema once. The stage
// schema is identical except that no top-level section is required, so a
// single stage payload can be checked on its own.
func loadSchemas() (*gojsonschema.Schema, *gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		fullSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile report schema: %w", schemaErr)
			return
		}

		var relaxed map[string]interface{}
		if err := json.Unmarshal(schemaJSON, &relaxed); err != nil {
			schemaErr = fmt.Errorf("failed to parse report schema: %w", err)
			return
		}
		delete(relaxed, "required")

		stageSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(relaxed))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile stage schema: %w", schemaErr)
		}
	})
	return fullSchema, stageSchema, schemaErr
}
