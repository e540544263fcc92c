/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

const (
	// ProgramName is the name of the application
	ProgramName = "AIFlow"

	// Version is the current version of the application
	Version = "0.3.0"

	// ReportSchemaURI is written into the $schema field of every merged report
	ReportSchemaURI = "https://aiflow.dev/schemas/analysis-v1.0.0.json"

	// ReportVersion is the report format version
	ReportVersion = "1.0.0"
)
