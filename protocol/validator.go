/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PivotLLM/AIFlow/logging"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// Error prefixes, one per check
const (
	prefixSchema    = "Schema validation: "
	prefixTimestamp = "Timestamp validation: "
	prefixUUID      = "UUID validation: "
	prefixReference = "Reference integrity: "
	prefixOrder     = "Execution order: "

	skippedWarning = "Skipping advanced validation due to schema errors"
)

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{3})?Z?$`)

// ValidationResult accumulates errors and warnings. It is valid iff Errors is empty.
type ValidationResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// IsValid reports whether no errors were recorded
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Summary returns a one-line description of the result
func (r *ValidationResult) Summary() string {
	if r.IsValid() {
		return fmt.Sprintf("Validation passed (%d warnings)", len(r.Warnings))
	}
	return fmt.Sprintf("Validation failed (%d errors, %d warnings)", len(r.Errors), len(r.Warnings))
}

// MarshalJSON includes the derived is_valid flag and counts
func (r *ValidationResult) MarshalJSON() ([]byte, error) {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	warns := r.Warnings
	if warns == nil {
		warns = []string{}
	}
	return json.Marshal(struct {
		IsValid      bool     `json:"is_valid"`
		Errors       []string `json:"errors"`
		Warnings     []string `json:"warnings"`
		ErrorCount   int      `json:"error_count"`
		WarningCount int      `json:"warning_count"`
	}{
		IsValid:      r.IsValid(),
		Errors:       errs,
		Warnings:     warns,
		ErrorCount:   len(errs),
		WarningCount: len(warns),
	})
}

func (r *ValidationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Validator checks analysis reports
type Validator struct {
	logger *logging.Logger
}

// NewValidator creates a validator. The logger may be nil.
func NewValidator(logger *logging.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate runs the complete check sequence against a full report
func (v *Validator) Validate(doc Document) *ValidationResult {
	return v.run(doc, false)
}

// ValidateStage checks a single stage payload. No top-level section is
// required, and references into a collection whose section is absent from
// the payload are not checked.
func (v *Validator) ValidateStage(doc Document) *ValidationResult {
	return v.run(doc, true)
}

// ValidateBytes parses raw JSON and validates it as a full report
func (v *Validator) ValidateBytes(data []byte) *ValidationResult {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		result := &ValidationResult{}
		result.addError(prefixSchema + fmt.Sprintf("invalid JSON: %v", err))
		return result
	}
	return v.Validate(doc)
}

// ValidateReferences runs only the referential integrity check. Messages carry no prefix.
func (v *Validator) ValidateReferences(doc Document) *ValidationResult {
	result := &ValidationResult{}
	generic, err := normalize(doc)
	if err != nil {
		result.addError(err.Error())
		return result
	}
	errs, warns := checkReferences(generic, false)
	result.Errors = append(result.Errors, errs...)
	result.Warnings = append(result.Warnings, warns...)
	return result
}

func (v *Validator) run(doc Document, stageMode bool) *ValidationResult {
	result := &ValidationResult{}

	data, err := json.Marshal(doc)
	if err != nil {
		result.addError(prefixSchema + fmt.Sprintf("document is not serializable: %v", err))
		return result
	}

	schemaErrors := checkSchema(data, stageMode)
	for _, e := range schemaErrors {
		result.addError(prefixSchema + e)
	}
	if len(schemaErrors) > 0 {
		result.addWarning(skippedWarning)
		v.logResult(result, stageMode)
		return result
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		result.addError(prefixSchema + fmt.Sprintf("document is not an object: %v", err))
		return result
	}

	for _, e := range checkTimestamps(generic) {
		result.addError(prefixTimestamp + e)
	}
	for _, e := range checkUUIDs(generic) {
		result.addError(prefixUUID + e)
	}
	refErrors, refWarnings := checkReferences(generic, stageMode)
	for _, e := range refErrors {
		result.addError(prefixReference + e)
	}
	for _, w := range refWarnings {
		result.addWarning(prefixReference + w)
	}
	for _, e := range checkExecutionOrder(generic) {
		result.addError(prefixOrder + e)
	}

	v.logResult(result, stageMode)
	return result
}

func (v *Validator) logResult(result *ValidationResult, stageMode bool) {
	mode := "report"
	if stageMode {
		mode = "stage"
	}
	if result.IsValid() {
		v.logger.Debugf("%s validation passed with %d warnings", mode, len(result.Warnings))
		return
	}
	v.logger.Debugf("%s validation failed: %d errors, %d warnings", mode, len(result.Errors), len(result.Warnings))
}

func checkSchema(data []byte, stageMode bool) []string {
	full, stage, err := loadSchemas()
	if err != nil {
		return []string{err.Error()}
	}
	schema := full
	if stageMode {
		schema = stage
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return []string{err.Error()}
	}
	if res.Valid() {
		return nil
	}

	var out []string
	for _, desc := range res.Errors() {
		out = append(out, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return out
}

// normalize round-trips a document through JSON so every nested value is a
// plain map, slice, string, float64 or bool.
func normalize(doc Document) (map[string]interface{}, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("document is not serializable: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	return generic, nil
}

// stepTrace is a step-by-step trace located in the report
type stepTrace struct {
	path string
	data map[string]interface{}
}

// stepByStepTraces returns every step-by-step trace in document order
func stepByStepTraces(doc map[string]interface{}) []stepTrace {
	var out []stepTrace
	for u, unit := range listAt(mapAt(doc, "execution_trace"), "traceable_units") {
		for t, trace := range listAt(asMap(unit), "traces") {
			tm := asMap(trace)
			if asString(tm["format"]) != TraceFormatStepByStep {
				continue
			}
			out = append(out, stepTrace{
				path: fmt.Sprintf("execution_trace.traceable_units[%d].traces[%d]", u, t),
				data: mapAt(tm, "data"),
			})
		}
	}
	return out
}

func checkTimestamps(doc map[string]interface{}) []string {
	var errs []string
	check := func(value interface{}, path string) {
		s, ok := value.(string)
		if !ok || s == "" {
			return
		}
		if !timestampPattern.MatchString(s) {
			errs = append(errs, fmt.Sprintf("%s: Invalid ISO 8601 timestamp '%s'", path, s))
		}
	}

	check(mapAt(doc, "project_metadata")["analyzed_at"], "project_metadata.analyzed_at")

	for _, tr := range stepByStepTraces(doc) {
		for i, step := range listAt(tr.data, "steps") {
			check(asMap(step)["timestamp"], fmt.Sprintf("%s.data.steps[%d].timestamp", tr.path, i))
		}
		for s, scope := range listAt(tr.data, "variableScopes") {
			sm := asMap(scope)
			check(sm["timestamp"], fmt.Sprintf("%s.data.variableScopes[%d].timestamp", tr.path, s))
			for vi, variable := range listAt(sm, "variables") {
				for h, hist := range listAt(asMap(variable), "history") {
					check(asMap(hist)["timestamp"],
						fmt.Sprintf("%s.data.variableScopes[%d].variables[%d].history[%d].timestamp", tr.path, s, vi, h))
				}
			}
		}
		for f, frame := range listAt(tr.data, "callStack") {
			check(asMap(frame)["timestamp"], fmt.Sprintf("%s.data.callStack[%d].timestamp", tr.path, f))
		}
	}
	return errs
}

func checkUUIDs(doc map[string]interface{}) []string {
	var errs []string
	check := func(value interface{}, path string) {
		s, ok := value.(string)
		if !ok || s == "" {
			return
		}
		id, err := uuid.Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s.id: '%s' is not a valid UUID format", path, s))
			return
		}
		if id.Version() != 4 || id.Variant() != uuid.RFC4122 || id.String() != s {
			errs = append(errs, fmt.Sprintf("%s.id: '%s' is not a valid UUID v4", path, s))
		}
	}

	for i, node := range listAt(mapAt(doc, "code_structure"), "nodes") {
		check(asMap(node)["id"], fmt.Sprintf("code_structure.nodes[%d]", i))
	}
	for i, btn := range listAt(mapAt(doc, "behavior_metadata"), "launch_buttons") {
		check(asMap(btn)["id"], fmt.Sprintf("behavior_metadata.launch_buttons[%d]", i))
	}
	for u, unit := range listAt(mapAt(doc, "execution_trace"), "traceable_units") {
		check(asMap(unit)["id"], fmt.Sprintf("execution_trace.traceable_units[%d]", u))
	}
	for _, tr := range stepByStepTraces(doc) {
		for i, step := range listAt(tr.data, "steps") {
			check(asMap(step)["id"], fmt.Sprintf("%s.data.steps[%d]", tr.path, i))
		}
		for i, scope := range listAt(tr.data, "variableScopes") {
			check(asMap(scope)["id"], fmt.Sprintf("%s.data.variableScopes[%d]", tr.path, i))
		}
		for i, frame := range listAt(tr.data, "callStack") {
			check(asMap(frame)["id"], fmt.Sprintf("%s.data.callStack[%d]", tr.path, i))
		}
	}
	concurrency := mapAt(doc, "concurrency_info")
	for i, flow := range listAt(concurrency, "flows") {
		check(asMap(flow)["id"], fmt.Sprintf("concurrency_info.flows[%d]", i))
	}
	for i, sp := range listAt(concurrency, "sync_points") {
		check(asMap(sp)["id"], fmt.Sprintf("concurrency_info.sync_points[%d]", i))
	}
	return errs
}

type idSet map[string]struct{}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func collectIDs(items []interface{}, into idSet) {
	for _, item := range items {
		if id := asString(asMap(item)["id"]); id != "" {
			into[id] = struct{}{}
		}
	}
}

// checkReferences verifies that every foreign key resolves. In stage mode a
// reference is only checked when the section owning its target collection is
// present in the payload.
func checkReferences(doc map[string]interface{}, stageMode bool) ([]string, []string) {
	var errs, warns []string

	present := func(section string) bool {
		if !stageMode {
			return true
		}
		_, ok := doc[section]
		return ok
	}

	nodeIDs := idSet{}
	unitIDs := idSet{}
	scopeIDs := idSet{}
	frameIDs := idSet{}
	flowIDs := idSet{}

	structure := mapAt(doc, "code_structure")
	collectIDs(listAt(structure, "nodes"), nodeIDs)

	units := listAt(mapAt(doc, "execution_trace"), "traceable_units")
	collectIDs(units, unitIDs)
	traces := stepByStepTraces(doc)
	for _, tr := range traces {
		collectIDs(listAt(tr.data, "variableScopes"), scopeIDs)
		collectIDs(listAt(tr.data, "callStack"), frameIDs)
	}

	concurrency := mapAt(doc, "concurrency_info")
	flows := listAt(concurrency, "flows")
	collectIDs(flows, flowIDs)

	checkNodes := present("code_structure")

	if checkNodes {
		for i, btn := range listAt(mapAt(doc, "behavior_metadata"), "launch_buttons") {
			if id := asString(asMap(btn)["node_id"]); id != "" && !nodeIDs.has(id) {
				errs = append(errs, fmt.Sprintf("behavior_metadata.launch_buttons[%d].node_id '%s' references non-existent CodeNode", i, id))
			}
		}
	}

	for i, edge := range listAt(structure, "edges") {
		em := asMap(edge)
		if id := asString(em["source"]); id != "" && !nodeIDs.has(id) {
			errs = append(errs, fmt.Sprintf("code_structure.edges[%d].source '%s' references non-existent CodeNode", i, id))
		}
		if id := asString(em["target"]); id != "" && !nodeIDs.has(id) {
			errs = append(errs, fmt.Sprintf("code_structure.edges[%d].target '%s' references non-existent CodeNode", i, id))
		}
	}
	for i, node := range listAt(structure, "nodes") {
		if id := asString(asMap(node)["parent"]); id != "" && !nodeIDs.has(id) {
			errs = append(errs, fmt.Sprintf("code_structure.nodes[%d].parent '%s' references non-existent CodeNode", i, id))
		}
	}

	for _, tr := range traces {
		for i, step := range listAt(tr.data, "steps") {
			if id := asString(asMap(step)["scope_id"]); id != "" && !scopeIDs.has(id) {
				errs = append(errs, fmt.Sprintf("%s.data.steps[%d].scope_id '%s' references non-existent VariableScope", tr.path, i, id))
			}
		}
		for i, scope := range listAt(tr.data, "variableScopes") {
			if id := asString(asMap(scope)["parent_scope_id"]); id != "" && !scopeIDs.has(id) {
				errs = append(errs, fmt.Sprintf("%s.data.variableScopes[%d].parent_scope_id '%s' references non-existent VariableScope", tr.path, i, id))
			}
		}
		for i, frame := range listAt(tr.data, "callStack") {
			fm := asMap(frame)
			if id := asString(fm["local_scope_id"]); id != "" && !scopeIDs.has(id) {
				errs = append(errs, fmt.Sprintf("%s.data.callStack[%d].local_scope_id '%s' references non-existent VariableScope", tr.path, i, id))
			}
			if id := asString(fm["parent_frame_id"]); id != "" && !frameIDs.has(id) {
				errs = append(errs, fmt.Sprintf("%s.data.callStack[%d].parent_frame_id '%s' references non-existent StackFrame", tr.path, i, id))
			}
		}
	}

	checkUnits := present("execution_trace")
	for i, flow := range flows {
		fm := asMap(flow)
		if checkNodes {
			if id := asString(fm["start_point"]); id != "" && !nodeIDs.has(id) {
				errs = append(errs, fmt.Sprintf("concurrency_info.flows[%d].start_point '%s' references non-existent CodeNode", i, id))
			}
			if id := asString(fm["end_point"]); id != "" && !nodeIDs.has(id) {
				errs = append(errs, fmt.Sprintf("concurrency_info.flows[%d].end_point '%s' references non-existent CodeNode", i, id))
			}
		}
		if checkUnits {
			for _, ref := range asList(fm["involved_units"]) {
				if id := asString(ref); !unitIDs.has(id) {
					warns = append(warns, fmt.Sprintf("concurrency_info.flows[%d].involved_units contains '%s' which references non-existent TraceableUnit", i, id))
				}
			}
		}
	}
	for i, sp := range listAt(concurrency, "sync_points") {
		for _, ref := range asList(asMap(sp)["waiting_flows"]) {
			if id := asString(ref); !flowIDs.has(id) {
				errs = append(errs, fmt.Sprintf("concurrency_info.sync_points[%d].waiting_flows contains '%s' which references non-existent ConcurrencyFlow", i, id))
			}
		}
	}

	return errs, warns
}

// checkExecutionOrder requires the execution_order values of steps, scopes
// and frames in each step-by-step trace to be unique and already ascending.
func checkExecutionOrder(doc map[string]interface{}) []string {
	var errs []string
	for _, tr := range stepByStepTraces(doc) {
		var orders []int
		for _, key := range []string{"steps", "variableScopes", "callStack"} {
			for _, item := range listAt(tr.data, key) {
				if n, ok := asInt(asMap(item)["execution_order"]); ok {
					orders = append(orders, n)
				}
			}
		}

		if dups := duplicates(orders); len(dups) > 0 {
			parts := make([]string, len(dups))
			for i, d := range dups {
				parts[i] = fmt.Sprintf("%d", d)
			}
			errs = append(errs, fmt.Sprintf("%s: Duplicate execution_order values found: %s", tr.path, strings.Join(parts, ", ")))
		}
		if !sort.IntsAreSorted(orders) {
			errs = append(errs, fmt.Sprintf("%s: execution_order values are not monotonically increasing", tr.path))
		}
	}
	return errs
}

// duplicates returns each repeated value once, in ascending order
func duplicates(values []int) []int {
	seen := make(map[int]int, len(values))
	for _, v := range values {
		seen[v]++
	}
	var out []int
	for v, n := range seen {
		if n > 1 {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func asMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return nil
}

func asList(v interface{}) []interface{} {
	if l, ok := v.([]interface{}); ok {
		return l
	}
	return nil
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func mapAt(m map[string]interface{}, key string) map[string]interface{} {
	return asMap(m[key])
}

func listAt(m map[string]interface{}, key string) []interface{} {
	return asList(m[key])
}
