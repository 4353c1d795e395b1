package agent

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SplitToolsParams carries the inputs for SplitTools. SandboxEnabled is
// accepted for interface stability: routing is the same either way today,
// and callers already thread the flag.
type SplitToolsParams struct {
	Tools          []ToolDefinition
	SandboxEnabled bool
}

// ToolSplit partitions tool definitions by execution category. BuiltIn is
// reserved for tools the runtime executes natively; everything currently
// routes to Custom, whose handlers run in-process.
type ToolSplit struct {
	BuiltIn []ToolDefinition
	Custom  []ToolDefinition
}

// SplitTools routes every tool definition to the custom executor. The
// BuiltIn side stays empty until the runtime grows native tools.
func SplitTools(p SplitToolsParams) ToolSplit {
	return ToolSplit{Custom: p.Tools}
}

// ValidateToolArgs validates tool-call arguments against the definition's
// JSON Schema before the handler runs. A definition without a schema
// accepts anything.
func ValidateToolArgs(def ToolDefinition, args map[string]interface{}) error {
	if def.InputSchema == nil {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(def.InputSchema)
	argsLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, argsLoader)
	if err != nil {
		return fmt.Errorf("tool %s: schema validation failed: %w", def.Name, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("tool %s: invalid arguments: %s", def.Name, strings.Join(details, "; "))
	}

	return nil
}
