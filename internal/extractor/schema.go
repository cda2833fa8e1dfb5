package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RiskLevels are the values a valid payload may carry.
var RiskLevels = []string{"Low", "Medium", "High"}

// complianceSchema describes the payload the reasoning service must return.
func complianceSchema() map[string]any {
	str := map[string]any{"type": "string"}
	return map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{"checklist", "risk_level", "score", "violations", "improvements", "sentiment", "summary"},
		"properties": map[string]any{
			"checklist": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"rule", "passed"},
					"properties": map[string]any{
						"rule":    str,
						"passed":  map[string]any{"type": "boolean"},
						"details": str,
					},
				},
			},
			"risk_level": map[string]any{"type": "string", "enum": RiskLevels},
			"score":      map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"violations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"anyOf": []any{
						str,
						map[string]any{
							"type": "object",
							"properties": map[string]any{
								"type":     str,
								"example":  str,
								"severity": map[string]any{"type": []string{"string", "number"}},
							},
						},
					},
				},
			},
			"improvements":    map[string]any{"type": "array", "items": str},
			"recommendations": map[string]any{"type": "array", "items": str},
			"sentiment":       str,
			"summary":         str,
		},
	}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(complianceSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("compliance.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("compliance.json")
	})
	return compiledSchema, schemaErr
}

// validatePayload checks a decoded payload against the compliance schema.
func validatePayload(v any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
