package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

func parametersSchema() map[string]any {
	models := make([]any, 0, len(constants.OCRModels))
	for _, m := range constants.OCRModels {
		models = append(models, m)
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"file_ids"},
		"properties": map[string]any{
			"file_ids": map[string]any{
				"type":        "array",
				"minItems":    1,
				"uniqueItems": true,
				"items":       map[string]any{"type": "string", "format": "uuid"},
			},
			"translate":     map[string]any{"type": "boolean"},
			"transliterate": map[string]any{"type": "boolean"},
			"ocr_model":     map[string]any{"type": "string", "enum": models},
		},
	}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("task_parameters.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("task_parameters.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateParameters checks raw task parameters against the submission schema.
func validateParameters(data []byte) error {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = compileSchema(parametersSchema())
	})
	if schemaErr != nil {
		return schemaErr
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parameters are not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("parameters do not match schema: %w", err)
	}
	return nil
}
