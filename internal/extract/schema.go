package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"smider/broker-service/internal/model"
)

// BuildPayloadSchema returns the JSON Schema (draft 2020-12 subset) for a
// payload. Every property is nullable; no property is required because
// completeness is decided by the intake controller, not by the schema.
func BuildPayloadSchema() map[string]any {
	props := make(map[string]any, len(model.PayloadFields))
	for _, f := range model.PayloadFields {
		props[f.Name] = fieldSchema(f)
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

func fieldSchema(f model.FieldSpec) map[string]any {
	switch f.Kind {
	case model.KindNumber:
		return map[string]any{"type": []string{"number", "null"}, "minimum": 0}
	case model.KindBool:
		return map[string]any{"type": []string{"boolean", "null"}}
	}
	if len(f.Enum) > 0 {
		enum := make([]any, 0, len(f.Enum)+1)
		for _, v := range f.Enum {
			enum = append(enum, v)
		}
		enum = append(enum, nil)
		return map[string]any{"type": []string{"string", "null"}, "enum": enum}
	}
	return map[string]any{"type": []string{"string", "null"}, "minLength": 1}
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func payloadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(BuildPayloadSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("payload.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("payload.json")
	})
	return compiledSchema, compileErr
}

// Validate checks data against the payload schema.
func Validate(data []byte) error {
	schema, err := payloadSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
