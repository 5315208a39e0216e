package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaValidator compiles and caches a draft-07 JSON Schema per tool name,
// backing AgentConfig.StrictToolValidation (spec §4.3's validation note).
type schemaValidator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{schemas: make(map[string]*jsonschema.Schema)}
}

func (v *schemaValidator) compile(name string, schema []byte) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	resourceName := name + ".json"
	if err := compiler.AddResource(resourceName, strings.NewReader(string(schema))); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[name] = compiled
	return nil
}

func (v *schemaValidator) validate(name string, arguments string) error {
	v.mu.RLock()
	schema, ok := v.schemas[name]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(arguments), &doc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("arguments failed schema validation: %w", err)
	}
	return nil
}
