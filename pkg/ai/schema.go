package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaResource = "https://inboxjanitor.local/schemas/classification.json"

var (
	jsonSchemaReflector = jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}

	schemaOnce     sync.Once
	schemaDoc      map[string]any
	schemaCompiled *validator.Schema
	schemaErr      error
)

func loadSchema() {
	reflected := jsonSchemaReflector.ReflectFromType(reflect.TypeOf(ClassificationOutput{}))

	raw, err := json.Marshal(reflected)
	if err != nil {
		schemaErr = fmt.Errorf("failed to marshal classification schema: %w", err)
		return
	}
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		schemaErr = fmt.Errorf("failed to decode classification schema: %w", err)
		return
	}

	doc, err := validator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		schemaErr = fmt.Errorf("failed to load classification schema: %w", err)
		return
	}
	c := validator.NewCompiler()
	if err := c.AddResource(schemaResource, doc); err != nil {
		schemaErr = fmt.Errorf("failed to add classification schema: %w", err)
		return
	}
	schemaCompiled, schemaErr = c.Compile(schemaResource)
}

// ClassificationSchema returns the JSON schema of ClassificationOutput as a generic map.
// The returned map is a copy and may be modified by the caller.
func ClassificationSchema() map[string]any {
	schemaOnce.Do(loadSchema)
	if schemaErr != nil {
		return nil
	}
	return cloneSchema(schemaDoc)
}

func compiledSchema() (*validator.Schema, error) {
	schemaOnce.Do(loadSchema)
	return schemaCompiled, schemaErr
}

func cloneSchema(in map[string]any) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// withoutMetaSchema drops "$schema" for providers that reject it
func withoutMetaSchema(schema map[string]any) map[string]any {
	if _, ok := schema["$schema"]; !ok {
		return schema
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if k != "$schema" {
			out[k] = v
		}
	}
	return out
}
