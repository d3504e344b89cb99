package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docextract/constants"
)

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	schema, err := compileSchema(schemaMap)
	if err != nil {
		return err
	}
	return validateData(schema, data)
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateData(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

type compiledSchema struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

// resultSchemas holds one compiled schema per document type.
var resultSchemas sync.Map // constants.DocumentType -> *compiledSchema

func schemaFor(tag string) (*jsonschema.Schema, error) {
	dt, _ := constants.ParseDocumentType(tag)
	v, _ := resultSchemas.LoadOrStore(dt, &compiledSchema{})
	cs := v.(*compiledSchema)
	cs.once.Do(func() {
		cs.schema, cs.err = compileSchema(BuildSchema(string(dt)))
	})
	return cs.schema, cs.err
}

// ValidateResult checks a parsed result against tag's schema. Callers treat
// a failure as a warning; the result itself is still returned to the user.
func ValidateResult(tag string, result map[string]any) error {
	schema, err := schemaFor(tag)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return validateData(schema, data)
}
