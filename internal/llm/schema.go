package llm

import "github.com/joseph-ayodele/docextract/constants"

// BuildSchema returns a JSON Schema (draft 2020-12 subset) for tag's result.
// Models format amounts inconsistently, so scalar fields accept numbers or
// strings; only obviously wrong shapes are flagged.
func BuildSchema(tag string) map[string]any {
	dt, t := TemplateFor(tag)

	props := map[string]any{}
	for _, f := range t.Fields {
		props[f.Name] = scalarProp()
	}
	switch dt {
	case constants.Investment:
		props["taxBenefits"] = map[string]any{"type": []string{"boolean", "string"}}
		props["investmentType"] = map[string]any{"type": "string", "minLength": 1}
	case constants.Bills:
		props["itemDescription"] = map[string]any{"type": []string{"string", "array"}}
	}
	props["date"] = map[string]any{"type": "string", "minLength": 1}

	return map[string]any{
		"type":          "object",
		"properties":    props,
		"minProperties": 1,
	}
}

func scalarProp() map[string]any {
	return map[string]any{
		"type": []string{"string", "number", "boolean"},
	}
}
