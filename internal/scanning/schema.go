package scanning

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// candidatesSchema only enforces shape; sanitization coerces value types.
const candidatesSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "description": {"type": ["string", "null"]},
      "amount":      {"type": ["number", "string", "null"]},
      "category":    {"type": ["string", "null"]},
      "date":        {"type": ["string", "null"]},
      "tags":        {"type": ["array", "string", "null"]},
      "account":     {"type": ["string", "null"]}
    }
  }
}`

var compiledCandidates = jsonschema.MustCompileString("candidates.json", candidatesSchema)

// validateCandidates checks decoded JSON against the candidates schema
func validateCandidates(v any) error {
	if err := compiledCandidates.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
