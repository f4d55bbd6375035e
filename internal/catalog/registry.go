// internal/catalog/registry.go
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// registrySchema validates an operator-provided template registry file
// before any of it is merged into the catalog.
const registrySchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "body": {
        "type": "object",
        "additionalProperties": {"type": "string", "minLength": 1}
      },
      "requiredParams": {
        "type": "array",
        "items": {"type": "string"}
      },
      "maxLength": {"type": "integer", "minimum": 1}
    },
    "required": ["body"],
    "additionalProperties": false
  }
}`

type registryEntry struct {
	Body           map[string]string `json:"body"`
	RequiredParams []string          `json:"requiredParams,omitempty"`
	MaxLength      int               `json:"maxLength,omitempty"`
}

// LoadRegistry merges template overrides from a JSON file keyed by kind id
// or alias. Unknown kinds are rejected so typos surface at startup rather
// than as missing templates at send time.
func (c *Catalog) LoadRegistry(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template registry: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(registrySchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validate template registry: %w", err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return fmt.Errorf("template registry invalid: %s: %s", first.Field(), first.Description())
	}

	var entries map[string]registryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse template registry: %w", err)
	}

	for id, entry := range entries {
		canonical, ok := c.Canonicalize(id)
		if !ok {
			return fmt.Errorf("template registry references unknown kind: %s", id)
		}

		tmpl := c.templates[canonical]
		for lang, body := range entry.Body {
			if tmpl.Body == nil {
				tmpl.Body = make(map[string]string)
			}
			tmpl.Body[lang] = body
		}
		if entry.RequiredParams != nil {
			tmpl.RequiredParams = entry.RequiredParams
		}
		if entry.MaxLength > 0 {
			tmpl.MaxLength = entry.MaxLength
		}
		c.templates[canonical] = tmpl
	}

	return nil
}
