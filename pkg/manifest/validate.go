package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError is a single structural problem with location context.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// manifestSchema is the structural contract for an instantiated manifest:
// the root is an object of group objects (meta_info aside), a step node is
// any object carrying both reserved fields, Execution Order encodes a
// signed integer as a string, and step-node arguments are flat strings.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "manifest-v1.json",
  "type": "object",
  "properties": {
    "meta_info": { "type": "object" }
  },
  "additionalProperties": { "$ref": "#/$defs/node" },
  "$defs": {
    "node": {
      "type": "object",
      "properties": {
        "Execution Order": { "type": "string", "pattern": "^-?[0-9]+$" },
        "Program Name": { "type": "string", "minLength": 1 },
        "Active": { "type": "string" }
      },
      "dependentRequired": {
        "Execution Order": ["Program Name"],
        "Program Name": ["Execution Order"]
      },
      "additionalProperties": {
        "anyOf": [
          { "type": "string" },
          { "$ref": "#/$defs/node" }
        ]
      }
    }
  }
}`

// Validate checks raw manifest JSON against the structural schema before
// compilation. It returns every violation, not just the first.
func Validate(data []byte) []*ValidationError {
	c := sjsonschema.NewCompiler()
	schemaDoc, err := sjsonschema.UnmarshalJSON(strings.NewReader(manifestSchema))
	if err != nil {
		return []*ValidationError{{Message: fmt.Sprintf("parse schema: %v", err)}}
	}
	if err := c.AddResource("manifest-v1.json", schemaDoc); err != nil {
		return []*ValidationError{{Message: fmt.Sprintf("add schema resource: %v", err)}}
	}
	sch, err := c.Compile("manifest-v1.json")
	if err != nil {
		return []*ValidationError{{Message: fmt.Sprintf("compile schema: %v", err)}}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{Message: fmt.Sprintf("unmarshal document: %v", err)}}
	}

	if err := sch.Validate(doc); err != nil {
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			var errs []*ValidationError
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Path:    strings.Join(cause.InstanceLocation, "/"),
					Message: fmt.Sprintf("%v", cause.ErrorKind),
				})
			}
			return errs
		}
		return []*ValidationError{{Message: err.Error()}}
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
