package intent

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// The interpretation collaborator returns one of two shapes. Each gets its own
// schema so a rejection can say which contract was broken.

const intentSchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "additionalProperties": false,
  "properties": {
    "success":       {"enum": [true]},
    "action":        {"type": "string", "enum": ["schedule", "cancel", "reschedule", "list"]},
    "customerName":  {"type": ["string", "null"]},
    "customerEmail": {"type": ["string", "null"]},
    "attendantName": {"type": ["string", "null"]},
    "date":          {"type": ["string", "null"], "pattern": "^$|^\\d{4}-\\d{2}-\\d{2}$"},
    "originalDate":  {"type": ["string", "null"], "pattern": "^$|^\\d{4}-\\d{2}-\\d{2}$"},
    "time":          {"type": ["string", "null"], "pattern": "^$|^([01]?\\d|2[0-3]):[0-5]\\d(:[0-5]\\d)?$"},
    "notes":         {"type": ["string", "null"]}
  }
}`

// Models often echo the fields they were working on next to a clarification,
// so only success and message are constrained there.
const clarificationSchemaJSON = `{
  "type": "object",
  "required": ["success", "message"],
  "properties": {
    "success": {"enum": [false]},
    "message": {"type": "string", "minLength": 1, "pattern": "\\S"}
  }
}`

var (
	intentSchema        = mustSchema("intent", intentSchemaJSON)
	clarificationSchema = mustSchema("clarification", clarificationSchemaJSON)
)

func mustSchema(name, raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("intent: compile %s schema: %v", name, err))
	}
	return schema
}

// validateDocument checks doc against schema and returns the violations
// joined into one line, or "" when valid.
func validateDocument(schema *gojsonschema.Schema, doc map[string]any) (string, error) {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return "", err
	}
	if result.Valid() {
		return "", nil
	}
	errs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		errs[i] = desc.String()
	}
	return strings.Join(errs, "; "), nil
}

// looksLikeEmail reuses the schema library's email format checker.
func looksLikeEmail(s string) bool {
	return gojsonschema.FormatCheckers.IsFormat("email", s)
}
