package relation

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// The file store keeps two document shapes side by side in one directory:
// relationship records and tree snapshots. Readers must never return one as
// the other, so both shapes are pinned by schema and checked on read.

const relationshipSchemaJSON = `{
	"type": "object",
	"required": ["sourceEntryId", "targetEntryId", "metadata"],
	"properties": {
		"sourceEntryId": {"type": "string", "minLength": 1},
		"targetEntryId": {"type": "string", "minLength": 1},
		"metadata": {
			"type": "object",
			"required": ["lastTranslatedVersion"],
			"properties": {
				"lastTranslatedVersion": {"type": "integer"}
			}
		},
		"translationContext": {
			"type": "object",
			"properties": {
				"sourceLanguage": {"type": "string"},
				"targetLanguage": {"type": "string"}
			}
		},
		"fieldHashes": {"type": "object"},
		"cloneMapping": {"type": "object"}
	},
	"not": {"required": ["referenceTree", "flattenedRefs"]}
}`

const treeSchemaJSON = `{
	"type": "object",
	"required": ["sourceEntryId", "referenceTree", "flattenedRefs"],
	"properties": {
		"sourceEntryId": {"type": "string", "minLength": 1},
		"maxDepth": {"type": "integer"},
		"referenceTree": {
			"type": "object",
			"required": ["id", "depth"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"depth": {"type": "integer"}
			}
		},
		"flattenedRefs": {"type": "object"}
	}
}`

var relationshipSchema = jsonschema.MustCompileString("relationship.json", relationshipSchemaJSON)
var treeSchema = jsonschema.MustCompileString("deep_refs.json", treeSchemaJSON)

// checkShape validates a decoded document against the expected schema and
// wraps violations in ErrWrongDocumentShape.
func checkShape(schema *jsonschema.Schema, document any, shape string) error {
	if err := schema.Validate(document); err != nil {
		detail := err.Error()
		if idx := strings.IndexByte(detail, '\n'); idx > 0 {
			detail = detail[:idx]
		}
		return fmt.Errorf("%w: expected %s: %s", ErrWrongDocumentShape, shape, detail)
	}
	return nil
}
