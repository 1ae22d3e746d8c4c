package patterns

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/standardbeagle/cryptoscan/internal/logging"
)

// documentSchema describes the external patterns.json shape (§6): three
// optional arrays, regex/bytes/ast_rules. Validation is advisory: a schema
// violation is logged as a warning, never a load failure — the manual
// field-by-field decode in LoadFile already tolerates missing/malformed
// entries per-entry, matching the source's "drop this one entry" recovery
// policy.
var documentSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"regex": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"name":    {Type: "string"},
					"pattern": {Type: "string"},
					"icase":   {Type: "boolean"},
					"literal": {Type: "boolean"},
					"syntax":  {Type: "string", Enum: []any{"ECMAScript", "extended", "basic"}},
				},
				Required: []string{"name", "pattern"},
			},
		},
		"bytes": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"name": {Type: "string"},
					"hex":  {Type: "string"},
					"type": {Type: "string", Enum: []any{"oid", "asn1-oid", "asn1_oid", "curve_param", "prime", "bytes"}},
				},
				Required: []string{"name", "hex"},
			},
		},
		"ast_rules": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"id":             {Type: "string"},
					"lang":           {Type: "string", Enum: []any{"cpp", "java", "python"}},
					"kind":           {Type: "string", Enum: []any{"call", "call_fullname", "call_fullname+arg"}},
					"callee":         {Type: "string"},
					"callees":        {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
					"arg_index":      {Type: "integer"},
					"kw":             {Type: "string"},
					"kw_value_regex": {Type: "string"},
					"arg_regex":      {Type: "string"},
					"message":        {Type: "string"},
					"severity":       {Type: "string", Enum: []any{"low", "med", "high"}},
				},
				Required: []string{"id", "lang", "kind"},
			},
		},
	},
}

// validateDocument checks raw against documentSchema and logs any
// violations on the warning channel. It never blocks loading.
func validateDocument(raw []byte) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return // the subsequent strict decode reports the parse failure
	}
	resolved, err := documentSchema.Resolve(nil)
	if err != nil {
		logging.Warnf("patterns: schema resolve failed: %v", err)
		return
	}
	if err := resolved.Validate(instance); err != nil {
		logging.Warnf("patterns: schema validation: %v", err)
	}
}
