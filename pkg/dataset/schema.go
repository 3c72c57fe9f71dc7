// pkg/dataset/schema.go
package dataset

// Dataset is the on-disk shape of a curated loan listing file.
type Dataset struct {
	Version     string                   `json:"version"`
	LastUpdated string                   `json:"lastUpdated"`
	Schemes     []map[string]interface{} `json:"schemes"`
}

// envelopeSchema checks the file envelope only. Scheme contents are left to
// the record validator so one bad scheme never rejects the whole file.
var envelopeSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"version", "schemes"},
	"properties": map[string]interface{}{
		"version":     map[string]interface{}{"type": "string", "minLength": 1},
		"lastUpdated": map[string]interface{}{"type": "string"},
		"schemes": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "object"},
		},
	},
}
