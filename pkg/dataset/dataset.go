// pkg/dataset/dataset.go
package dataset

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed data/loans.json
var defaultDataset []byte

// Default returns the dataset shipped with the binary.
func Default() (*Dataset, error) {
	return Parse(defaultDataset)
}

// Load reads and parses a dataset file.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes data after checking its envelope.
func Parse(data []byte) (*Dataset, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if err := checkEnvelope(doc); err != nil {
		return nil, err
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &ds, nil
}

func checkEnvelope(doc interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(envelopeSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("dataset schema check: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("dataset envelope invalid: %v", errs)
	}
	return nil
}
