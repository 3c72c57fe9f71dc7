// internal/workers/catalog/refresh-loan-catalog/models.go
package refreshloancatalog

import "loan-catalog/internal/models"

type Input struct {
	Source     string `json:"source" validate:"omitempty,max=50"`
	ClearCache bool   `json:"clearCache"`
	Job        string `json:"job,omitempty" validate:"omitempty,max=100"`
}

type Output struct {
	Refreshed  int                     `json:"refreshed"`
	Validation models.ValidationCounts `json:"validation"`
	PerSource  map[string]int          `json:"perSource,omitempty"`
	Failed     []string                `json:"failedSources,omitempty"`
	Job        string                  `json:"job,omitempty"`
	Triggered  bool                    `json:"triggered"`
}
