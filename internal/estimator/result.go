package estimator

import "github.com/Brownie44l1/scrap-api/internal/model"

// PredictionResult is the outcome of one estimation. Weight and confidence are
// always populated.
type PredictionResult struct {
	EstimatedWeight float64 `json:"estimatedWeight"`
	ConfidenceScore float64 `json:"confidenceScore"`
	Method          string  `json:"method"`
	Regions         int     `json:"regions"`
	Degraded        bool    `json:"degraded"`
}

// Status describes the service for health checks.
type Status struct {
	Ready    bool             `json:"ready"`
	Degraded []string         `json:"degraded"`
	Models   []model.Metadata `json:"models"`
}
