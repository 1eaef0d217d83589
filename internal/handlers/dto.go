package handlers

import (
	"github.com/Brownie44l1/scrap-api/internal/estimator"
	"github.com/Brownie44l1/scrap-api/internal/model"
	"github.com/Brownie44l1/scrap-api/internal/valuation"
)

type HealthResponse struct {
	Status   string           `json:"status"`
	Ready    bool             `json:"ready"`
	Degraded []string         `json:"degraded"`
	Models   []model.Metadata `json:"models"`
}

type EstimateResponse struct {
	Prediction estimator.PredictionResult `json:"prediction"`
	Estimation valuation.EstimationResult `json:"estimation"`
	Cached     bool                       `json:"cached"`
}

type ValuationRequest struct {
	Material string  `json:"material" validate:"required"`
	Weight   float64 `json:"weight" validate:"gt=0,lte=100000"`
}
