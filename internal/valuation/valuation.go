package valuation

import (
	"github.com/Brownie44l1/scrap-api/internal/estimator"
	"github.com/Brownie44l1/scrap-api/internal/material"
)

// EstimationResult is what the app shows the user for one photo.
type EstimationResult struct {
	Material   material.Material `json:"material"`
	Weight     float64           `json:"weight"`
	PricePerLb float64           `json:"pricePerLb"`
	TotalValue float64           `json:"totalValue"`
}

// Estimate prices a prediction. Materials outside the price table are worth 0.
func Estimate(p estimator.PredictionResult, m material.Material) EstimationResult {
	return Value(p.EstimatedWeight, m)
}

// Value prices a known weight in pounds.
func Value(weight float64, m material.Material) EstimationResult {
	price := m.PricePerLb()
	return EstimationResult{
		Material:   m,
		Weight:     weight,
		PricePerLb: price,
		TotalValue: weight * price,
	}
}

// PriceEntry is one row of the price table.
type PriceEntry struct {
	Material   material.Material `json:"material"`
	PricePerLb float64           `json:"pricePerLb"`
}

func PriceTable() []PriceEntry {
	all := material.All()
	table := make([]PriceEntry, 0, len(all))
	for _, m := range all {
		table = append(table, PriceEntry{Material: m, PricePerLb: m.PricePerLb()})
	}
	return table
}
