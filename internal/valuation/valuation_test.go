package valuation

import (
	"math"
	"testing"

	"github.com/Brownie44l1/scrap-api/internal/estimator"
	"github.com/Brownie44l1/scrap-api/internal/material"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name      string
		material  material.Material
		weight    float64
		wantPrice float64
		wantTotal float64
	}{
		{"steel", material.Steel, 12.5, 0.10, 1.25},
		{"unknown", material.Unknown, 10, 0, 0},
		{"copper", material.Copper, 2, 3.50, 7},
		{"unlisted", material.Material("zinc"), 4, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(estimator.PredictionResult{EstimatedWeight: tt.weight, ConfidenceScore: 0.8}, tt.material)
			if got.PricePerLb != tt.wantPrice {
				t.Errorf("PricePerLb = %v, want %v", got.PricePerLb, tt.wantPrice)
			}
			if math.Abs(got.TotalValue-tt.wantTotal) > 1e-12 {
				t.Errorf("TotalValue = %v, want %v", got.TotalValue, tt.wantTotal)
			}
			if got.Weight != tt.weight || got.Material != tt.material {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestEstimate_TotalIsWeightTimesPrice(t *testing.T) {
	weights := []float64{0.1, 1, 3.3333, 12.5, 99.99, 500}
	for _, m := range material.All() {
		for _, w := range weights {
			got := Estimate(estimator.PredictionResult{EstimatedWeight: w}, m)
			if got.TotalValue != got.Weight*got.PricePerLb {
				t.Errorf("%s weight %v: total %v != %v * %v", m, w, got.TotalValue, got.Weight, got.PricePerLb)
			}
		}
	}
}

func TestPriceTable(t *testing.T) {
	table := PriceTable()
	if len(table) != len(material.All()) {
		t.Fatalf("got %d rows, want %d", len(table), len(material.All()))
	}
	for _, row := range table {
		if row.PricePerLb != row.Material.PricePerLb() {
			t.Errorf("%s: %v != %v", row.Material, row.PricePerLb, row.Material.PricePerLb())
		}
	}
}
