package estimator

import (
	"math"
	"testing"

	"github.com/Brownie44l1/scrap-api/internal/material"
	"github.com/Brownie44l1/scrap-api/internal/model"
)

func region(box model.BBox, score, depth float64, shape string) Region {
	weights := make([]float64, len(model.ShapeLabels))
	for i, label := range model.ShapeLabels {
		weights[i] = 0.1
		if label == shape {
			weights[i] = 1
		}
	}
	return Region{
		Box:   box,
		Class: "scrap_metal",
		Score: score,
		Depth: model.DepthOutput{Values: []float64{depth}},
		Shape: model.NewShapeOutput(model.ShapeLabels, weights),
	}
}

func TestCombiner_ConfidenceMonotonicInScore(t *testing.T) {
	c := NewCombiner(DefaultCombinerConfig())
	base := []Region{
		region(model.BBox{0, 0, 0.4, 0.4}, 0.4, 0.8, "pipe"),
		region(model.BBox{0.5, 0.5, 0.9, 0.9}, 0.6, 1.2, "sheet"),
	}

	for idx := range base {
		prev := -1.0
		for score := 0.0; score <= 1.0001; score += 0.05 {
			regions := append([]Region(nil), base...)
			regions[idx].Score = score

			conf := c.Combine(regions, material.Steel).Confidence
			if conf < prev {
				t.Fatalf("region %d: confidence dropped from %v to %v at score %v", idx, prev, conf, score)
			}
			prev = conf
		}
	}
}

func TestCombiner_ConfidenceRange(t *testing.T) {
	c := NewCombiner(DefaultCombinerConfig())

	tests := []struct {
		name    string
		regions []Region
	}{
		{"no regions", nil},
		{"zero everything", []Region{{Box: model.WholeImage, Shape: model.UniformShape(nil)}}},
		{"perfect", []Region{region(model.WholeImage, 1, 1, "bar")}},
		{"out of range score", []Region{region(model.WholeImage, 7, 1, "bar")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := c.Confidence(tt.regions)
			if conf <= 0 || conf > 1 {
				t.Errorf("Confidence() = %v, want (0,1]", conf)
			}
		})
	}
}

func TestCombiner_WeightBounds(t *testing.T) {
	cfg := DefaultCombinerConfig()
	c := NewCombiner(cfg)

	tiny := c.Combine([]Region{region(model.BBox{0, 0, 0.01, 0.01}, 0.01, 0, "can")}, material.Aluminum)
	if tiny.Ensemble.FinalWeight != cfg.MinWeight {
		t.Errorf("tiny weight = %v, want floor %v", tiny.Ensemble.FinalWeight, cfg.MinWeight)
	}

	huge := c.Combine([]Region{region(model.WholeImage, 1, 1000, "bar")}, material.Lead)
	if huge.Ensemble.FinalWeight != cfg.MaxWeight {
		t.Errorf("huge weight = %v, want ceiling %v", huge.Ensemble.FinalWeight, cfg.MaxWeight)
	}
}

func TestCombiner_RegionWeightFormula(t *testing.T) {
	c := NewCombiner(DefaultCombinerConfig())
	r := Region{
		Box:   model.BBox{0, 0, 0.5, 0.5},
		Score: 0.8,
		Depth: model.DepthOutput{Values: []float64{1}},
		Shape: model.NewShapeOutput([]string{"bar"}, []float64{1}),
	}

	// 0.25 * 576 in² * (1 * 2 in) * 0.9 fill * 0.284 lb/in³ * 0.8
	want := 0.25 * 576 * 2 * 0.9 * 0.284 * 0.8
	if got := c.RegionWeight(r, material.Steel); math.Abs(got-want) > 1e-9 {
		t.Errorf("RegionWeight() = %v, want %v", got, want)
	}
}

func TestCombiner_SumsAgreeingRegions(t *testing.T) {
	c := NewCombiner(DefaultCombinerConfig())
	regions := []Region{
		region(model.BBox{0, 0, 0.3, 0.3}, 0.9, 1, "pipe"),
		region(model.BBox{0.5, 0.5, 0.8, 0.8}, 0.8, 1, "pipe"),
	}

	fused := c.Combine(regions, material.Copper)
	if fused.Disagreement {
		t.Fatal("similar regions flagged as disagreeing")
	}
	want := fused.RegionWeights[0] + fused.RegionWeights[1]
	if math.Abs(fused.Ensemble.FinalWeight-want) > 1e-9 {
		t.Errorf("FinalWeight = %v, want sum %v", fused.Ensemble.FinalWeight, want)
	}
	if fused.Chosen != -1 {
		t.Errorf("Chosen = %d, want -1", fused.Chosen)
	}
}

func TestCombiner_DisagreementPrefersBestScore(t *testing.T) {
	c := NewCombiner(DefaultCombinerConfig())
	regions := []Region{
		region(model.BBox{0, 0, 0.9, 0.9}, 0.55, 1.5, "bar"),
		region(model.BBox{0, 0, 0.15, 0.15}, 0.95, 0.2, "can"),
	}

	fused := c.Combine(regions, material.Steel)
	if !fused.Disagreement {
		t.Fatalf("expected disagreement, weights %v", fused.RegionWeights)
	}
	if fused.Chosen != 1 {
		t.Errorf("Chosen = %d, want 1", fused.Chosen)
	}
	if want := math.Max(fused.RegionWeights[1], DefaultCombinerConfig().MinWeight); fused.Ensemble.FinalWeight != want {
		t.Errorf("FinalWeight = %v, want %v", fused.Ensemble.FinalWeight, want)
	}
}

func TestCombiner_Blend(t *testing.T) {
	c := NewCombiner(DefaultCombinerConfig())
	f := Fused{Ensemble: model.EnsembleOutput{FinalWeight: 10}}

	if got := c.Blend(f, 20).Ensemble.FinalWeight; got != 15 {
		t.Errorf("Blend() = %v, want 15", got)
	}
	if got := c.Blend(f, -3).Ensemble.FinalWeight; got != 10 {
		t.Errorf("Blend() with invalid regressor = %v, want 10", got)
	}
}

func TestCombiner_DensityByMaterial(t *testing.T) {
	c := NewCombiner(DefaultCombinerConfig())
	r := region(model.BBox{0, 0, 0.4, 0.4}, 0.9, 1, "sheet")

	if c.RegionWeight(r, material.Aluminum) >= c.RegionWeight(r, material.Copper) {
		t.Error("aluminum should weigh less than copper for the same volume")
	}
}

func TestExpectedFill_Repeatable(t *testing.T) {
	weights := []float64{0.37, 0.91, 0.12, 0.55, 0.08, 0.73, 0.29, 0.64}
	shape := model.NewShapeOutput(model.ShapeLabels, weights)
	shape.Probabilities["slag"] = 0.0001
	shape.Probabilities["rebar"] = 0.0002

	want := expectedFill(shape)
	for i := 0; i < 200; i++ {
		if got := expectedFill(shape); got != want {
			t.Fatalf("call %d = %v, want %v", i, got, want)
		}
	}
}

func TestShapeOrder(t *testing.T) {
	probs := map[string]float64{"zeta": 0.1, "bar": 0.2, "alpha": 0.1, "pipe": 0.6}
	got := shapeOrder(probs)
	want := []string{"pipe", "bar", "alpha", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
