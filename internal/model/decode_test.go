package model

import (
	"math"
	"testing"
)

func TestDecodeDetection(t *testing.T) {
	raw := map[string][]float32{
		"boxes":   {0.1, 0.1, 0.5, 0.5, 22.4, 22.4, 112, 224},
		"scores":  {0.9, 1.4},
		"classes": {1, 17},
	}

	out, err := decodeOutputs(KindDetection, raw, decodeSpec{order: []string{"boxes", "scores", "classes"}})
	if err != nil {
		t.Fatalf("decodeOutputs() error = %v", err)
	}
	det := out.Detection
	if err := det.Validate(); err != nil {
		t.Fatalf("decoded detection invalid: %v", err)
	}
	if det.Len() != 2 {
		t.Fatalf("Len() = %d", det.Len())
	}
	if det.Classes[0] != DetectionLabels[1] {
		t.Errorf("class 0 = %q", det.Classes[0])
	}
	if det.Classes[1] != DetectionLabels[0] {
		t.Errorf("out of range class should map to first label, got %q", det.Classes[1])
	}
	if det.Scores[1] != 1 {
		t.Errorf("score should clamp to 1, got %v", det.Scores[1])
	}
	if got := det.Boxes[1]; math.Abs(got[0]-0.1) > 1e-6 || math.Abs(got[2]-0.5) > 1e-6 || got[3] != 1 {
		t.Errorf("pixel box not normalized: %v", got)
	}
}

func TestDecodeDetection_BoxFormat(t *testing.T) {
	tests := []struct {
		name   string
		format BoxFormat
		box    []float32
		want   BBox
	}{
		{"auto keeps slight overshoot", BoxAuto, []float32{0.2, 0.3, 1.0001, 0.9}, BBox{0.2, 0.3, 1, 0.9}},
		{"auto detects pixels", BoxAuto, []float32{22.4, 44.8, 112, 224}, BBox{0.1, 0.2, 0.5, 1}},
		{"declared normalized", BoxNormalized, []float32{0.1, 0.1, 1.8, 0.5}, BBox{0.1, 0.1, 1, 0.5}},
		{"declared pixels", BoxPixels, []float32{0, 0, 1.12, 2.24}, BBox{0, 0, 0.005, 0.01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string][]float32{"boxes": tt.box, "scores": {0.8}, "classes": {0}}
			out, err := decodeOutputs(KindDetection, raw, decodeSpec{boxFormat: tt.format})
			if err != nil {
				t.Fatalf("decodeOutputs() error = %v", err)
			}
			got := out.Detection.Boxes[0]
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-6 {
					t.Fatalf("box = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDecodeDetection_Mismatch(t *testing.T) {
	raw := map[string][]float32{
		"boxes":   {0.1, 0.1, 0.5},
		"scores":  {0.9},
		"classes": {0},
	}
	if _, err := decodeOutputs(KindDetection, raw, decodeSpec{}); err == nil {
		t.Fatal("expected error for short box tensor")
	}
}

func TestDecodeShape(t *testing.T) {
	tests := []struct {
		name      string
		values    []float32
		predicted string
		wantErr   bool
	}{
		{"distribution kept", []float32{0.1, 0.7, 0.2}, "sheet", false},
		{"logits softmaxed", []float32{-1, 0.5, 3}, "bar", false},
		{"wrong length", []float32{0.5, 0.5}, "", true},
	}

	labels := []string{"pipe", "sheet", "bar"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := decodeOutputs(KindShape, map[string][]float32{"logits": tt.values}, decodeSpec{order: []string{"logits"}, labels: labels})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if out.Shape.PredictedShape != tt.predicted {
				t.Errorf("PredictedShape = %q, want %q", out.Shape.PredictedShape, tt.predicted)
			}
		})
	}
}

func TestDecodeDepth_ClampsNegatives(t *testing.T) {
	out, err := decodeOutputs(KindDepth, map[string][]float32{"depth": {-1, 0.5, float32(math.Inf(1))}}, decodeSpec{order: []string{"depth"}})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	want := []float64{0, 0.5, 0}
	for i, v := range out.Depth.Values {
		if v != want[i] {
			t.Errorf("value %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestDecodeWeight(t *testing.T) {
	if _, err := decodeOutputs(KindWeight, map[string][]float32{"weight": {-2}}, decodeSpec{order: []string{"weight"}}); err == nil {
		t.Error("expected error for negative weight")
	}

	out, err := decodeOutputs(KindWeight, map[string][]float32{"weight": {12.5}}, decodeSpec{order: []string{"weight"}})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if out.Ensemble.FinalWeight != 12.5 {
		t.Errorf("FinalWeight = %v", out.Ensemble.FinalWeight)
	}
}
