package model

import (
	"context"
	"math"
	"math/rand/v2"
)

const (
	StubVersion = "1.0.0"

	seedOffset   uint64 = 14695981039346656037
	seedPrime    uint64 = 1099511628211
	seedScale           = 10000
	streamGolden uint64 = 0x9E3779B97F4A7C15
)

// Seed reduces a tensor to the stub generator seed. Each element is quantized
// to a fixed-point integer q = round(v * 10000) (0 for NaN and Inf) and folded
// in order as h = (h XOR uint64(q)) * 1099511628211, starting from
// h = 14695981039346656037, with wrapping uint64 arithmetic.
func Seed(data []float32) uint64 {
	h := seedOffset
	for _, v := range data {
		f := float64(v)
		var q int64
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			q = int64(math.Round(f * seedScale))
		}
		h ^= uint64(q)
		h *= seedPrime
	}
	return h
}

// StubHandle synthesizes plausible outputs from the input content alone. The
// same tensor always yields the same output.
type StubHandle struct {
	meta Metadata
}

func NewStubHandle(name string) *StubHandle {
	return &StubHandle{
		meta: Metadata{
			Name:       name,
			IsStub:     true,
			Version:    StubVersion,
			InputShape: append([]int64(nil), InputShape...),
			OutputShapes: map[string][]int64{
				GroupDetection: {1, -1, 4},
				GroupDepth:     {1, -1},
				GroupShape:     {1, int64(len(ShapeLabels))},
				GroupEnsemble:  {1, 1},
			},
		},
	}
}

func (s *StubHandle) Run(_ context.Context, input ImageTensor) (*Output, error) {
	if err := input.Validate(); err != nil {
		return nil, &InferenceError{Model: s.meta.Name, Err: err}
	}
	return Synthesize(Seed(input.Data)), nil
}

func (s *StubHandle) Metadata() Metadata {
	return s.meta
}

func (s *StubHandle) Close() error {
	return nil
}

// Synthesize draws a full output from a PCG generator seeded with
// (seed, seed XOR 0x9E3779B97F4A7C15). Draw order is fixed: detection count,
// then per detection x1, y1, width, height, class, score; then one depth value
// per detection; then one raw weight per shape label; then the final weight.
func Synthesize(seed uint64) *Output {
	r := rand.New(rand.NewPCG(seed, seed^streamGolden))

	n := 1 + r.IntN(3)
	det := &DetectionOutput{
		Boxes:   make([]BBox, 0, n),
		Classes: make([]string, 0, n),
		Scores:  make([]float64, 0, n),
	}
	for i := 0; i < n; i++ {
		x1 := r.Float64() * 0.5
		y1 := r.Float64() * 0.5
		x2 := math.Min(x1+0.2+r.Float64()*0.3, 1)
		y2 := math.Min(y1+0.2+r.Float64()*0.3, 1)
		det.Boxes = append(det.Boxes, BBox{x1, y1, x2, y2})
		det.Classes = append(det.Classes, DetectionLabels[r.IntN(len(DetectionLabels))])
		det.Scores = append(det.Scores, 0.5+r.Float64()*0.49)
	}

	depth := &DepthOutput{Values: make([]float64, n)}
	for i := range depth.Values {
		depth.Values[i] = 0.1 + r.Float64()*1.9
	}

	weights := make([]float64, len(ShapeLabels))
	for i := range weights {
		weights[i] = 0.05 + r.Float64()
	}
	shape := NewShapeOutput(ShapeLabels, weights)

	ensemble := &EnsembleOutput{FinalWeight: 0.5 + r.Float64()*99}

	return &Output{
		Detection: det,
		Depth:     depth,
		Shape:     &shape,
		Ensemble:  ensemble,
	}
}
