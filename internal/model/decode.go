package model

import (
	"fmt"
	"math"
)

// BoxFormat says how a detector reports box coordinates.
type BoxFormat string

const (
	// BoxAuto treats boxes as pixels when any coordinate exceeds
	// pixelBoxThreshold, so slight overshoot of normalized boxes survives.
	BoxAuto       BoxFormat = ""
	BoxNormalized BoxFormat = "normalized"
	BoxPixels     BoxFormat = "pixels"
)

const pixelBoxThreshold = 2

// decodeSpec carries what a handle knows about its outputs.
type decodeSpec struct {
	order     []string
	labels    []string
	boxFormat BoxFormat
}

func decodeOutputs(kind Kind, raw map[string][]float32, spec decodeSpec) (*Output, error) {
	order, labels := spec.order, spec.labels
	switch kind {
	case KindDetection:
		det, err := decodeDetection(raw, labels, spec.boxFormat)
		if err != nil {
			return nil, err
		}
		return &Output{Detection: det}, nil
	case KindDepth:
		depth, err := decodeDepth(pick(raw, order, "depth"))
		if err != nil {
			return nil, err
		}
		return &Output{Depth: depth}, nil
	case KindShape:
		shape, err := decodeShape(pick(raw, order, "probabilities"), labels)
		if err != nil {
			return nil, err
		}
		return &Output{Shape: shape}, nil
	case KindWeight:
		ens, err := decodeWeight(pick(raw, order, "weight"))
		if err != nil {
			return nil, err
		}
		return &Output{Ensemble: ens}, nil
	}
	return nil, fmt.Errorf("unknown model kind %q", kind)
}

// pick returns the named output, or the first declared output when the
// model uses a different name.
func pick(raw map[string][]float32, order []string, name string) []float32 {
	if v, ok := raw[name]; ok {
		return v
	}
	if len(order) > 0 {
		return raw[order[0]]
	}
	return nil
}

// decodeDetection expects boxes [1,N,4], scores [1,N] and classes [1,N].
// Boxes given in pixels are normalized against the input size.
func decodeDetection(raw map[string][]float32, labels []string, format BoxFormat) (*DetectionOutput, error) {
	boxes, scores, classes := raw["boxes"], raw["scores"], raw["classes"]
	if boxes == nil || scores == nil || classes == nil {
		return nil, fmt.Errorf("detection model must expose boxes, scores and classes")
	}

	n := len(scores)
	if len(boxes) < 4*n || len(classes) < n {
		return nil, fmt.Errorf("detection outputs disagree: %d box values, %d classes, %d scores",
			len(boxes), len(classes), n)
	}
	if len(labels) == 0 {
		labels = DetectionLabels
	}

	det := &DetectionOutput{
		Boxes:   make([]BBox, 0, n),
		Classes: make([]string, 0, n),
		Scores:  make([]float64, 0, n),
	}
	for i := 0; i < n; i++ {
		s := float64(scores[i])
		if math.IsNaN(s) {
			continue
		}

		var box BBox
		pixels := format == BoxPixels
		for j := 0; j < 4; j++ {
			box[j] = float64(boxes[4*i+j])
			if format == BoxAuto && box[j] > pixelBoxThreshold {
				pixels = true
			}
		}
		if pixels {
			box[0] /= InputWidth
			box[2] /= InputWidth
			box[1] /= InputHeight
			box[3] /= InputHeight
		}

		class := labels[0]
		if idx := int(math.Round(float64(classes[i]))); idx >= 0 && idx < len(labels) {
			class = labels[idx]
		}

		det.Boxes = append(det.Boxes, box.Clamp())
		det.Classes = append(det.Classes, class)
		det.Scores = append(det.Scores, math.Min(math.Max(s, 0), 1))
	}

	return det, nil
}

func decodeDepth(values []float32) (*DepthOutput, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("depth model returned no values")
	}

	out := &DepthOutput{Values: make([]float64, 0, len(values))}
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			f = 0
		}
		out.Values = append(out.Values, f)
	}
	return out, nil
}

// decodeShape maps class scores onto labels. Scores that do not already form
// a distribution are passed through a softmax.
func decodeShape(values []float32, labels []string) (*ShapeOutput, error) {
	if len(labels) == 0 {
		labels = ShapeLabels
	}
	if len(values) != len(labels) {
		return nil, fmt.Errorf("shape model returned %d scores for %d labels", len(values), len(labels))
	}

	weights := make([]float64, len(values))
	var sum float64
	distribution := true
	for i, v := range values {
		weights[i] = float64(v)
		if math.IsNaN(weights[i]) || math.IsInf(weights[i], 0) {
			return nil, fmt.Errorf("shape score %d is not finite", i)
		}
		if weights[i] < 0 {
			distribution = false
		}
		sum += weights[i]
	}
	if math.Abs(sum-1) > 1e-3 {
		distribution = false
	}

	if !distribution {
		weights = softmax(weights)
	}

	shape := NewShapeOutput(labels, weights)
	return &shape, nil
}

func decodeWeight(values []float32) (*EnsembleOutput, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("weight model returned no values")
	}
	w := float64(values[0])
	if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
		return nil, fmt.Errorf("weight model returned %v", w)
	}
	return &EnsembleOutput{FinalWeight: w}, nil
}

func softmax(x []float64) []float64 {
	maxV := math.Inf(-1)
	for _, v := range x {
		maxV = math.Max(maxV, v)
	}

	out := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
