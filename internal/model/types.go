package model

import (
	"fmt"
	"math"
	"sort"
)

const (
	InputHeight   = 224
	InputWidth    = 224
	InputChannels = 3
)

// InputShape is the NHWC shape every handle receives.
var InputShape = []int64{1, InputHeight, InputWidth, InputChannels}

// Kind names the pipeline stage a model serves.
type Kind string

const (
	KindDetection Kind = "detection"
	KindDepth     Kind = "depth"
	KindShape     Kind = "shape"
	KindWeight    Kind = "weight"
)

// Output group keys.
const (
	GroupDetection = "detection"
	GroupDepth     = "depth"
	GroupShape     = "shape"
	GroupEnsemble  = "ensemble"
)

var (
	// DetectionLabels are the classes the detector is trained on.
	DetectionLabels = []string{"scrap_metal", "ferrous", "non_ferrous", "wire_bundle", "debris"}

	// ShapeLabels are the shape families the shape classifier knows.
	ShapeLabels = []string{"pipe", "sheet", "bar", "wire", "can", "fixture", "casting", "other"}
)

// Metadata describes a model handle. It is not modified after the handle is built.
type Metadata struct {
	Name         string             `json:"name"`
	IsStub       bool               `json:"stub"`
	Version      string             `json:"version"`
	InputShape   []int64            `json:"input_shape"`
	OutputShapes map[string][]int64 `json:"output_shapes"`
	Labels       []string           `json:"labels,omitempty"`
	Hash         string             `json:"hash,omitempty"`
}

// ImageTensor is a decoded image in NHWC layout with values in [0,1].
type ImageTensor struct {
	Shape [4]int
	Data  []float32
}

func NewImageTensor() ImageTensor {
	return ImageTensor{
		Shape: [4]int{1, InputHeight, InputWidth, InputChannels},
		Data:  make([]float32, InputHeight*InputWidth*InputChannels),
	}
}

func (t ImageTensor) Validate() error {
	want := [4]int{1, InputHeight, InputWidth, InputChannels}
	if t.Shape != want {
		return fmt.Errorf("tensor shape %v, expected %v", t.Shape, want)
	}
	if len(t.Data) != InputHeight*InputWidth*InputChannels {
		return fmt.Errorf("tensor holds %d values, expected %d", len(t.Data), InputHeight*InputWidth*InputChannels)
	}
	return nil
}

func (t ImageTensor) at(y, x, c int) float32 {
	return t.Data[(y*InputWidth+x)*InputChannels+c]
}

// Crop resamples the region of t covered by box back to the full input size
// using nearest-neighbour sampling.
func (t ImageTensor) Crop(box BBox) ImageTensor {
	box = box.Clamp()
	out := NewImageTensor()

	x0 := box[0] * InputWidth
	y0 := box[1] * InputHeight
	w := math.Max(box.Width()*InputWidth, 1)
	h := math.Max(box.Height()*InputHeight, 1)

	for y := 0; y < InputHeight; y++ {
		sy := int(y0 + (float64(y)+0.5)*h/InputHeight)
		sy = min(max(sy, 0), InputHeight-1)
		for x := 0; x < InputWidth; x++ {
			sx := int(x0 + (float64(x)+0.5)*w/InputWidth)
			sx = min(max(sx, 0), InputWidth-1)
			for c := 0; c < InputChannels; c++ {
				out.Data[(y*InputWidth+x)*InputChannels+c] = t.at(sy, sx, c)
			}
		}
	}

	return out
}

// CHW returns the tensor data transposed to planar channel order, the layout
// models exported from PyTorch expect.
func (t ImageTensor) CHW() []float32 {
	plane := InputHeight * InputWidth
	out := make([]float32, len(t.Data))
	for i := 0; i < plane; i++ {
		for c := 0; c < InputChannels; c++ {
			out[c*plane+i] = t.Data[i*InputChannels+c]
		}
	}
	return out
}

// BBox is a box in normalized image coordinates: x1, y1, x2, y2.
type BBox [4]float64

// WholeImage covers the full frame.
var WholeImage = BBox{0, 0, 1, 1}

func (b BBox) Width() float64  { return math.Max(b[2]-b[0], 0) }
func (b BBox) Height() float64 { return math.Max(b[3]-b[1], 0) }
func (b BBox) Area() float64   { return b.Width() * b.Height() }

func (b BBox) Clamp() BBox {
	for i := range b {
		b[i] = math.Min(math.Max(b[i], 0), 1)
	}
	if b[2] < b[0] {
		b[0], b[2] = b[2], b[0]
	}
	if b[3] < b[1] {
		b[1], b[3] = b[3], b[1]
	}
	return b
}

type DetectionOutput struct {
	Boxes   []BBox    `json:"bboxes"`
	Classes []string  `json:"classes"`
	Scores  []float64 `json:"scores"`
}

func (d DetectionOutput) Len() int { return len(d.Scores) }

func (d DetectionOutput) Validate() error {
	if len(d.Boxes) != len(d.Classes) || len(d.Classes) != len(d.Scores) {
		return fmt.Errorf("detection lengths differ: %d boxes, %d classes, %d scores",
			len(d.Boxes), len(d.Classes), len(d.Scores))
	}
	for i, s := range d.Scores {
		if s < 0 || s > 1 || math.IsNaN(s) {
			return fmt.Errorf("detection %d score %v outside [0,1]", i, s)
		}
	}
	return nil
}

// DepthOutput is the depth signal for one region. Values are non-negative.
type DepthOutput struct {
	Values []float64 `json:"values"`
}

// Signal reduces the depth values to their mean.
func (d DepthOutput) Signal() float64 {
	if len(d.Values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range d.Values {
		sum += v
	}
	return sum / float64(len(d.Values))
}

type ShapeOutput struct {
	Probabilities  map[string]float64 `json:"shape_probabilities"`
	PredictedShape string             `json:"predicted_shape"`
}

// NewShapeOutput normalizes weights into a distribution over labels. Ties for
// the predicted shape go to the earlier label.
func NewShapeOutput(labels []string, weights []float64) ShapeOutput {
	var sum float64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum == 0 || len(weights) != len(labels) {
		return UniformShape(labels)
	}

	probs := make(map[string]float64, len(labels))
	best, bestP := "", -1.0
	for i, label := range labels {
		p := math.Max(weights[i], 0) / sum
		probs[label] = p
		if p > bestP {
			best, bestP = label, p
		}
	}

	return ShapeOutput{Probabilities: probs, PredictedShape: best}
}

// UniformShape is the neutral distribution used when no classification is available.
func UniformShape(labels []string) ShapeOutput {
	if len(labels) == 0 {
		labels = ShapeLabels
	}
	probs := make(map[string]float64, len(labels))
	for _, label := range labels {
		probs[label] = 1 / float64(len(labels))
	}
	return ShapeOutput{Probabilities: probs, PredictedShape: labels[0]}
}

// Peak is the probability of the predicted shape.
func (s ShapeOutput) Peak() float64 {
	return s.Probabilities[s.PredictedShape]
}

type EnsembleOutput struct {
	FinalWeight float64 `json:"final_weight"`
}

// Output is the structured result of a single inference call. Native handles
// fill the group matching their kind; stubs fill all four.
type Output struct {
	Detection *DetectionOutput `json:"detection,omitempty"`
	Depth     *DepthOutput     `json:"depth,omitempty"`
	Shape     *ShapeOutput     `json:"shape,omitempty"`
	Ensemble  *EnsembleOutput  `json:"ensemble,omitempty"`
}

// Groups lists the populated output groups in sorted order.
func (o *Output) Groups() []string {
	var groups []string
	if o == nil {
		return groups
	}
	if o.Detection != nil {
		groups = append(groups, GroupDetection)
	}
	if o.Depth != nil {
		groups = append(groups, GroupDepth)
	}
	if o.Shape != nil {
		groups = append(groups, GroupShape)
	}
	if o.Ensemble != nil {
		groups = append(groups, GroupEnsemble)
	}
	sort.Strings(groups)
	return groups
}

// Has reports whether the group serving kind is populated.
func (o *Output) Has(kind Kind) bool {
	if o == nil {
		return false
	}
	switch kind {
	case KindDetection:
		return o.Detection != nil
	case KindDepth:
		return o.Depth != nil
	case KindShape:
		return o.Shape != nil
	case KindWeight:
		return o.Ensemble != nil
	}
	return false
}
