package estimator

import (
	"math"
	"sort"

	"github.com/Brownie44l1/scrap-api/internal/material"
	"github.com/Brownie44l1/scrap-api/internal/model"
)

// Fraction of a shape's bounding volume that is solid metal.
var fillFactors = map[string]float64{
	"pipe":    0.35,
	"sheet":   0.15,
	"bar":     0.90,
	"wire":    0.25,
	"can":     0.08,
	"fixture": 0.50,
	"casting": 0.70,
	"other":   0.50,
}

const defaultFill = 0.5

type CombinerConfig struct {
	// FrameAreaSqIn is the real-world area a full frame is assumed to cover.
	FrameAreaSqIn float64
	// DepthScaleIn converts one unit of depth signal into inches of thickness.
	DepthScaleIn float64
	MinDepth     float64
	MinWeight    float64
	MaxWeight    float64
	// DisagreementThreshold is the relative spread (max-min)/max of region
	// weights above which only the most confident region is trusted.
	DisagreementThreshold float64
	MinConfidence         float64
}

func DefaultCombinerConfig() CombinerConfig {
	return CombinerConfig{
		FrameAreaSqIn:         576,
		DepthScaleIn:          2.0,
		MinDepth:              0.05,
		MinWeight:             0.1,
		MaxWeight:             500,
		DisagreementThreshold: 0.6,
		MinConfidence:         0.05,
	}
}

// Region carries every signal gathered for one detected object.
type Region struct {
	Box   model.BBox
	Class string
	Score float64
	Depth model.DepthOutput
	Shape model.ShapeOutput
}

// Fused is the combiner's verdict for a whole image.
type Fused struct {
	Ensemble      model.EnsembleOutput
	Confidence    float64
	RegionWeights []float64
	Disagreement  bool
	// Chosen is the index of the region used alone on disagreement, -1 otherwise.
	Chosen int
}

type Combiner struct {
	cfg CombinerConfig
}

func NewCombiner(cfg CombinerConfig) *Combiner {
	return &Combiner{cfg: cfg}
}

// RegionWeight estimates pounds of material in r:
//
//	volume = max(area, 0.01) * FrameAreaSqIn * max(depth, MinDepth) * DepthScaleIn
//	weight = volume * fill(shape distribution) * density(material) * score
func (c *Combiner) RegionWeight(r Region, m material.Material) float64 {
	area := math.Max(r.Box.Area(), 0.01)
	thickness := math.Max(r.Depth.Signal(), c.cfg.MinDepth) * c.cfg.DepthScaleIn
	volume := area * c.cfg.FrameAreaSqIn * thickness

	return volume * expectedFill(r.Shape) * m.Density() * clamp01(r.Score)
}

// expectedFill sums in label order so the result is bit-for-bit repeatable.
func expectedFill(s model.ShapeOutput) float64 {
	if len(s.Probabilities) == 0 {
		return defaultFill
	}

	var fill, total float64
	for _, label := range shapeOrder(s.Probabilities) {
		p := s.Probabilities[label]
		f, ok := fillFactors[label]
		if !ok {
			f = defaultFill
		}
		fill += p * f
		total += p
	}
	if total <= 0 {
		return defaultFill
	}
	return fill / total
}

// shapeOrder lists the known shape labels first, then any others sorted.
func shapeOrder(probs map[string]float64) []string {
	order := make([]string, 0, len(probs))
	known := make(map[string]bool, len(model.ShapeLabels))
	for _, label := range model.ShapeLabels {
		known[label] = true
		if _, ok := probs[label]; ok {
			order = append(order, label)
		}
	}

	var extra []string
	for label := range probs {
		if !known[label] {
			extra = append(extra, label)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// Combine fuses all regions into one weight. Region weights are summed unless
// they disagree, in which case the highest-scoring region wins.
func (c *Combiner) Combine(regions []Region, m material.Material) Fused {
	fused := Fused{Chosen: -1}
	if len(regions) == 0 {
		fused.Ensemble.FinalWeight = c.cfg.MinWeight
		fused.Confidence = c.cfg.MinConfidence
		return fused
	}

	fused.RegionWeights = make([]float64, len(regions))
	var sum, lo, hi float64
	lo = math.Inf(1)
	for i, r := range regions {
		w := c.RegionWeight(r, m)
		fused.RegionWeights[i] = w
		sum += w
		lo = math.Min(lo, w)
		hi = math.Max(hi, w)
	}

	total := sum
	if len(regions) > 1 && hi > 0 && (hi-lo)/hi > c.cfg.DisagreementThreshold {
		best := 0
		for i, r := range regions {
			if r.Score > regions[best].Score {
				best = i
			}
		}
		fused.Disagreement = true
		fused.Chosen = best
		total = fused.RegionWeights[best]
	}

	fused.Ensemble.FinalWeight = c.clampWeight(total)
	fused.Confidence = c.Confidence(regions)
	return fused
}

// Blend averages the combined estimate with a regression model's weight.
func (c *Combiner) Blend(f Fused, regressed float64) Fused {
	if regressed <= 0 || math.IsNaN(regressed) || math.IsInf(regressed, 0) {
		return f
	}
	f.Ensemble.FinalWeight = c.clampWeight((f.Ensemble.FinalWeight + regressed) / 2)
	return f
}

func (c *Combiner) clampWeight(w float64) float64 {
	if math.IsNaN(w) {
		return c.cfg.MinWeight
	}
	return math.Min(math.Max(w, c.cfg.MinWeight), c.cfg.MaxWeight)
}

// Confidence is 0.5*mean score + 0.3*normalized shape peak + 0.2*depth
// stability, clipped to [0,1] and floored at MinConfidence. It never drops
// when a single region's score rises.
func (c *Combiner) Confidence(regions []Region) float64 {
	if len(regions) == 0 {
		return c.cfg.MinConfidence
	}

	var scoreSum, peakSum float64
	depths := make([]float64, len(regions))
	for i, r := range regions {
		scoreSum += clamp01(r.Score)
		peakSum += normalizedPeak(r.Shape)
		depths[i] = r.Depth.Signal()
	}
	n := float64(len(regions))

	conf := 0.5*(scoreSum/n) + 0.3*(peakSum/n) + 0.2*depthStability(depths)
	return math.Max(clamp01(conf), c.cfg.MinConfidence)
}

// normalizedPeak maps the predicted-shape probability from [1/K, 1] onto [0, 1].
func normalizedPeak(s model.ShapeOutput) float64 {
	k := float64(len(s.Probabilities))
	if k <= 1 {
		return clamp01(s.Peak())
	}
	return clamp01((s.Peak() - 1/k) / (1 - 1/k))
}

// depthStability is 1/(1+cv) over the region depth signals; 0 without any depth.
func depthStability(depths []float64) float64 {
	var mean float64
	for _, d := range depths {
		mean += d
	}
	mean /= float64(len(depths))
	if mean <= 0 {
		return 0
	}

	var variance float64
	for _, d := range depths {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(depths))

	return 1 / (1 + math.Sqrt(variance)/mean)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
