package estimator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/scrap-api/internal/model"
	"github.com/Brownie44l1/scrap-api/pkg/log"
)

// ImplicitRegionScore is the detection score given to the whole-image region
// used when nothing was detected.
const ImplicitRegionScore = 0.25

type path int

const (
	pathNative path = iota
	pathStub
	pathDefault
)

func (p path) String() string {
	switch p {
	case pathNative:
		return "native"
	case pathStub:
		return "stub"
	}
	return "default"
}

// trace records the worst path each stage took during one prediction.
type trace struct {
	mu       sync.Mutex
	stages   map[model.Kind]path
	implicit bool
}

func newTrace() *trace {
	return &trace{stages: make(map[model.Kind]path, 3)}
}

func (t *trace) record(kind model.Kind, p path) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.stages[kind]; !ok || p > cur {
		t.stages[kind] = p
	}
}

func (t *trace) degraded() bool {
	for _, p := range t.stages {
		if p != pathNative {
			return true
		}
	}
	return false
}

func (t *trace) method(regressor, disagreement bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ensemble(detection=%s,depth=%s,shape=%s)",
		t.stages[model.KindDetection], t.stages[model.KindDepth], t.stages[model.KindShape])
	if regressor {
		b.WriteString(";regressor")
	}
	if t.implicit {
		b.WriteString(";implicit_region")
	}
	if disagreement {
		b.WriteString(";disagreement")
	}
	return b.String()
}

type handles struct {
	primary  map[model.Kind]model.Handle
	fallback map[model.Kind]model.Handle
}

// runStage tries the native handle for kind, then its stub. A nil output
// means both failed and the caller applies the stage default.
func (s *Service) runStage(ctx context.Context, h *handles, kind model.Kind, input model.ImageTensor) (*model.Output, path) {
	primary := h.primary[kind]
	stub := h.fallback[kind]

	if primary != nil && !primary.Metadata().IsStub {
		out, err := model.SafeRun(ctx, primary, input)
		if err == nil && out.Has(kind) {
			return out, pathNative
		}
		if err == nil {
			err = fmt.Errorf("%w: %s output missing", model.ErrInferenceFailure, kind)
		}
		log.WithRequestID(ctx, s.log).WithFields(logrus.Fields{
			"stage": kind,
			"model": primary.Metadata().Name,
			"error": err.Error(),
		}).Warn("Native inference failed, falling back to stub")
	} else if stub == nil {
		stub = primary
	}

	if stub != nil {
		out, err := model.SafeRun(ctx, stub, input)
		if err == nil && out.Has(kind) {
			return out, pathStub
		}
		if err == nil {
			err = fmt.Errorf("%w: %s output missing", model.ErrInferenceFailure, kind)
		}
		log.WithRequestID(ctx, s.log).WithFields(logrus.Fields{
			"stage": kind,
			"error": err.Error(),
		}).Error("Stub inference failed, using stage default")
	}

	return nil, pathDefault
}

// detect returns the regions worth estimating, best score first. It always
// returns at least one region.
func (s *Service) detect(ctx context.Context, h *handles, input model.ImageTensor, tr *trace) []Region {
	out, p := s.runStage(ctx, h, model.KindDetection, input)
	tr.record(model.KindDetection, p)

	var regions []Region
	if out != nil {
		det := out.Detection
		if err := det.Validate(); err != nil {
			log.WithRequestID(ctx, s.log).WithField("error", err.Error()).Warn("Discarding malformed detection output")
		} else {
			for i, score := range det.Scores {
				if score < s.minScore || det.Boxes[i].Area() <= 0 {
					continue
				}
				regions = append(regions, Region{
					Box:   det.Boxes[i].Clamp(),
					Class: det.Classes[i],
					Score: score,
				})
			}
		}
	}

	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Score > regions[j].Score
	})
	if len(regions) > s.maxRegions {
		regions = regions[:s.maxRegions]
	}

	if len(regions) == 0 {
		tr.implicit = true
		regions = []Region{{
			Box:   model.WholeImage,
			Class: model.DetectionLabels[0],
			Score: ImplicitRegionScore,
		}}
	}

	return regions
}

// describe fills depth and shape for every region, running regions in parallel.
func (s *Service) describe(ctx context.Context, h *handles, input model.ImageTensor, regions []Region, tr *trace) {
	var g errgroup.Group
	g.SetLimit(s.parallelism)

	for i := range regions {
		g.Go(func() error {
			crop := input.Crop(regions[i].Box)
			regions[i].Depth = s.depth(ctx, h, crop, tr)
			regions[i].Shape = s.shape(ctx, h, crop, tr)
			return nil
		})
	}

	_ = g.Wait()
}

// depth defaults to a zero signal.
func (s *Service) depth(ctx context.Context, h *handles, crop model.ImageTensor, tr *trace) model.DepthOutput {
	out, p := s.runStage(ctx, h, model.KindDepth, crop)
	tr.record(model.KindDepth, p)
	if out == nil {
		return model.DepthOutput{Values: []float64{0}}
	}
	return *out.Depth
}

// shape defaults to a uniform distribution.
func (s *Service) shape(ctx context.Context, h *handles, crop model.ImageTensor, tr *trace) model.ShapeOutput {
	out, p := s.runStage(ctx, h, model.KindShape, crop)
	tr.record(model.KindShape, p)
	if out == nil {
		return model.UniformShape(model.ShapeLabels)
	}
	return *out.Shape
}
