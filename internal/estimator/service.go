package estimator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/scrap-api/internal/imaging"
	"github.com/Brownie44l1/scrap-api/internal/material"
	"github.com/Brownie44l1/scrap-api/internal/model"
	"github.com/Brownie44l1/scrap-api/pkg/log"
)

const (
	DefaultMinDetectionScore = 0.3
	DefaultMaxRegions        = 5
	DefaultParallelism       = 4
)

var (
	requiredKinds = []model.Kind{model.KindDetection, model.KindDepth, model.KindShape}
	allKinds      = []model.Kind{model.KindDetection, model.KindDepth, model.KindShape, model.KindWeight}
)

type lifecycle int

const (
	stateNew lifecycle = iota
	stateInitializing
	stateReady
	stateDisposed
)

type Option func(*Service)

// WithModels sets where each stage's model lives. Stages without a spec run on stubs.
func WithModels(specs ...model.ModelSpec) Option {
	return func(s *Service) {
		s.specs = append(s.specs, specs...)
	}
}

func WithCombiner(cfg CombinerConfig) Option {
	return func(s *Service) {
		s.combiner = NewCombiner(cfg)
	}
}

func WithMinDetectionScore(score float64) Option {
	return func(s *Service) {
		s.minScore = score
	}
}

func WithMaxRegions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRegions = n
		}
	}
}

func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// Service turns images into weight predictions. It owns every model handle
// it acquires. Initialize must finish before predictions are accepted, and
// Dispose must not overlap in-flight predictions.
type Service struct {
	log         *logrus.Logger
	factory     *model.Factory
	specs       []model.ModelSpec
	combiner    *Combiner
	minScore    float64
	maxRegions  int
	parallelism int

	mu       sync.RWMutex
	state    lifecycle
	initDone chan struct{}
	primary  map[model.Kind]model.Handle
	fallback map[model.Kind]model.Handle
	degraded []model.Kind
}

func NewService(log *logrus.Logger, factory *model.Factory, opts ...Option) *Service {
	s := &Service{
		log:         log,
		factory:     factory,
		combiner:    NewCombiner(DefaultCombinerConfig()),
		minScore:    DefaultMinDetectionScore,
		maxRegions:  DefaultMaxRegions,
		parallelism: DefaultParallelism,
		initDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		s.factory = model.NewFactory(log, model.WithOffline(true))
	}
	return s
}

// Initialize acquires a handle per stage, substituting stubs for anything the
// platform cannot load. It runs once; concurrent callers wait for the first.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateReady:
		s.mu.Unlock()
		return nil
	case stateDisposed:
		s.mu.Unlock()
		return fmt.Errorf("%w: service already disposed", ErrNotInitialized)
	case stateInitializing:
		done := s.initDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = stateInitializing
	s.mu.Unlock()

	start := time.Now()
	primary, fallback, degraded := s.acquire(ctx)

	s.mu.Lock()
	s.primary = primary
	s.fallback = fallback
	s.degraded = degraded
	s.state = stateReady
	close(s.initDone)
	s.mu.Unlock()

	fields := logrus.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
		"models":      len(primary),
	}
	if len(degraded) > 0 {
		fields["degraded"] = degraded
		s.log.WithFields(fields).Warn("Estimator running in degraded mode")
	} else {
		s.log.WithFields(fields).Info("Estimator initialized")
	}

	return nil
}

func (s *Service) acquire(ctx context.Context) (map[model.Kind]model.Handle, map[model.Kind]model.Handle, []model.Kind) {
	specs := make(map[model.Kind]model.ModelSpec, len(s.specs))
	for _, spec := range s.specs {
		specs[spec.Kind] = spec
	}

	primary := make(map[model.Kind]model.Handle, len(requiredKinds)+1)
	fallback := make(map[model.Kind]model.Handle, len(requiredKinds))
	var degraded []model.Kind

	for _, kind := range requiredKinds {
		spec, ok := specs[kind]
		if !ok {
			s.log.WithField("kind", kind).Warn("No model configured, using stub")
			primary[kind] = model.NewStubHandle(string(kind))
			degraded = append(degraded, kind)
			continue
		}

		a := s.factory.Acquire(ctx, spec)
		primary[kind] = a.Handle
		if a.Degraded {
			degraded = append(degraded, kind)
		} else {
			fallback[kind] = model.NewStubHandle(a.Handle.Metadata().Name)
		}
	}

	// The weight regressor is optional; a stub of it would only add noise.
	if spec, ok := specs[model.KindWeight]; ok {
		a := s.factory.Acquire(ctx, spec)
		if a.Degraded {
			_ = a.Handle.Close()
			s.log.Info("Weight regressor unavailable, using combiner only")
		} else {
			primary[model.KindWeight] = a.Handle
		}
	}

	return primary, fallback, degraded
}

// Ready is closed once Initialize has completed.
func (s *Service) Ready() <-chan struct{} {
	return s.initDone
}

func (s *Service) snapshot() (*handles, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != stateReady {
		return nil, ErrNotInitialized
	}
	return &handles{primary: s.primary, fallback: s.fallback}, nil
}

// PredictWeightFromImage estimates the weight of the scrap shown in the image
// at path. Only undecodable input and lifecycle misuse produce errors.
func (s *Service) PredictWeightFromImage(ctx context.Context, path string, m material.Material) (PredictionResult, error) {
	h, err := s.snapshot()
	if err != nil {
		return PredictionResult{}, err
	}

	tensor, err := imaging.TensorFromFile(path)
	if err != nil {
		return PredictionResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return s.predict(ctx, h, tensor, m), nil
}

// PredictWeightFromBytes is PredictWeightFromImage for an in-memory image.
func (s *Service) PredictWeightFromBytes(ctx context.Context, data []byte, m material.Material) (PredictionResult, error) {
	h, err := s.snapshot()
	if err != nil {
		return PredictionResult{}, err
	}

	tensor, err := imaging.TensorFromBytes(data)
	if err != nil {
		return PredictionResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return s.predict(ctx, h, tensor, m), nil
}

func (s *Service) predict(ctx context.Context, h *handles, tensor model.ImageTensor, m material.Material) PredictionResult {
	start := time.Now()
	tr := newTrace()

	regions := s.detect(ctx, h, tensor, tr)
	s.describe(ctx, h, tensor, regions, tr)
	fused := s.combiner.Combine(regions, m)

	regressed := false
	if reg, ok := h.primary[model.KindWeight]; ok {
		out, err := model.SafeRun(ctx, reg, tensor)
		if err == nil && out.Ensemble != nil {
			fused = s.combiner.Blend(fused, out.Ensemble.FinalWeight)
			regressed = true
		} else if err != nil {
			log.WithRequestID(ctx, s.log).WithField("error", err.Error()).Warn("Weight regressor failed, using combiner only")
		}
	}

	result := PredictionResult{
		EstimatedWeight: fused.Ensemble.FinalWeight,
		ConfidenceScore: fused.Confidence,
		Method:          tr.method(regressed, fused.Disagreement),
		Regions:         len(regions),
		Degraded:        tr.degraded(),
	}

	log.WithRequestID(ctx, s.log).WithFields(logrus.Fields{
		"material":    m,
		"weight_lb":   result.EstimatedWeight,
		"confidence":  result.ConfidenceScore,
		"method":      result.Method,
		"regions":     result.Regions,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Prediction complete")

	return result
}

// Dispose closes every handle. Calling it again is a no-op; calling it
// before Initialize returns ErrNotInitialized.
func (s *Service) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateDisposed:
		return nil
	case stateReady:
	default:
		return ErrNotInitialized
	}

	var errs []error
	for kind, h := range s.primary {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", kind, err))
		}
	}
	for kind, h := range s.fallback {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s stub: %w", kind, err))
		}
	}
	s.factory.Close()

	s.primary = nil
	s.fallback = nil
	s.state = stateDisposed

	if err := errors.Join(errs...); err != nil {
		s.log.WithField("error", err.Error()).Error("Failed to close some model handles")
		return err
	}
	s.log.Info("Estimator disposed")
	return nil
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Ready:    s.state == stateReady,
		Degraded: make([]string, 0, len(s.degraded)),
		Models:   make([]model.Metadata, 0, len(s.primary)),
	}
	for _, kind := range s.degraded {
		st.Degraded = append(st.Degraded, string(kind))
	}
	for _, kind := range allKinds {
		if h, ok := s.primary[kind]; ok {
			st.Models = append(st.Models, h.Metadata())
		}
	}
	return st
}
