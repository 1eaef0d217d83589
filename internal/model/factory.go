package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ModelSpec locates one model on disk.
type ModelSpec struct {
	Kind         Kind
	Name         string
	Path         string
	MetadataPath string
}

// SpecsFromDir returns the conventional layout: <dir>/<kind>.onnx with a
// <dir>/<kind>.json sidecar.
func SpecsFromDir(dir string, kinds ...Kind) []ModelSpec {
	specs := make([]ModelSpec, 0, len(kinds))
	for _, kind := range kinds {
		specs = append(specs, ModelSpec{
			Kind:         kind,
			Name:         string(kind),
			Path:         filepath.Join(dir, string(kind)+".onnx"),
			MetadataPath: filepath.Join(dir, string(kind)+".json"),
		})
	}
	return specs
}

// Loader builds a native handle for spec.
type Loader func(spec ModelSpec) (Handle, error)

// Acquisition is the result of Factory.Acquire. Handle is always usable; when
// Degraded is set it is a stub and Err says why the native load failed.
type Acquisition struct {
	Handle   Handle
	Degraded bool
	Err      error
}

type FactoryOption func(*Factory)

// WithOffline skips the native backend entirely.
func WithOffline(offline bool) FactoryOption {
	return func(f *Factory) {
		f.offline = offline
	}
}

// WithRuntimeLibrary points the probe at a specific onnxruntime shared library.
func WithRuntimeLibrary(path string) FactoryOption {
	return func(f *Factory) {
		f.libPath = path
	}
}

func WithLoader(load Loader) FactoryOption {
	return func(f *Factory) {
		f.load = load
	}
}

// WithProbe replaces the runtime capability probe. release runs on Close
// when probe succeeded.
func WithProbe(probe func() error, release func()) FactoryOption {
	return func(f *Factory) {
		f.probe = probe
		f.release = release
	}
}

// Factory picks native or stub handles based on what the running platform supports.
type Factory struct {
	log     *logrus.Logger
	offline bool
	libPath string
	load    Loader
	probe   func() error
	release func()

	mu       sync.Mutex
	probed   bool
	probeErr error
	closed   bool
}

func NewFactory(log *logrus.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{log: log}
	for _, opt := range opts {
		opt(f)
	}

	if f.probe == nil {
		f.probe = func() error { return AcquireRuntime(f.libPath) }
		f.release = ReleaseRuntime
	}
	if f.load == nil {
		f.load = loadOnnx
	}
	return f
}

func loadOnnx(spec ModelSpec) (Handle, error) {
	for _, p := range []string{spec.Path, spec.MetadataPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
	}
	return NewOnnxHandle(spec.Kind, spec.Path, spec.MetadataPath)
}

// Probe reports whether native inference is available. The check runs once.
func (f *Factory) Probe() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.offline {
		return fmt.Errorf("%w: offline mode", ErrModelLoad)
	}
	if f.closed {
		return fmt.Errorf("%w: factory closed", ErrModelLoad)
	}
	if !f.probed {
		f.probed = true
		if err := callProbe(f.probe); err != nil {
			f.probeErr = fmt.Errorf("%w: runtime unavailable: %v", ErrModelLoad, err)
		}
	}
	return f.probeErr
}

func callProbe(probe func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return probe()
}

// Acquire returns a native handle for spec, or a stub named after it when the
// runtime is missing or the model cannot be loaded.
func (f *Factory) Acquire(ctx context.Context, spec ModelSpec) Acquisition {
	name := spec.Name
	if name == "" {
		name = string(spec.Kind)
	}

	err := ctx.Err()
	if err == nil {
		err = f.Probe()
	}
	if err == nil {
		var h Handle
		h, err = f.safeLoad(spec)
		if err == nil && h == nil {
			err = fmt.Errorf("loader returned no handle")
		}
		if err == nil {
			f.log.WithFields(logrus.Fields{
				"model":   h.Metadata().Name,
				"kind":    spec.Kind,
				"version": h.Metadata().Version,
			}).Info("Loaded native model")
			return Acquisition{Handle: h}
		}
		if !errors.Is(err, ErrModelLoad) {
			err = fmt.Errorf("%w: %s: %v", ErrModelLoad, name, err)
		}
	}

	f.log.WithFields(logrus.Fields{
		"model": name,
		"kind":  spec.Kind,
		"error": err.Error(),
	}).Warn("Native model unavailable, using stub")

	return Acquisition{Handle: NewStubHandle(name), Degraded: true, Err: err}
}

func (f *Factory) safeLoad(spec ModelSpec) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = fmt.Errorf("%w: %s: loader panicked: %v", ErrModelLoad, spec.Name, r)
		}
	}()
	return f.load(spec)
}

// Close releases the runtime reference taken by a successful probe.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	if f.probed && f.probeErr == nil && f.release != nil {
		f.release()
	}
}
