package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	ort "github.com/yalue/onnxruntime_go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sidecar is the JSON file shipped next to every .onnx model.
type sidecar struct {
	Name       string       `json:"name"`
	Version    string       `json:"version"`
	InputName  string       `json:"input_name"`
	InputShape []int64      `json:"input_shape"`
	Outputs    []outputSpec `json:"outputs"`
	Labels     []string     `json:"labels"`
	BoxFormat  BoxFormat    `json:"box_format"`
}

type outputSpec struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
}

func readSidecar(path string) (*sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if sc.InputName == "" {
		sc.InputName = "input"
	}
	if len(sc.InputShape) == 0 {
		sc.InputShape = append([]int64(nil), InputShape...)
	}
	if len(sc.Outputs) == 0 {
		return nil, fmt.Errorf("metadata %s declares no outputs", path)
	}
	if !planar(sc.InputShape) && !interleaved(sc.InputShape) {
		return nil, fmt.Errorf("unsupported input shape %v", sc.InputShape)
	}
	switch sc.BoxFormat {
	case BoxAuto, BoxNormalized, BoxPixels:
	default:
		return nil, fmt.Errorf("unsupported box_format %q", sc.BoxFormat)
	}

	return &sc, nil
}

func planar(shape []int64) bool {
	return len(shape) == 4 && shape[1] == InputChannels && shape[2] == InputHeight && shape[3] == InputWidth
}

func interleaved(shape []int64) bool {
	return len(shape) == 4 && shape[1] == InputHeight && shape[2] == InputWidth && shape[3] == InputChannels
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OnnxHandle runs one model through an ONNX Runtime session bound to
// preallocated tensors. Runs are serialized because the bound tensors are shared.
type OnnxHandle struct {
	kind         Kind
	meta         Metadata
	planar       bool
	outputNames  []string
	outputShapes map[string][]int64
	boxFormat    BoxFormat

	mu           sync.Mutex
	closed       bool
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor []*ort.Tensor[float32]
}

// NewOnnxHandle loads modelPath described by the sidecar at metadataPath. The
// ONNX Runtime environment must already be initialized.
func NewOnnxHandle(kind Kind, modelPath, metadataPath string) (*OnnxHandle, error) {
	sc, err := readSidecar(metadataPath)
	if err != nil {
		return nil, err
	}

	hash, err := fileHash(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	h := &OnnxHandle{
		kind:         kind,
		planar:       planar(sc.InputShape),
		boxFormat:    sc.BoxFormat,
		outputShapes: make(map[string][]int64, len(sc.Outputs)),
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(sc.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	h.inputTensor = inputTensor

	outputs := make([]ort.ArbitraryTensor, 0, len(sc.Outputs))
	for _, spec := range sc.Outputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
		if err != nil {
			h.destroy()
			return nil, fmt.Errorf("failed to create output tensor %s: %w", spec.Name, err)
		}
		h.outputTensor = append(h.outputTensor, t)
		h.outputNames = append(h.outputNames, spec.Name)
		h.outputShapes[spec.Name] = spec.Shape
		outputs = append(outputs, t)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{sc.InputName}, h.outputNames,
		[]ort.ArbitraryTensor{inputTensor}, outputs,
		nil)
	if err != nil {
		h.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	h.session = session

	name := sc.Name
	if name == "" {
		name = string(kind)
	}
	h.meta = Metadata{
		Name:         name,
		IsStub:       false,
		Version:      sc.Version,
		InputShape:   sc.InputShape,
		OutputShapes: h.outputShapes,
		Labels:       sc.Labels,
		Hash:         hash,
	}

	return h, nil
}

func (h *OnnxHandle) Run(ctx context.Context, input ImageTensor) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Model: h.meta.Name, Err: err}
	}
	if err := input.Validate(); err != nil {
		return nil, &InferenceError{Model: h.meta.Name, Err: err}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, &InferenceError{Model: h.meta.Name, Err: ErrClosed}
	}

	if h.planar {
		copy(h.inputTensor.GetData(), input.CHW())
	} else {
		copy(h.inputTensor.GetData(), input.Data)
	}

	if err := h.session.Run(); err != nil {
		return nil, &InferenceError{Model: h.meta.Name, Err: err}
	}

	raw := make(map[string][]float32, len(h.outputNames))
	for i, name := range h.outputNames {
		raw[name] = append([]float32(nil), h.outputTensor[i].GetData()...)
	}

	out, err := decodeOutputs(h.kind, raw, decodeSpec{
		order:     h.outputNames,
		labels:    h.meta.Labels,
		boxFormat: h.boxFormat,
	})
	if err != nil {
		return nil, &InferenceError{Model: h.meta.Name, Err: err}
	}
	return out, nil
}

func (h *OnnxHandle) Metadata() Metadata {
	return h.meta
}

func (h *OnnxHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.destroy()
	return nil
}

func (h *OnnxHandle) destroy() {
	if h.session != nil {
		h.session.Destroy()
		h.session = nil
	}
	if h.inputTensor != nil {
		h.inputTensor.Destroy()
		h.inputTensor = nil
	}
	for _, t := range h.outputTensor {
		t.Destroy()
	}
	h.outputTensor = nil
}

var runtimeState struct {
	sync.Mutex
	refs int
}

// AcquireRuntime initializes the process-wide ONNX Runtime environment on the
// first call. Every successful call must be paired with ReleaseRuntime.
func AcquireRuntime(libPath string) error {
	runtimeState.Lock()
	defer runtimeState.Unlock()

	if runtimeState.refs == 0 {
		if libPath != "" {
			if _, err := os.Stat(libPath); err != nil {
				return fmt.Errorf("onnxruntime library: %w", err)
			}
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	runtimeState.refs++
	return nil
}

func ReleaseRuntime() {
	runtimeState.Lock()
	defer runtimeState.Unlock()

	if runtimeState.refs == 0 {
		return
	}
	runtimeState.refs--
	if runtimeState.refs == 0 {
		ort.DestroyEnvironment()
	}
}
