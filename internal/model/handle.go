package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrModelLoad        = errors.New("model load failed")
	ErrInferenceFailure = errors.New("inference failed")
	ErrClosed           = errors.New("model handle closed")
)

// Handle is a loaded model. Close releases backend resources and may be
// called any number of times.
type Handle interface {
	Run(ctx context.Context, input ImageTensor) (*Output, error)
	Metadata() Metadata
	Close() error
}

// InferenceError reports a failed Run. It matches ErrInferenceFailure and the
// underlying cause.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("model %s: inference failed: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() []error {
	return []error{ErrInferenceFailure, e.Err}
}

// SafeRun calls h.Run and turns panics and errors into *InferenceError.
func SafeRun(ctx context.Context, h Handle, input ImageTensor) (out *Output, err error) {
	name := h.Metadata().Name
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &InferenceError{Model: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = h.Run(ctx, input)
	if err != nil {
		var ie *InferenceError
		if !errors.As(err, &ie) {
			err = &InferenceError{Model: name, Err: err}
		}
		return nil, err
	}
	return out, nil
}
