package config

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Brownie44l1/scrap-api/internal/estimator"
	"github.com/Brownie44l1/scrap-api/internal/model"
	"github.com/Brownie44l1/scrap-api/pkg/log"
)

type countingHandle struct {
	*model.StubHandle
	closed *atomic.Int32
}

func (h countingHandle) Close() error {
	h.closed.Add(1)
	return nil
}

func TestServer_ShutdownWaitsForInitialize(t *testing.T) {
	logger := log.Discard()
	var closed atomic.Int32

	factory := model.NewFactory(logger,
		model.WithProbe(func() error { return nil }, nil),
		model.WithLoader(func(spec model.ModelSpec) (model.Handle, error) {
			time.Sleep(100 * time.Millisecond)
			return countingHandle{StubHandle: model.NewStubHandle(spec.Name), closed: &closed}, nil
		}),
	)
	svc := estimator.NewService(logger, factory,
		estimator.WithModels(model.SpecsFromDir(t.TempDir(), model.KindDetection)...))

	cfg := &Config{Port: "0", Env: "test"}
	server, err := NewServer(
		WithConfig(cfg),
		WithFiber(fiber.New()),
		WithLogger(logger),
		WithEstimator(svc),
	)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	server.Initialize(context.Background())
	if err := server.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if got := closed.Load(); got != 1 {
		t.Errorf("native handle closed %d times, want 1", got)
	}
	if svc.Status().Ready {
		t.Error("estimator still ready after Shutdown")
	}
}

func TestNewServer_RequiresEstimator(t *testing.T) {
	_, err := NewServer(
		WithConfig(&Config{Port: "0", Env: "test"}),
		WithFiber(fiber.New()),
		WithLogger(log.Discard()),
	)
	if err == nil {
		t.Fatal("NewServer() without estimator succeeded")
	}
}
