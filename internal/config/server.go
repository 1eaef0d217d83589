package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/scrap-api/internal/estimator"
	"github.com/Brownie44l1/scrap-api/internal/handlers"
	"github.com/Brownie44l1/scrap-api/internal/middleware"
	"github.com/Brownie44l1/scrap-api/internal/model"
	"github.com/Brownie44l1/scrap-api/pkg/redis"
)

type ServerOption func(*Server) error

type Server struct {
	cfg        *Config
	engine     *fiber.App
	log        *logrus.Logger
	middleware middleware.Middleware
	validator  *validator.Validate
	estimator  *estimator.Service
	cache      redis.ICache
	handlers   []handler
	health     fiber.Handler
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.estimator == nil {
		return nil, fmt.Errorf("estimator is required")
	}

	return server, nil
}

func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) error {
		s.cfg = cfg
		return nil
	}
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithEstimator(svc *estimator.Service) ServerOption {
	return func(s *Server) error {
		s.estimator = svc
		return nil
	}
}

// WithCache enables the Redis prediction cache when REDIS_ADDRESS is set.
func WithCache() ServerOption {
	return func(s *Server) error {
		if s.cfg == nil || s.log == nil {
			return fmt.Errorf("config and logger must be set before cache")
		}
		if s.cfg.RedisAddress == "" {
			s.log.Info("REDIS_ADDRESS not set, prediction cache disabled")
			return nil
		}
		s.cache = redis.New(s.log, redis.Options{
			Address:  s.cfg.RedisAddress,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
			Prefix:   "scrap:",
		})
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil || s.cfg == nil {
			return fmt.Errorf("logger and config must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log, s.cfg.RateLimit, s.cfg.RateBurst)
		return nil
	}
}

// NewEstimator builds the estimation service from cfg. It still has to be
// initialized.
func NewEstimator(cfg *Config, logger *logrus.Logger) *estimator.Service {
	factory := model.NewFactory(logger,
		model.WithOffline(cfg.Offline),
		model.WithRuntimeLibrary(cfg.RuntimeLibrary),
	)

	combiner := estimator.DefaultCombinerConfig()
	combiner.MaxWeight = cfg.MaxWeightLb

	return estimator.NewService(logger, factory,
		estimator.WithModels(model.SpecsFromDir(cfg.ModelsDir,
			model.KindDetection, model.KindDepth, model.KindShape, model.KindWeight)...),
		estimator.WithMinDetectionScore(cfg.MinDetectionScore),
		estimator.WithMaxRegions(cfg.MaxRegions),
		estimator.WithCombiner(combiner),
	)
}

func (s *Server) RegisterHandler() {
	if s.validator == nil {
		s.validator = NewValidator()
	}
	if s.middleware == nil {
		s.middleware = middleware.New(s.log, s.cfg.RateLimit, s.cfg.RateBurst)
	}

	h := handlers.New(s.log, s.validator, s.middleware, s.estimator, s.cache, s.cfg.CacheTTL)
	s.health = h.Health
	s.handlers = append(s.handlers, h)
}

// Initialize loads the models in the background. Until it finishes, /health
// reports "starting" and predictions answer 503.
func (s *Server) Initialize(ctx context.Context) {
	go func() {
		if err := s.estimator.Initialize(ctx); err != nil {
			s.log.WithField("error", err.Error()).Error("Estimator initialization failed")
		}
	}()
}

func (s *Server) Run() error {
	s.engine.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,X-Request-ID",
	}))
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())

	s.engine.Get("/health", s.health)

	router := s.engine.Group("/api/v1")
	for _, h := range s.handlers {
		h.Start(router)
	}

	return s.engine.Listen(fmt.Sprintf(":%s", s.cfg.Port))
}

// Shutdown stops accepting requests, waits for in-flight ones, then releases
// the models and the cache.
func (s *Server) Shutdown(timeout time.Duration) error {
	if err := s.engine.ShutdownWithTimeout(timeout); err != nil {
		s.log.WithField("error", err.Error()).Warn("HTTP shutdown did not finish cleanly")
	}

	// A background Initialize may still be acquiring handles; let it finish so
	// Dispose releases them.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.estimator.Ready():
		if err := s.estimator.Dispose(); err != nil {
			return fmt.Errorf("failed to dispose estimator: %w", err)
		}
	case <-timer.C:
		s.log.Warn("Estimator still initializing at shutdown, model handles not released")
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			return fmt.Errorf("failed to close cache: %w", err)
		}
	}
	return nil
}
