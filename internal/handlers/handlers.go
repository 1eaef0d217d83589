package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/scrap-api/internal/estimator"
	"github.com/Brownie44l1/scrap-api/internal/material"
	"github.com/Brownie44l1/scrap-api/internal/middleware"
	"github.com/Brownie44l1/scrap-api/internal/valuation"
	"github.com/Brownie44l1/scrap-api/pkg/handlerUtil"
	"github.com/Brownie44l1/scrap-api/pkg/log"
	"github.com/Brownie44l1/scrap-api/pkg/redis"
	"github.com/Brownie44l1/scrap-api/pkg/response"
)

const predictTimeout = 30 * time.Second

var (
	ErrMissingImage = response.NewError(http.StatusBadRequest, "no image file provided, use 'image' as the form field name")
	ErrReadImage    = response.NewError(http.StatusBadRequest, "failed to read uploaded image")
)

// Estimator is the part of the estimation service the HTTP layer uses.
type Estimator interface {
	PredictWeightFromBytes(ctx context.Context, data []byte, m material.Material) (estimator.PredictionResult, error)
	Status() estimator.Status
}

type Handler struct {
	log        *logrus.Logger
	validator  *validator.Validate
	middleware middleware.Middleware
	estimator  Estimator
	cache      redis.ICache
	cacheTTL   time.Duration
	timeout    time.Duration
}

// New builds the handler. cache may be nil to disable result caching.
func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	est Estimator,
	cache redis.ICache,
	cacheTTL time.Duration,
) *Handler {
	return &Handler{
		log:        log,
		validator:  validator,
		middleware: middleware,
		estimator:  est,
		cache:      cache,
		cacheTTL:   cacheTTL,
		timeout:    predictTimeout,
	}
}

func (h *Handler) Start(srv fiber.Router) {
	srv.Get("/materials", h.Materials)
	srv.Post("/valuation", h.Valuation)

	srv.Post("/predict/image", h.middleware.NewRateLimiter, h.PredictFromImage)
	srv.Post("/estimate", h.middleware.NewRateLimiter, h.Estimate)
}

func (h *Handler) Health(ctx *fiber.Ctx) error {
	st := h.estimator.Status()

	status := "healthy"
	code := fiber.StatusOK
	switch {
	case !st.Ready:
		status = "starting"
		code = fiber.StatusServiceUnavailable
	case len(st.Degraded) > 0:
		status = "degraded"
	}

	return ctx.Status(code).JSON(HealthResponse{
		Status:   status,
		Ready:    st.Ready,
		Degraded: st.Degraded,
		Models:   st.Models,
	})
}

func (h *Handler) PredictFromImage(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	errHandler := handlerUtil.New(h.log)

	prediction, _, err := h.predict(ctx, requestID)
	if errors.Is(err, context.DeadlineExceeded) {
		return errHandler.HandleRequestTimeout(ctx)
	}
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "predict_image")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, prediction)
}

func (h *Handler) Estimate(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	errHandler := handlerUtil.New(h.log)

	prediction, cached, err := h.predict(ctx, requestID)
	if errors.Is(err, context.DeadlineExceeded) {
		return errHandler.HandleRequestTimeout(ctx)
	}
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "estimate")
	}

	m := material.Parse(ctx.FormValue("material"))
	estimation := valuation.Estimate(prediction, m)

	h.log.WithFields(log.Fields{
		log.RequestIDKey: requestID,
		"material":       m,
		"weight_lb":      estimation.Weight,
		"total_value":    estimation.TotalValue,
		"cached":         cached,
	}).Info("Estimation complete")

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, EstimateResponse{
		Prediction: prediction,
		Estimation: estimation,
		Cached:     cached,
	})
}

// predict reads the uploaded image and runs it through the estimator,
// consulting the cache first. The cache is only used once the estimator is
// ready, so lifecycle errors surface even when a result is cached.
func (h *Handler) predict(ctx *fiber.Ctx, requestID string) (estimator.PredictionResult, bool, error) {
	if !h.estimator.Status().Ready {
		return estimator.PredictionResult{}, false, estimator.ErrNotInitialized
	}

	c, cancel := context.WithTimeout(log.ContextWithRequestID(ctx.UserContext(), requestID), h.timeout)
	defer cancel()

	data, err := h.readImage(ctx)
	if err != nil {
		return estimator.PredictionResult{}, false, err
	}

	m := material.Parse(ctx.FormValue("material"))
	key := cacheKey(data, m)

	var result estimator.PredictionResult
	if h.cache != nil {
		hit, err := h.cache.Get(c, key, &result)
		if err != nil {
			h.log.WithFields(log.Fields{
				log.RequestIDKey: requestID,
				"error":          err.Error(),
			}).Warn("Prediction cache unavailable")
		} else if hit {
			return result, true, nil
		}
	}

	result, err = h.estimator.PredictWeightFromBytes(c, data, m)
	if err != nil {
		return estimator.PredictionResult{}, false, err
	}
	if err := c.Err(); err != nil {
		return estimator.PredictionResult{}, false, fmt.Errorf("prediction abandoned: %w", err)
	}

	if h.cache != nil {
		if err := h.cache.Set(c, key, result, h.cacheTTL); err != nil {
			h.log.WithFields(log.Fields{
				log.RequestIDKey: requestID,
				"error":          err.Error(),
			}).Warn("Failed to cache prediction")
		}
	}

	return result, false, nil
}

func (h *Handler) readImage(ctx *fiber.Ctx) ([]byte, error) {
	file, err := ctx.FormFile("image")
	if err != nil {
		return nil, ErrMissingImage
	}

	f, err := file.Open()
	if err != nil {
		return nil, ErrReadImage
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ErrReadImage
	}

	h.log.WithFields(log.Fields{
		"file_name": file.Filename,
		"file_size": file.Size,
	}).Debug("Received image")

	return data, nil
}

func cacheKey(data []byte, m material.Material) string {
	sum := sha256.Sum256(data)
	return "prediction:" + hex.EncodeToString(sum[:]) + ":" + m.String()
}

func (h *Handler) Materials(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"materials": valuation.PriceTable()})
}

func (h *Handler) Valuation(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	errHandler := handlerUtil.New(h.log)

	var req ValuationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, valuation.Value(req.Weight, material.Parse(req.Material)))
}
