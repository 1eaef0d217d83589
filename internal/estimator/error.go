package estimator

import (
	"net/http"

	"github.com/Brownie44l1/scrap-api/pkg/response"
)

var (
	ErrInvalidInput   = response.NewError(http.StatusBadRequest, "invalid image input")
	ErrNotInitialized = response.NewError(http.StatusServiceUnavailable, "estimator not initialized")
)
