package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bull/rag-builder/internal/registry"
)

// APIError is the body of every error response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError as {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Page is a paginated list response.
type Page[T any] struct {
	Items     []T    `json:"items"`
	NextToken string `json:"next_token,omitempty"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// respondRegistryError maps registry sentinels onto HTTP statuses.
func respondRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, registry.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "invalid_transition", err)
	case errors.Is(err, registry.ErrAlreadyExists):
		respondError(c, http.StatusConflict, "already_exists", err)
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}
