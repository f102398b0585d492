package common

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// APIResponse is the standardized JSON response envelope.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError contains error details in the response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Success sends a successful JSON response with data.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, APIResponse{
		Success: true,
		Data:    data,
	})
}

// Error sends an error JSON response.
func Error(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    statusCode,
			Message: message,
		},
	})
}

// ErrorWithData sends an error JSON response that still carries a payload,
// used when a partially processed request has details worth returning.
func ErrorWithData(c *gin.Context, statusCode int, message string, data any) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Data:    data,
		Error: &APIError{
			Code:    statusCode,
			Message: message,
		},
	})
}

// HandleError inspects a domain error and sends the appropriate HTTP response.
// Uses errors.As to traverse the full error chain, supporting wrapped errors.
func HandleError(c *gin.Context, err error) {
	HandleErrorWithData(c, err, nil)
}

// HandleErrorWithData is HandleError with a payload kept in the envelope.
func HandleErrorWithData(c *gin.Context, err error, data any) {
	var notFound *NotFoundError
	var validation *ValidationError
	var unauthorized *UnauthorizedError
	var provider *ProviderError
	var limited *RateLimitError

	switch {
	case errors.As(err, &notFound):
		ErrorWithData(c, http.StatusNotFound, notFound.Error(), data)
	case errors.As(err, &validation):
		ErrorWithData(c, http.StatusBadRequest, validation.Error(), data)
	case errors.As(err, &unauthorized):
		ErrorWithData(c, http.StatusUnauthorized, unauthorized.Error(), data)
	case errors.As(err, &limited):
		if limited.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(limited.RetryAfter))
		}
		ErrorWithData(c, http.StatusTooManyRequests, limited.Error(), data)
	case errors.As(err, &provider):
		ErrorWithData(c, http.StatusBadGateway, "notification delivery failed", data)
	default:
		ErrorWithData(c, http.StatusInternalServerError, "internal server error", data)
	}
}
