// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints:
// a structured error envelope, consistent JSON serialization, and helpers for
// common HTTP patterns, so both success and failure responses have a uniform,
// machine-friendly shape.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "song request already exists (same title and artist)"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/songsterhq/songster-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// RequestID correlates server logs with client-side errors; Code is one of
// the constants in errors.go; Message is safe to show to users; Detail, when
// present, carries operator-facing diagnostics (missing variable names, the
// store's raw error text) and never the access credential.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	failDetail(c, status, code, msg, "")
}

// failDetail is fail with an extra diagnostic string in the envelope.
//
// Server errors (>=500) are logged with the request-scoped logger so that
// store failures show up in logs with their correlation id.
func failDetail(c *gin.Context, status int, code, msg, detail string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
		Detail:    detail,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Str("detail", detail).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for use by router setup
// (no-route and no-method fallbacks).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
