// Package http serves the saldo JSON API.
//
// This file implements a small builder for JSON responses and the mapping
// from domain errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/middleware/trace"
	"saldo/internal/services"
)

const contentTypeJSON = "application/json; charset=utf-8"

// ResponseBuilder provides a fluent API for building JSON responses.
type ResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A body that fails to encode turns into a 500.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(data, '\n'))
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorResponse creates a standard {"error": message} response.
func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).JSON(errorBody{Error: message})
}

func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func ForbiddenError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusForbidden, message)
}

func UnprocessableEntityError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

func TooManyRequestsError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, message)
}

func ServiceUnavailableError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, message)
}

// InternalServerError never carries error details; those go to the log.
func InternalServerError() *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal server error")
}

// writeError maps err to a status code and writes it. Unexpected errors are
// logged with the request logger and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var resp *ResponseBuilder
	switch {
	case isInvalidInput(err):
		resp = BadRequestError(err.Error())
	case errors.Is(err, core.ErrNotFound):
		resp = NotFoundError("not found")
	case errors.Is(err, core.ErrUnauthorized):
		resp = ForbiddenError("account does not belong to user")
	case errors.Is(err, core.ErrBaseCurrencyRequired):
		resp = UnprocessableEntityError(err.Error())
	case errors.Is(err, services.ErrQueueUnavailable):
		resp = ServiceUnavailableError(err.Error())
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
		resp = InternalServerError()
	}
	if body, ok := resp.body.(errorBody); ok {
		body.RequestID = trace.GetRequestID(r.Context())
		resp.body = body
	}
	resp.Write(w)
}

func isInvalidInput(err error) bool {
	for _, target := range []error{
		core.ErrInvalidInput,
		core.ErrInvalidUserID,
		core.ErrInvalidAccountID,
		core.ErrInvalidAmount,
		core.ErrInvalidRange,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
