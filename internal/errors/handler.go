package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/render"

	"halocore/internal/infrastructure"
	"halocore/internal/license"
)

// Problem types following RFC 7807.
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeUnauthorized = "/errors/unauthorized"
	TypeForbidden    = "/errors/forbidden"
	TypeConflict     = "/errors/conflict"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
	TypeServiceDown  = "/errors/service-unavailable"
	TypeTimeout      = "/errors/timeout"
)

// License-domain problem types.
const (
	TypeLicenseNotFound  = "/errors/license/not-found"
	TypeLicenseRevoked   = "/errors/license/revoked"
	TypeLicenseSuspended = "/errors/license/suspended"
	TypeLicenseExpired   = "/errors/license/expired"
	TypeDeviceConflict   = "/errors/license/device-conflict"
	TypeDeviceMismatch   = "/errors/license/device-mismatch"
	TypeLifecycle        = "/errors/license/lifecycle"
)

// ErrorHandler converts errors into RFC 7807 responses and logs them.
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler. includeStack attaches stack
// traces to responses and is for development only.
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	traceID := infrastructure.GetTraceID(r.Context())

	h.logger.ErrorContext(r.Context(), "request failed",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", traceID)

	if h.includeStack {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// ErrorToProblem maps an error onto RFC 7807 Problem Details. Domain
// sentinels carry the contract's status codes: unknown keys are 404, a
// taken device slot is 409, dead or foreign licenses are 403.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	switch {
	case errors.Is(err, license.ErrNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeLicenseNotFound,
			"License Not Found",
			"No license matches the provided key",
			r.URL.Path,
		)

	case errors.Is(err, license.ErrDeviceConflict):
		return NewProblemDetails(
			http.StatusConflict,
			TypeDeviceConflict,
			"License In Use",
			"This license is already activated on another device. Deactivate it there first.",
			r.URL.Path,
		)

	case errors.Is(err, license.ErrDeviceMismatch):
		return NewProblemDetails(
			http.StatusForbidden,
			TypeDeviceMismatch,
			"Device Not Recognized",
			"This license is bound to a different device",
			r.URL.Path,
		)

	case errors.Is(err, license.ErrNotOwner):
		return NewProblemDetails(
			http.StatusForbidden,
			TypeForbidden,
			"Not The Owner",
			"The presented license key does not belong to this email",
			r.URL.Path,
		)

	case errors.Is(err, license.ErrRevoked):
		return NewProblemDetails(
			http.StatusForbidden,
			TypeLicenseRevoked,
			"License Revoked",
			"This license has been revoked and can no longer be used",
			r.URL.Path,
		)

	case errors.Is(err, license.ErrSuspended):
		return NewProblemDetails(
			http.StatusForbidden,
			TypeLicenseSuspended,
			"License Suspended",
			"This license is suspended. Check your subscription status.",
			r.URL.Path,
		)

	case errors.Is(err, license.ErrExpired):
		return NewProblemDetails(
			http.StatusForbidden,
			TypeLicenseExpired,
			"License Expired",
			"This license has expired. Renew your subscription to continue.",
			r.URL.Path,
		)

	case errors.Is(err, license.ErrAlreadySuspended),
		errors.Is(err, license.ErrAlreadyRevoked),
		errors.Is(err, license.ErrNotSuspended),
		errors.Is(err, license.ErrDuplicateKey):
		return NewProblemDetails(
			http.StatusConflict,
			TypeLifecycle,
			"Invalid Lifecycle Transition",
			err.Error(),
			r.URL.Path,
		)

	case errors.Is(err, license.ErrInvalidPersonality),
		errors.Is(err, license.ErrInvalidKeyFormat):
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Validation Failed",
			err.Error(),
			r.URL.Path,
		)

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request",
			r.URL.Path,
		)
	}
}

// apiErrorToProblem converts APIError to ProblemDetails.
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "VALIDATION_FAILED", "INVALID_REQUEST":
		problemType = TypeValidation
	case "NOT_FOUND":
		problemType = TypeNotFound
	case "UNAUTHORIZED", "INVALID_SIGNATURE":
		problemType = TypeUnauthorized
	case "FORBIDDEN":
		problemType = TypeForbidden
	case "CONFLICT":
		problemType = TypeConflict
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}

	return problem
}

// HandlePanic recovers from panics and returns an RFC 7807 error.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	traceID := infrastructure.GetTraceID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", traceID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error.
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeInternal,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

	render.Render(w, r, problem)
}

// getStackTrace returns the current stack trace.
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
