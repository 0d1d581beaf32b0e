// Package middleware provides the HTTP middleware chain of the API server.
package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/ekrata/echomimic-v2/internal/httpkit"
	"github.com/ekrata/echomimic-v2/internal/pkg/errors"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	size        int
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// RequestID propagates or generates an X-Request-ID and stores it in the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := logger.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs one line per request; the level follows the response status.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)
			reqLog := log.FromContext(r.Context())

			reqLog.Debug("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			next.ServeHTTP(wrapped, r)

			logFn := reqLog.Info
			switch {
			case wrapped.status >= 500:
				logFn = reqLog.Error
			case wrapped.status >= 400:
				logFn = reqLog.Warn
			}

			logFn("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"size", wrapped.size,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Recovery turns a handler panic into a 500 envelope.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.FromContext(r.Context()).Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
					)
					httpkit.WriteErr(w, http.StatusInternalServerError,
						string(errors.CodeInternal), "internal server error", nil)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Timeout bounds the request context. Handlers observe the deadline through
// r.Context(); upload routes are mounted outside of it.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ErrorHandlerFunc is a handler that reports failure by returning an error.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request) error

// WrapHandler adapts fn to http.HandlerFunc, rendering returned errors.
func WrapHandler(log *logger.Logger, fn ErrorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			HandleError(w, r, log, err)
		}
	}
}

// HandleError logs err and writes the JSON error envelope.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	reqLog := log.FromContext(r.Context())

	code := errors.GetCode(err)
	status := errors.GetHTTPStatus(err)
	fields := errors.GetFields(err)

	logFields := []any{
		"error", err.Error(),
		"code", string(code),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}
	for k, v := range fields {
		logFields = append(logFields, k, v)
	}

	var appErr *errors.Error
	hasAppErr := errors.As(err, &appErr)

	if status >= 500 {
		if hasAppErr && len(appErr.Stack) > 0 {
			logFields = append(logFields, "stack", appErr.StackTrace())
		}
		reqLog.Error("request failed", logFields...)
	} else {
		reqLog.Warn("request error", logFields...)
	}

	message := "internal server error"
	if hasAppErr && status < 500 {
		message = appErr.Message
	}
	WriteErrorResponse(w, code, message, fields)
}

// WriteErrorResponse writes {"error":{"code","message","details"}} with the
// status that belongs to code.
func WriteErrorResponse(w http.ResponseWriter, code errors.Code, message string, details map[string]any) {
	status := (&errors.Error{Code: code}).HTTPStatus()
	httpkit.WriteErr(w, status, string(code), message, details)
}
