// Package worker provides the HTTP service for incident-cluster.
package worker

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// requestIDKey is the context key for request IDs.
type requestIDKey struct{}

var (
	// ErrAPIKeyNotConfigured is reported when the server has no shared secret.
	ErrAPIKeyNotConfigured = errors.New("API_KEY not configured")

	// ErrUnauthorized is reported when the client secret is missing or wrong.
	ErrUnauthorized = errors.New("Invalid or missing API key")
)

// APIKeyHeader carries the shared secret on protected routes.
const APIKeyHeader = "X-API-Key"

// SecurityHeaders middleware adds essential security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// MaxBodySize middleware limits the size of incoming request bodies.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// trimSecret strips whitespace and any accidental surrounding quote characters.
func trimSecret(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

// APIKeyAuth enforces the shared secret. The secret is fixed for the lifetime
// of the handler. An empty server secret is a configuration error (500), a
// missing or different client secret is an authorization failure (401).
func APIKeyAuth(secret string) func(http.Handler) http.Handler {
	expected := []byte(trimSecret(secret))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				zerolog.Ctx(r.Context()).Error().Msg("Rejecting request: API_KEY is not configured")
				writeError(w, http.StatusInternalServerError, ErrAPIKeyNotConfigured.Error())
				return
			}

			provided := r.Header.Get(APIKeyHeader)
			if provided == "" {
				if bearer, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
					provided = bearer
				}
			}
			provided = trimSecret(provided)

			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestID middleware adds a unique request ID to each request.
// The ID is added to the context and response headers for tracing.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestLogger attaches a request-scoped zerolog logger to the context and
// writes one access log line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := log.With().Str("request_id", GetRequestID(r.Context())).Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		evt := logger.Info()
		if status >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// RequireJSONContentType middleware validates that POST/PUT/PATCH requests
// have application/json Content-Type header.
func RequireJSONContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			// Allow empty Content-Type for requests without body
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
