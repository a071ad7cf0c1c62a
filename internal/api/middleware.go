package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/booking"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	identityKey  contextKey = "identity"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and request ID
func LoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		})
	}
}

// IdentityMiddleware reads the identity asserted by the fronting auth
// layer. Requests without X-Identity-Id are anonymous.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Identity-Id"); id != "" {
			who := booking.Identity{
				ID:    id,
				Name:  r.Header.Get("X-Identity-Name"),
				Email: r.Header.Get("X-Identity-Email"),
				Phone: r.Header.Get("X-Identity-Phone"),
			}
			r = r.WithContext(context.WithValue(r.Context(), identityKey, who))
		}
		next.ServeHTTP(w, r)
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestIdentity is the booking.IdentityProvider for one HTTP request.
// Sign-in happens outside this service, so Authenticate cannot wait.
type requestIdentity struct{}

func (requestIdentity) Current(ctx context.Context) (booking.Identity, bool) {
	who, ok := ctx.Value(identityKey).(booking.Identity)
	return who, ok
}

func (r requestIdentity) Authenticate(ctx context.Context) (booking.Identity, error) {
	if who, ok := r.Current(ctx); ok {
		return who, nil
	}
	return booking.Identity{}, booking.ErrIdentityRequired
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
