package router

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/recovery"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request with its status and latency. Server
// errors are logged at warn level, everything else at debug.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			// the path may carry a confirmation token
			path := r.URL.Path
			if r.Pattern != "" {
				path = r.Pattern
			}
			log := logger.Debugw
			if status >= http.StatusInternalServerError {
				log = logger.Warnw
			}
			log("http request",
				"method", r.Method,
				"route", path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets the response headers of a JSON-only API that
// handles credentials.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			// verification and reset links carry tokens
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handlers groups the endpoint handlers mounted by RegisterRoutes.
type Handlers struct {
	User     *user.Handler
	Recovery *recovery.Handler
	// Session guards endpoints that act on the signed-in user.
	Session func(http.Handler) http.Handler
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, h Handlers) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	// registration and sign-in
	mux.HandleFunc("POST /api/v1/auth/register", h.User.Register)
	mux.HandleFunc("GET /api/v1/auth/verification/{token}", h.User.VerifyEmail)
	mux.HandleFunc("POST /api/v1/auth/login", h.User.Login)

	// recovery
	mux.HandleFunc("POST /api/v1/auth/forgot-password", h.Recovery.ForgotPassword)
	mux.HandleFunc("PATCH /api/v1/auth/reset-password", h.Recovery.ResetPassword)
	mux.Handle("PATCH /api/v1/auth/update-password", h.Session(http.HandlerFunc(h.Recovery.UpdatePassword)))
	mux.Handle("POST /api/v1/auth/otp", h.Session(http.HandlerFunc(h.Recovery.RequestOTP)))

	// wrap with security headers middleware then logging middleware
	handler := LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
	return handler
}
