// Package httpapi assembles the HTTP surface under /api/v1.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"bookmanager/internal/access"
	"bookmanager/internal/web"
)

// Routes is implemented by every domain handler.
type Routes interface {
	Routes(r chi.Router)
}

// PublicRoutes is implemented by handlers with endpoints that need no token.
type PublicRoutes interface {
	PublicRoutes(r chi.Router)
}

type Config struct {
	Tokens  *access.Tokens
	Logger  *slog.Logger
	Metrics interface {
		Middleware(http.Handler) http.Handler
		Handler() http.Handler
	}
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(r *http.Request) error
}

// NewRouter mounts public handlers and token-protected handlers.
func NewRouter(cfg Config, public []PublicRoutes, protected []Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(req); err != nil {
				cfg.Logger.WarnContext(req.Context(), "health check failed", "error", err)
				web.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		web.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		for _, h := range public {
			h.PublicRoutes(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(authenticate(cfg.Tokens, cfg.Logger))
			for _, h := range protected {
				h.Routes(r)
			}
		})
	})
	return r
}

// requestID fills in X-Request-Id before chi reads it, so ids are UUIDs
// rather than host-prefixed counters.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(middleware.RequestIDHeader) == "" {
			r.Header.Set(middleware.RequestIDHeader, uuid.NewString())
		}
		w.Header().Set(middleware.RequestIDHeader, r.Header.Get(middleware.RequestIDHeader))
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"latency_ms", time.Since(start).Milliseconds(),
				"req_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func authenticate(tokens *access.Tokens, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := tokens.Parse(r.Header.Get("Authorization"))
			if err != nil {
				web.Error(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), p)))
		})
	}
}
