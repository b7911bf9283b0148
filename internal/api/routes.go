package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"whisp.share/config"
	"whisp.share/internal/lifecycle"
	"whisp.share/web"
)

func SetupRouter(m *lifecycle.Manager, cfg *config.Config, logger *zap.Logger) *chi.Mux {
	h := NewHandler(m, cfg, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(CORS(CORSConfig{
		AllowedOrigins: []string{cfg.Server.BaseURL},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	// Health
	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Multipart overhead on top of the payload cap.
		r.Use(MaxBody(cfg.Storage.MaxPayloadSize + 64*1024))

		if cfg.RateLimit.Enabled {
			createLimiter := NewRateLimiter(cfg.RateLimit.CreatePerMin, time.Minute)
			revealLimiter := NewRateLimiter(cfg.RateLimit.RevealPerMin, time.Minute)

			r.Route("/whisps", func(r chi.Router) {
				r.With(createLimiter.Middleware).Post("/", h.CreateWhisp)
				r.With(revealLimiter.Middleware).Get("/{id}", h.RevealWhisp)
				r.With(revealLimiter.Middleware).Get("/{id}/file", h.RevealWhisp)
			})
		} else {
			r.Route("/whisps", func(r chi.Router) {
				r.Post("/", h.CreateWhisp)
				r.Get("/{id}", h.RevealWhisp)
				r.Get("/{id}/file", h.RevealWhisp)
			})
		}
	})

	// Frontend
	r.Get("/", h.Index)
	r.Get("/reveal", h.RevealPage)
	r.Get("/s/{id}", h.RevealPage)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(web.StaticFS())))

	return r
}
