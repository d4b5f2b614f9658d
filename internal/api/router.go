package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/tradiehq/integrations/internal/config"
	"github.com/tradiehq/integrations/internal/tokens"
)

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, manager *tokens.Manager) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// The exchange path talks to the external provider; keep it behind a
	// tighter per-IP budget than token reads.
	exchangeLimiter := NewRateLimiter(rate.Limit(1), 5)
	exchangeLimiter.CleanupOldLimiters()
	tokenLimiter := NewRateLimiter(rate.Limit(10), 30)
	tokenLimiter.CleanupOldLimiters()

	// API routes
	r.Route("/api/integrations/servicem8", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(exchangeLimiter))
			r.Get("/authorize", HandleAuthorize(manager))
			r.Post("/exchange", HandleExchange(manager))
		})

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(tokenLimiter))
			r.Post("/token", HandleGetActiveToken(manager))
			r.Get("/status", HandleGetStatus(manager))
			r.Post("/disconnect", HandleDisconnect(manager))
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
