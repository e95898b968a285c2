package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/auth"
)

// NewRouter wires the HTTP routes
func NewRouter(h *Handler, verifier *auth.Verifier, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger.Named("http")))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/ranking", h.Leaderboard)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)

		r.Route("/api/order", func(r chi.Router) {
			r.Get("/non-trading", h.ListOrders)
			r.Delete("/non-trading/{id}", h.CancelOrder)
			r.Get("/my-coin", h.MyCoins)
			r.Post("/swap", h.Swap)
			r.Get("/completion", h.Completions)
			r.Get("/completion/{code}", h.RecentCompletions)
			r.Post("/{code}", h.PlaceOrder)
		})
		r.Get("/api/balance", h.Balance)
		r.Post("/api/balance/deposit", h.Deposit)
	})

	return r
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
