package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter returns the HTTP surface of the agent.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(app.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	RegisterRoutes(r, app)
	return r
}

func RegisterRoutes(r chi.Router, app *App) {
	r.Get("/healthz", app.healthHandler)
	r.Post("/emails", app.importEmailHandler)
	r.Route("/unsubscribe", func(r chi.Router) {
		r.Post("/", app.unsubscribeHandler)
		r.Post("/bulk", app.bulkHandler)
		r.Post("/retry", app.retryHandler)
		r.Get("/tasks/{emailID}", app.taskStatusHandler)
	})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}
