package router

import (
	"net/http"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/handler"
	"Mansoor88-6/crash-sentinel-agent/internal/server"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the control API router
type Options struct {
	AllowedOrigins []string
}

// New builds the local control API
func New(sessionHandler *handler.SessionHandler, sensorServer *server.SensorServer, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         3600,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Sensor bridge intake
		r.Post("/motion", sensorServer.HandleMotion)
		r.Post("/location", sensorServer.HandleLocation)

		r.Route("/session", func(r chi.Router) {
			r.Post("/trigger", sessionHandler.Trigger)
			r.Post("/cancel", sessionHandler.Cancel)
			r.Post("/reset", sessionHandler.Reset)
		})

		r.Get("/status", sessionHandler.Status)
		r.Get("/records/latest", sessionHandler.LatestRecord)
		r.Get("/notices", sessionHandler.Notices)
	})

	return r
}

// requestLogger logs each request once it completes. Motion intake runs at
// sensor rate, so it is logged at debug.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log := logger.Info
			if r.URL.Path == "/api/v1/motion" || r.URL.Path == "/metrics" {
				log = logger.Debug
			}
			log("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
