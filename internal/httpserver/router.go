package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"shadercomp/internal/handlers"
	"shadercomp/internal/metrics"
	"shadercomp/internal/middleware"
)

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, pipelines *handlers.PipelineHandler) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())               // panic recovery
	r.Use(middleware.Timeout(60 * time.Second)) // compiles are slow but bounded
	r.Use(middleware.MaxBodySize(16 << 20))     // base64 shader payloads

	// routes
	r.Route("/v1/pipelines", func(r chi.Router) {
		r.Post("/graphics", pipelines.BuildGraphics)
		r.Post("/compute", pipelines.BuildCompute)
		r.Post("/statistics", pipelines.Statistics)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
