package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	apihttp "videomonitoring/internal/api/http"
	"videomonitoring/internal/auth"
	"videomonitoring/internal/logger"
)

// Registrar mounts a bounded context's routes.
type Registrar interface {
	Register(r chi.Router)
}

// IngestRegistrar mounts routes served to signed ingest clients.
type IngestRegistrar interface {
	RegisterIngest(r chi.Router)
}

// Options configures the HTTP surface.
type Options struct {
	Logger         *zap.Logger
	AllowedOrigins []string
	JWTSecret      []byte
	IngestSecret   []byte
	IngestMaxSkew  time.Duration
	Ingest         IngestRegistrar
	API            []Registrar
	Stream         http.Handler
	Health         func(ctx context.Context) error
}

// NewRouter builds the chi router for every operator, ingest and ops route.
func NewRouter(opts Options) *chi.Mux {
	log := logger.OrNop(opts.Logger)
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apihttp.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		Debug:            false,
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				log.Warn("health check failed", zap.Error(err))
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	if opts.Ingest != nil {
		ingestAuth := auth.NewIngestAuthMiddleware(opts.IngestSecret, opts.IngestMaxSkew)
		r.Route("/ingest", func(r chi.Router) {
			r.Use(ingestAuth.Wrap)
			opts.Ingest.RegisterIngest(r)
		})
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware(opts.JWTSecret, policy)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware.Wrap)
		if opts.Stream != nil {
			r.Method(http.MethodGet, "/stream", opts.Stream)
		}
		for _, reg := range opts.API {
			if reg != nil {
				reg.Register(r)
			}
		}
	})
	return r
}
