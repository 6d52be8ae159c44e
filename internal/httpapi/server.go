package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/faredeal/accessctl/internal/accessctl/service"
	"github.com/faredeal/accessctl/internal/metrics"
)

type Dependencies struct {
	Logger  *zap.Logger
	Addr    string
	Service *service.AccessControl
	Metrics *metrics.Metrics

	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer

	// JWTSigningKey enables bearer-token actors (HS256, subject claim).
	// Empty means the actor is read from the X-Actor header.
	JWTSigningKey string

	// RateLimitRPS caps mutating requests across all clients. 0 disables.
	RateLimitRPS   int
	RateLimitBurst int
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	svc        *service.AccessControl
	jwtKey     []byte

	// baseCtx is cancelled on Shutdown so long-lived event streams end.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:     logger,
		svc:        d.Service,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	if d.JWTSigningKey != "" {
		s.jwtKey = []byte(d.JWTSigningKey)
	}

	var limiter *rate.Limiter
	if d.RateLimitRPS > 0 {
		burst := d.RateLimitBurst
		if burst <= 0 {
			burst = d.RateLimitRPS
		}
		limiter = rate.NewLimiter(rate.Limit(d.RateLimitRPS), burst)
	}

	r := chi.NewRouter()
	r.Use(recovery(logger))
	r.Use(requestID)
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(logger, next) })
	r.Use(latencyMiddleware(d.Metrics))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/access", func(r chi.Router) {
		r.Use(s.actorMiddleware)

		r.Get("/settings", s.handleSettings)
		r.Get("/entities", s.handleEntities)
		r.Get("/entities/{id}/status", s.handleEntityStatus)
		r.Get("/entities/{id}/check", s.handleEntityCheck)
		r.Get("/audit", s.handleAudit)
		r.Get("/stats", s.handleStats)
		r.Get("/export", s.handleExport)
		r.Get("/ping", s.handlePing)
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(limiter))

			r.Post("/global/toggle", s.handleToggleGlobal)
			r.Put("/entities/{id}", s.handleSetEntity)
			r.Post("/bulk", s.handleBulk)
			r.Post("/import", s.handleImport)
			r.Post("/reset", s.handleReset)
		})
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	return s.httpServer.Shutdown(ctx)
}
