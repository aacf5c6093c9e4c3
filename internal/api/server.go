package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

const defaultMaxBodyBytes = 1 << 20

// Options holds the handlers mounted beside the JSON API.
type Options struct {
	// Gatherer backs GET /metrics. The endpoint is omitted when nil.
	Gatherer prometheus.Gatherer
	// Stream serves GET /stream. The endpoint is omitted when nil.
	Stream http.Handler
}

// Server is the HTTP front of the scoring pipeline.
type Server struct {
	config  domain.ServerConfig
	handler *Handler
	router  *chi.Mux
	srv     *http.Server
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(cfg domain.ServerConfig, deps Deps, opts Options) *Server {
	s := &Server{config: cfg, handler: NewHandler(deps), router: chi.NewRouter()}
	s.routes(deps.Collectors, opts)
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       seconds(cfg.ReadTimeout),
		WriteTimeout:      seconds(cfg.WriteTimeout),
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(collectors *metrics.Collectors, opts Options) {
	h := s.handler
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware(collectors))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	// The stream resolves its own tenant and must not be compressed.
	if opts.Stream != nil {
		r.Handle("/stream", opts.Stream)
	}

	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(limit))
		r.Use(middleware.Compress(5))
		r.Use(TenantMiddleware)

		r.Route("/score", func(r chi.Router) {
			r.Post("/transaction", h.ScoreTransaction)
			r.Post("/biometric", h.ScoreBiometric)
		})
		r.Route("/ingest", func(r chi.Router) {
			r.Post("/transaction", h.IngestTransaction)
			r.Post("/biometric", h.IngestBiometric)
		})
		r.Route("/results", func(r chi.Router) {
			r.Get("/", h.ListResults)
			r.Get("/{id}", h.GetResult)
			r.Post("/{id}/replay", h.ReplayResult)
		})
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Post("/{id}/acknowledge", h.AcknowledgeAlert)
			r.Post("/{id}/dismiss", h.DismissAlert)
		})
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/reload", h.ReloadRules)
			r.Get("/{id}", h.GetRule)
			r.Delete("/{id}", h.DeleteRule)
		})
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/metrics", h.Metrics)
			r.Get("/historical", h.Historical)
			r.Get("/models", h.Models)
			r.Get("/dashboard", h.Dashboard)
		})
	})
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Serve accepts connections on ln, for callers that bind their own listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Router exposes the handler tree to tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
