package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/httputil"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/presence"
)

// Ingestor accepts captured rows. analytics.EventTracker writes them to
// PostgreSQL; stream.KafkaSink publishes them.
type Ingestor interface {
	RecordVisit(ctx context.Context, visit analytics.VisitRecord) error
	RecordInteraction(ctx context.Context, event analytics.InteractionEvent) error
	RecordInteractions(ctx context.Context, events []analytics.InteractionEvent) error
}

// Summaries serves the dashboard aggregates
type Summaries interface {
	VisitorSummary(ctx context.Context, days int) (analytics.VisitorSummary, error)
	InteractionSummary(ctx context.Context, days int) (analytics.InteractionSummary, error)
}

// ActiveSource is the local view of who is online
type ActiveSource interface {
	Active() presence.ActiveSet
}

// ClusterSource is the cluster-wide view of who is online
type ClusterSource interface {
	LoadActive(ctx context.Context, observerKey string) (presence.ActiveSet, error)
}

// Options wires the server. Only Ingest and Summaries are required.
type Options struct {
	Ingest      Ingestor
	Summaries   Summaries
	Observer    ActiveSource
	Cluster     ClusterSource
	ObserverKey string
	Realtime    http.Handler
	// IngestLimit wraps the ingest routes, typically middleware.RateLimit
	IngestLimit func(http.Handler) http.Handler
	Health      *observability.HealthChecker
	Registry    *prometheus.Registry

	VisitorDays     int
	InteractionDays int

	CORSOrigins  []string
	MaxBodyBytes int64
	Tracing      bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the beacon HTTP API
type Server struct {
	opts   Options
	router *mux.Router
	logger *observability.Logger
}

// NewServer creates the server and registers its routes
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.VisitorDays <= 0 {
		opts.VisitorDays = 30
	}
	if opts.InteractionDays <= 0 {
		opts.InteractionDays = 7
	}
	if opts.ObserverKey == "" {
		opts.ObserverKey = presence.DefaultObserverKey
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

// APIPrefix is the versioned path every API route lives under
const APIPrefix = "/api/v1"

// setupRoutes keeps every route on the root router so a method mismatch
// reaches MethodNotAllowedHandler
func (s *Server) setupRoutes() {
	if s.opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics, routeTemplate))
	}

	r := s.router

	r.Handle(APIPrefix+"/visits", s.ingestRoute(s.recordVisit)).Methods(http.MethodPost)
	r.Handle(APIPrefix+"/events", s.ingestRoute(s.recordEvent)).Methods(http.MethodPost)
	r.Handle(APIPrefix+"/events/batch", s.ingestRoute(s.recordEvents)).Methods(http.MethodPost)
	r.Handle(APIPrefix+"/events/click", s.ingestRoute(s.recordClick)).Methods(http.MethodPost)

	r.HandleFunc(APIPrefix+"/analytics/visitors", s.visitorSummary).Methods(http.MethodGet)
	r.HandleFunc(APIPrefix+"/analytics/interactions", s.interactionSummary).Methods(http.MethodGet)

	r.HandleFunc(APIPrefix+"/presence/active", s.activePresence).Methods(http.MethodGet)
	if s.opts.Realtime != nil {
		r.Handle(APIPrefix+"/realtime/online-users", s.opts.Realtime).Methods(http.MethodGet)
	}

	if s.opts.Health != nil {
		s.router.HandleFunc("/health/live", s.opts.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.opts.Health.Readiness).Methods(http.MethodGet)
	}
	if s.opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.opts.Registry)).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (s *Server) ingestRoute(fn http.HandlerFunc) http.Handler {
	if s.opts.IngestLimit == nil {
		return fn
	}
	return s.opts.IngestLimit(fn)
}

// Router returns the bare router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router behind the middleware chain
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	if s.opts.Tracing {
		h = observability.TraceHandler(h, "beacon")
	}
	return httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.CORSMiddleware(s.opts.CORSOrigins),
		httputil.MaxBytesMiddleware(s.opts.MaxBodyBytes),
	)(h)
}

// routeTemplate keeps metric labels bounded to registered routes
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
