package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/co-scribe/internal/dictation"
	"github.com/yegors/co-scribe/internal/metrics"
	"github.com/yegors/co-scribe/pkg/logger"
)

// Options configures the HTTP surface
type Options struct {
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	StreamingEnabled   bool

	// Metrics records request metrics when set; MetricsHandler serves /metrics
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
}

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	options    Options
	logger     *logger.Logger
}

// NewRouter creates a new API router. outcomes may be nil, in which case the
// session history endpoints report 503.
func NewRouter(service *dictation.Service, outcomes OutcomeStore, options Options, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(service, outcomes, options, log),
		middleware: NewMiddleware(log, options.Metrics),
		options:    options,
		logger:     log.Named("api-router"),
	}
}

// CloseDictations closes live dictation sockets, cancelling their recordings
func (r *Router) CloseDictations() {
	r.handler.CloseDictations()
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.options.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Health check
		router.Get("/health", r.handler.GetHealth)

		// Model catalog
		router.Get("/models", r.handler.GetModels)

		// File transcription
		router.Post("/transcriptions", r.handler.CreateTranscription)

		// Live dictation over WebSocket
		router.Get("/dictate", r.handler.HandleDictation)

		// Session history
		router.Get("/sessions", r.handler.GetRecentSessions)
		router.Get("/sessions/stats", r.handler.GetSessionStats)
	})

	if r.options.MetricsHandler != nil {
		router.Handle("/metrics", r.options.MetricsHandler)
	}

	return router
}
