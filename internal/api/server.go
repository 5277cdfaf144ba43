// Package api serves the agent's HTTP surface: push ingest, prompt taps,
// notification actions, history and app state.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flowpbx/pushcall/internal/api/middleware"
	"github.com/flowpbx/pushcall/internal/app"
	"github.com/flowpbx/pushcall/internal/call"
	"github.com/flowpbx/pushcall/internal/history"
	"github.com/flowpbx/pushcall/internal/inbound"
	"github.com/flowpbx/pushcall/internal/notify"
	"github.com/flowpbx/pushcall/internal/ratelimit"
)

// RingerState reports whether the ringtone is playing.
type RingerState interface {
	Playing() bool
}

// Deps lists the server's collaborators. Metrics and IngestLimit are
// optional.
type Deps struct {
	Dispatcher  *inbound.Dispatcher
	Resolver    *call.Resolver
	Receiver    *call.ActionReceiver
	Tray        notify.Tray
	History     *history.Store
	App         *app.App
	Ringer      RingerState
	Metrics     http.Handler
	IngestLimit *ratelimit.Limiter
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	dispatcher *inbound.Dispatcher
	resolver   *call.Resolver
	receiver   *call.ActionReceiver
	tray       notify.Tray
	history    *history.Store
	app        *app.App
	ringer     RingerState
	metrics    http.Handler
	limit      *ratelimit.Limiter
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		dispatcher: deps.Dispatcher,
		resolver:   deps.Resolver,
		receiver:   deps.Receiver,
		tray:       deps.Tray,
		history:    deps.History,
		app:        deps.App,
		ringer:     deps.Ringer,
		metrics:    deps.Metrics,
		limit:      deps.IngestLimit,
		logger:     logger.With("subsystem", "api"),
		startTime:  time.Now(),
	}

	s.routes(logger)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(logger *slog.Logger) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limit != nil {
				r.Use(middleware.RateLimit(s.limit, logger))
			}
			r.Post("/push", s.handlePush)
		})

		r.Route("/calls", func(r chi.Router) {
			r.Get("/", s.handleListCalls)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCall)
				r.Post("/accept", s.handlePromptTap(call.Accepted))
				r.Post("/reject", s.handlePromptTap(call.Rejected))
			})
		})
		r.Post("/actions", s.handleAction)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Delete("/", s.handleClearNotifications)
			r.Post("/{id}/actions/{action}", s.handleNotificationAction)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Delete("/", s.handleClearHistory)
		})

		r.Put("/app/foreground", s.handleSetForeground)
		r.Get("/app/launch", s.handleTakeLaunch)

		r.Put("/device/token", s.handleSetToken)
		r.Get("/device/token", s.handleGetToken)
	})
}
