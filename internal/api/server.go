// Package api exposes the transcription session over HTTP: service
// lifecycle, async operations, timeline exports, and an SSE event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/config"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/controller"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/events"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/metrics"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/service"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/transcript"
)

// Controller is the slice of the operation controller the handlers need.
type Controller interface {
	SubmitLoadModel(ctx context.Context, model string) (uuid.UUID, error)
	SubmitTranscribe(ctx context.Context, path string, diarize bool) (uuid.UUID, error)
	SubmitShutdown(ctx context.Context) (uuid.UUID, error)
	Poll(id uuid.UUID) (controller.Result, error)
	Cancel(id uuid.UUID) error
	Busy() bool
	LoadedModel() string
	LastTranscript() *transcript.Transcript
}

// Service is the slice of the process manager the handlers need.
type Service interface {
	Start(ctx context.Context) error
	Alive() bool
	State() service.State
	Restarts() int64
}

// EventSource feeds the SSE stream.
type EventSource interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Event
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Options collects the dependencies the server wires into its handlers.
type Options struct {
	Config     *config.Config
	Controller Controller
	Service    Service
	Events     EventSource
	Version    string
	StartTime  time.Time
	Log        zerolog.Logger
}

func NewServer(opts Options) *Server {
	cfg := opts.Config

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	session := &SessionHandler{
		ctrl:      opts.Controller,
		svc:       opts.Service,
		cfg:       cfg,
		version:   opts.Version,
		startTime: opts.StartTime,
	}
	export := &ExportHandler{ctrl: opts.Controller, cfg: cfg}
	eventsH := &EventsHandler{source: opts.Events}

	r.Get("/api/v1/health", session.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Post("/service/start", session.StartService)
		r.Post("/service/stop", session.StopService)
		r.Get("/service", session.ServiceStatus)

		r.Get("/models", session.ListModels)
		r.Post("/models/load", session.LoadModel)

		r.Post("/transcriptions", session.SubmitTranscription)
		r.Get("/operations/{id}", session.PollOperation)
		r.Delete("/operations/{id}", session.CancelOperation)

		r.Get("/export/strips", export.Strips)
		r.Get("/export/subtitles", export.Subtitles)

		r.Get("/events/stream", eventsH.Stream)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
