// Package server exposes the studio over HTTP: the embedded UI, the
// generation API, result download and preview, progress websocket, health
// and metrics.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/metrics"
	"github.com/satindergrewal/phantomtrack/internal/progress"
	"github.com/satindergrewal/phantomtrack/internal/stream"
	"github.com/satindergrewal/phantomtrack/internal/studio"
	"github.com/satindergrewal/phantomtrack/internal/suggest"
	"github.com/satindergrewal/phantomtrack/internal/web"
)

// maxFieldBytes caps one text field of the generate form.
const maxFieldBytes = 64 << 10

// formOverhead allows for multipart framing and text fields on top of the
// audio byte limit, so an oversized upload reaches the track size check.
const formOverhead = 1 << 20

// Options wires a Server.
type Options struct {
	Studio    *studio.Studio
	Suggester *suggest.Suggester
	Hub       *progress.Hub
	Metrics   *metrics.Collector  // optional
	Gatherer  prometheus.Gatherer // optional; serves /metrics when set
	FFmpeg    string
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
}

// Server holds the HTTP routes.
type Server struct {
	studio    *studio.Studio
	suggester *suggest.Suggester
	hub       *progress.Hub
	webrtc    *stream.WebRTCHandler
	handler   http.Handler
	logger    *zap.Logger
}

// New builds the router. ctx bounds background work such as the rate
// limiter's visitor cleanup.
func New(ctx context.Context, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http"))
	if opts.Suggester == nil {
		opts.Suggester = suggest.New(nil, logger)
	}
	if opts.Hub == nil {
		opts.Hub = progress.NewHub()
	}

	s := &Server{
		studio:    opts.Studio,
		suggester: opts.Suggester,
		hub:       opts.Hub,
		webrtc:    stream.NewWebRTCHandler(opts.Studio.Results(), logger),
		logger:    logger,
	}

	r := mux.NewRouter()
	r.Use(RouteTemplate)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/genres", s.handleGenres).Methods(http.MethodGet)
	api.HandleFunc("/options", s.handleOptions).Methods(http.MethodGet)
	api.HandleFunc("/suggest", s.handleSuggest).Methods(http.MethodGet)
	api.Handle("/generate", RateLimiter(ctx, opts.RateLimit, opts.RateBurst, logger)(
		http.HandlerFunc(s.handleGenerate),
	)).Methods(http.MethodPost)
	api.HandleFunc("/results", s.handleListResults).Methods(http.MethodGet)
	api.HandleFunc("/results/{id}", s.handleGetResult).Methods(http.MethodGet)
	api.HandleFunc("/results/{id}/download", s.handleDownload).Methods(http.MethodGet, http.MethodHead)
	api.Handle("/results/{id}/stream", stream.NewHTTPHandler(opts.Studio.Results(), opts.FFmpeg, logger)).Methods(http.MethodGet)
	api.Handle("/results/{id}/offer", s.webrtc).Methods(http.MethodPost, http.MethodOptions)
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "no such endpoint")
	})

	r.Handle("/ws", progress.NewHandler(opts.Hub, logger))
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.PathPrefix("/").Handler(web.Handler()).Methods(http.MethodGet, http.MethodHead)

	mws := []Middleware{RequestID(), Recovery(logger), RequestLogger(logger)}
	if opts.Metrics != nil {
		mws = append(mws, MetricsMiddleware(opts.Metrics))
	}
	s.handler = Chain(r, mws...)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Close disconnects preview peers.
func (s *Server) Close() {
	s.webrtc.Close()
}
