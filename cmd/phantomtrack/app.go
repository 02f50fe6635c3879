package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/audio"
	"github.com/satindergrewal/phantomtrack/internal/conditioner"
	"github.com/satindergrewal/phantomtrack/internal/config"
	"github.com/satindergrewal/phantomtrack/internal/metrics"
	"github.com/satindergrewal/phantomtrack/internal/musicgen"
	"github.com/satindergrewal/phantomtrack/internal/natsgen"
	"github.com/satindergrewal/phantomtrack/internal/progress"
	"github.com/satindergrewal/phantomtrack/internal/remote"
	"github.com/satindergrewal/phantomtrack/internal/studio"
	"github.com/satindergrewal/phantomtrack/internal/suggest"
)

// app is the wired process: one model handle and one result store shared
// by every request.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	hub       *progress.Hub
	model     *musicgen.Handle
	results   *studio.Store
	studio    *studio.Studio
	suggester *suggest.Suggester
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	results, err := studio.NewStore(cfg.Results.TempDir, cfg.Results.TTL, cfg.Results.MaxEntries, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("phantomtrack", registry, logger)

	decoder := &audio.FFmpegDecoder{
		Binary:  cfg.Conditioning.FFmpegPath,
		TempDir: results.Dir(),
	}
	cond := conditioner.New(conditionerOptions(cfg.Conditioning), decoder, logger)
	model := newModelHandle(cfg, results.Dir(), logger)
	hub := progress.NewHub()

	var llm suggest.Completer
	if cfg.Suggest.OllamaURL != "" {
		llm = suggest.NewClient(cfg.Suggest.OllamaURL, cfg.Suggest.OllamaModel)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  collector,
		hub:      hub,
		model:    model,
		results:  results,
		studio: studio.New(studio.Options{
			Conditioner:     cond,
			Model:           model,
			Results:         results,
			Events:          hub,
			Metrics:         collector,
			GenerateTimeout: cfg.Model.Timeout,
			Logger:          logger,
		}),
		suggester: suggest.New(llm, logger),
	}, nil
}

// warm initialises the model backend ahead of the first request and
// reports whether prompt suggestions can use the LLM.
func (a *app) warm(ctx context.Context) {
	warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := a.model.Warm(warmCtx); err != nil {
		a.logger.Warn("model backend not ready; will retry on first request", zap.Error(err))
	}

	if a.cfg.Suggest.OllamaURL == "" {
		a.logger.Info("Ollama not configured, using static prompt suggestions")
		return
	}
	c := suggest.NewClient(a.cfg.Suggest.OllamaURL, a.cfg.Suggest.OllamaModel)
	if err := c.Ping(warmCtx); err != nil {
		a.logger.Warn("Ollama not available, suggestions fall back to static prompts",
			zap.String("url", a.cfg.Suggest.OllamaURL), zap.Error(err))
		return
	}
	a.logger.Info("Ollama connected", zap.String("model", c.Model()))
}

// Close releases the model and removes every temporary result.
func (a *app) Close() {
	if err := a.model.Close(); err != nil {
		a.logger.Warn("close model", zap.Error(err))
	}
	if err := a.results.Close(); err != nil {
		a.logger.Warn("remove results", zap.Error(err))
	}
}

func conditionerOptions(c config.ConditioningConfig) conditioner.Options {
	return conditioner.Options{
		MaxCount:      c.MaxTracks,
		MaxTotalBytes: c.MaxTotalBytes,
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		MaxReference:  c.MaxReference,
		MinReference:  c.MinReference,
		Excerpt:       c.Excerpt,
		TailFade:      c.TailFade,
		PadMode:       conditioner.PadMode(c.PadMode),
		Normalize:     c.Normalize,
		DecodeWorkers: c.DecodeWorkers,
	}
}

// newModelHandle selects the model backend. The connection is made lazily
// on first use.
func newModelHandle(cfg config.Config, scratch string, logger *zap.Logger) *musicgen.Handle {
	m := cfg.Model
	var factory musicgen.Factory
	switch m.Backend {
	case "nats":
		factory = func(context.Context) (musicgen.Model, error) {
			c, err := natsgen.Connect(natsgen.Options{
				URL:        m.NATSURL,
				Subject:    m.NATSSubject,
				Bucket:     m.NATSBucket,
				ObjectTTL:  cfg.Results.TTL,
				ScratchDir: scratch,
			}, logger)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	case "http":
		factory = func(context.Context) (musicgen.Model, error) {
			return remote.NewClient(remote.Options{
				APIURL:       m.APIURL,
				APIKey:       m.APIKey,
				OutputDir:    m.OutputDir,
				PollInterval: m.PollInterval,
				ScratchDir:   scratch,
			}, logger), nil
		}
	default:
		factory = func(context.Context) (musicgen.Model, error) {
			return nil, fmt.Errorf("unknown model backend %q", m.Backend)
		}
	}
	return musicgen.NewHandle(m.Backend, factory, logger)
}
