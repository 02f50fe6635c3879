package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/phantomtrack/internal/audio"
	"github.com/satindergrewal/phantomtrack/internal/conditioner"
	"github.com/satindergrewal/phantomtrack/internal/config"
	"github.com/satindergrewal/phantomtrack/internal/logging"
	"github.com/satindergrewal/phantomtrack/internal/musicgen"
	"github.com/satindergrewal/phantomtrack/internal/server"
	"github.com/satindergrewal/phantomtrack/internal/studio"
)

// CLI is the command tree.
type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the web app on this machine (default)."`
	Notebook NotebookCmd `cmd:"" help:"Run the web app on all interfaces and print shareable URLs."`
	Generate GenerateCmd `cmd:"" help:"Generate one track from the command line."`
	Health   HealthCmd   `cmd:"" help:"Check that the model backend is reachable."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

// Globals are flags shared by every command.
type Globals struct {
	Config    string   `short:"c" env:"PHANTOM_CONFIG" type:"path" help:"YAML config file."`
	EnvFile   []string `name:"env-file" type:"path" help:"Extra .env files to load."`
	LogLevel  string   `name:"log-level" help:"Log level: debug, info, warn or error (overrides config)."`
	LogFormat string   `name:"log-format" help:"Log format: console or json (overrides config)."`
}

// load reads the configuration and builds the logger.
func (g *Globals) load() (config.Config, *zap.Logger, error) {
	for _, f := range g.EnvFile {
		if err := godotenv.Load(f); err != nil {
			return config.Config{}, nil, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return config.Config{}, nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// ServeCmd is the local launch.
type ServeCmd struct {
	Host string `help:"Listen host (overrides config)."`
	Port int    `short:"p" help:"Listen port (overrides config)."`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	return serve(cfg, logger, false)
}

// NotebookCmd is the hosted-notebook launch: it listens on every interface
// and prints the URLs a notebook user can open.
type NotebookCmd struct {
	Port      int    `short:"p" help:"Listen port (overrides config)."`
	PublicURL string `name:"public-url" env:"PHANTOM_PUBLIC_URL" help:"Externally reachable URL of the proxied port."`
}

func (c *NotebookCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	cfg.Server.Host = "0.0.0.0"
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.PublicURL != "" {
		cfg.Server.PublicURL = c.PublicURL
	}
	return serve(cfg, logger, true)
}

// shareURLs lists the addresses a browser can use to reach the server.
func shareURLs(s config.ServerConfig) []string {
	port := strconv.Itoa(s.Port)
	urls := []string{"http://127.0.0.1:" + port + "/"}
	if s.Host == "0.0.0.0" || s.Host == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			urls = append(urls, "http://"+net.JoinHostPort(host, port)+"/")
		}
	} else if s.Host != "127.0.0.1" && s.Host != "localhost" {
		urls[0] = "http://" + net.JoinHostPort(s.Host, port) + "/"
	}
	if s.PublicURL != "" {
		urls = append(urls, s.PublicURL)
	}
	return urls
}

func serve(cfg config.Config, logger *zap.Logger, printURLs bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(ctx, server.Options{
		Studio:    a.studio,
		Suggester: a.suggester,
		Hub:       a.hub,
		Metrics:   a.metrics,
		Gatherer:  a.registry,
		FFmpeg:    cfg.Conditioning.FFmpegPath,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Logger:    logger,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.warm(gctx)
		return nil
	})
	g.Go(func() error {
		a.results.Run(gctx, cfg.Results.SweepInterval)
		return nil
	})
	g.Go(func() error {
		logger.Info("phantomtrack live",
			zap.String("addr", httpServer.Addr),
			zap.String("backend", cfg.Model.Backend),
			zap.String("version", version),
		)
		if printURLs {
			for _, u := range shareURLs(cfg.Server) {
				fmt.Println("Running on", u)
			}
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// GenerateCmd runs one submission without the web server.
type GenerateCmd struct {
	Tracks []string `arg:"" type:"existingfile" help:"Reference audio files (1-20)."`

	Prompt      string  `short:"t" help:"Text description of the music."`
	Genre       string  `short:"g" default:"None" help:"Genre folded into the prompt."`
	Duration    int     `short:"d" default:"30" help:"Output length in seconds (15-120)."`
	Temperature float64 `default:"1.0" help:"Sampling temperature (> 0)."`
	TopK        int     `name:"top-k" default:"250" help:"Top-k sampling (>= 1)."`
	TopP        float64 `name:"top-p" default:"0" help:"Top-p sampling in [0,1]; 0 disables it."`
	Guidance    float64 `default:"3.0" help:"Classifier-free guidance scale (>= 0)."`
	Output      string  `short:"o" type:"path" default:"phantom_track.wav" help:"Output WAV path."`
}

func (c *GenerateCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracks, err := readTrackFiles(c.Tracks)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	artifact, err := a.studio.HandleSubmit(ctx, studio.Submission{
		Tracks: tracks,
		Params: c.params(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", studio.ErrorKind(err), err)
	}
	wave, err := a.results.Waveform(artifact.ID)
	if err != nil {
		return err
	}
	if err := audio.WriteWAVFile(c.Output, wave); err != nil {
		return err
	}
	fmt.Printf("Generated %s (%.1fs, %d Hz): %s\n", c.Output, artifact.Duration.Seconds(), artifact.SampleRate, artifact.Prompt)
	return nil
}

func (c *GenerateCmd) params() musicgen.Params {
	return musicgen.Params{
		Prompt:        c.Prompt,
		Genre:         c.Genre,
		Duration:      c.Duration,
		Temperature:   c.Temperature,
		TopK:          c.TopK,
		TopP:          c.TopP,
		GuidanceScale: c.Guidance,
	}
}

func readTrackFiles(paths []string) ([]conditioner.Track, error) {
	tracks := make([]conditioner.Track, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, conditioner.Track{Name: filepath.Base(p), Data: data})
	}
	return tracks, nil
}

// HealthCmd checks the model backend.
type HealthCmd struct {
	Wait time.Duration `help:"Keep retrying for up to this long."`
}

func (c *HealthCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	model := newModelHandle(cfg, os.TempDir(), logger)
	defer model.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.Wait+10*time.Second)
	defer cancel()
	if c.Wait > 0 {
		err = model.WaitForHealthy(ctx, 2*time.Second)
	} else {
		err = model.Health(ctx)
	}
	if err != nil {
		return fmt.Errorf("%s backend unhealthy: %w", cfg.Model.Backend, err)
	}
	fmt.Printf("%s backend ok\n", cfg.Model.Backend)
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (VersionCmd) Run(*Globals) error {
	fmt.Println(version)
	return nil
}
