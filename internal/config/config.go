package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. Values come from defaults, then an
// optional YAML file, then PHANTOM_* environment variables.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Model        ModelConfig        `yaml:"model"`
	Conditioning ConditioningConfig `yaml:"conditioning"`
	Results      ResultsConfig      `yaml:"results"`
	Suggest      SuggestConfig      `yaml:"suggest"`
	Log          LogConfig          `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicURL is printed by the notebook launch when the port is proxied.
	PublicURL       string        `yaml:"public_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       float64       `yaml:"rate_limit"` // generate requests per second per client
	RateBurst       int           `yaml:"rate_burst"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ModelConfig struct {
	Backend string `yaml:"backend"` // "http" or "nats"

	// HTTP backend
	APIURL       string        `yaml:"api_url"`
	APIKey       string        `yaml:"api_key"`
	OutputDir    string        `yaml:"output_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// NATS backend
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
	NATSBucket  string `yaml:"nats_bucket"`

	// Timeout bounds one generation call.
	Timeout time.Duration `yaml:"timeout"`
}

type ConditioningConfig struct {
	MaxTracks     int           `yaml:"max_tracks"`
	MaxTotalBytes int64         `yaml:"max_total_bytes"`
	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	MaxReference  time.Duration `yaml:"max_reference"`
	MinReference  time.Duration `yaml:"min_reference"`
	Excerpt       time.Duration `yaml:"excerpt"`
	TailFade      time.Duration `yaml:"tail_fade"`
	PadMode       string        `yaml:"pad_mode"` // "silence" or "loop"
	Normalize     bool          `yaml:"normalize"`
	DecodeWorkers int           `yaml:"decode_workers"`
	FFmpegPath    string        `yaml:"ffmpeg_path"`
}

type ResultsConfig struct {
	TempDir       string        `yaml:"temp_dir"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxEntries    int           `yaml:"max_entries"` // 0 = unbounded
}

type SuggestConfig struct {
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7860,
			ReadTimeout:     2 * time.Minute,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       0.2,
			RateBurst:       3,
		},
		Model: ModelConfig{
			Backend:      "http",
			APIURL:       "http://localhost:8000",
			PollInterval: 2 * time.Second,
			NATSURL:      "nats://127.0.0.1:4222",
			NATSSubject:  "phantomtrack.generate",
			NATSBucket:   "phantomtrack-audio",
			Timeout:      10 * time.Minute,
		},
		Conditioning: ConditioningConfig{
			MaxTracks:     20,
			MaxTotalBytes: 100_000_000,
			SampleRate:    48000,
			Channels:      1,
			MaxReference:  30 * time.Second,
			MinReference:  3 * time.Second,
			Excerpt:       10 * time.Second,
			TailFade:      50 * time.Millisecond,
			PadMode:       "silence",
			Normalize:     true,
			DecodeWorkers: 4,
			FFmpegPath:    "ffmpeg",
		},
		Results: ResultsConfig{
			TTL:           time.Hour,
			SweepInterval: time.Minute,
			MaxEntries:    50,
		},
		Suggest: SuggestConfig{
			OllamaModel: "llama3.2:3b",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Server.Host = envStr("PHANTOM_HOST", c.Server.Host)
	c.Server.Port = envInt("PHANTOM_PORT", c.Server.Port)
	c.Server.PublicURL = envStr("PHANTOM_PUBLIC_URL", c.Server.PublicURL)
	c.Server.RateLimit = envFloat("PHANTOM_RATE_LIMIT", c.Server.RateLimit)
	c.Server.RateBurst = envInt("PHANTOM_RATE_BURST", c.Server.RateBurst)

	c.Model.Backend = envStr("PHANTOM_MODEL_BACKEND", c.Model.Backend)
	c.Model.APIURL = envStr("PHANTOM_MODEL_API_URL", c.Model.APIURL)
	c.Model.APIKey = envStr("PHANTOM_MODEL_API_KEY", c.Model.APIKey)
	c.Model.OutputDir = envStr("PHANTOM_MODEL_OUTPUT_DIR", c.Model.OutputDir)
	c.Model.PollInterval = envDuration("PHANTOM_MODEL_POLL_INTERVAL", c.Model.PollInterval)
	c.Model.NATSURL = envStr("PHANTOM_NATS_URL", c.Model.NATSURL)
	c.Model.NATSSubject = envStr("PHANTOM_NATS_SUBJECT", c.Model.NATSSubject)
	c.Model.NATSBucket = envStr("PHANTOM_NATS_BUCKET", c.Model.NATSBucket)
	c.Model.Timeout = envDuration("PHANTOM_MODEL_TIMEOUT", c.Model.Timeout)

	c.Conditioning.MaxReference = envDuration("PHANTOM_MAX_REFERENCE", c.Conditioning.MaxReference)
	c.Conditioning.MinReference = envDuration("PHANTOM_MIN_REFERENCE", c.Conditioning.MinReference)
	c.Conditioning.Excerpt = envDuration("PHANTOM_EXCERPT", c.Conditioning.Excerpt)
	c.Conditioning.PadMode = envStr("PHANTOM_PAD_MODE", c.Conditioning.PadMode)
	c.Conditioning.DecodeWorkers = envInt("PHANTOM_DECODE_WORKERS", c.Conditioning.DecodeWorkers)
	c.Conditioning.FFmpegPath = envStr("PHANTOM_FFMPEG", c.Conditioning.FFmpegPath)

	c.Results.TempDir = envStr("PHANTOM_TEMP_DIR", c.Results.TempDir)
	c.Results.TTL = envDuration("PHANTOM_RESULT_TTL", c.Results.TTL)
	c.Results.MaxEntries = envInt("PHANTOM_RESULT_MAX_ENTRIES", c.Results.MaxEntries)

	c.Suggest.OllamaURL = envStr("PHANTOM_OLLAMA_URL", c.Suggest.OllamaURL)
	c.Suggest.OllamaModel = envStr("PHANTOM_OLLAMA_MODEL", c.Suggest.OllamaModel)

	c.Log.Level = envStr("PHANTOM_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("PHANTOM_LOG_FORMAT", c.Log.Format)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("server rate limit must not be negative"))
	}
	switch c.Model.Backend {
	case "http":
		if c.Model.APIURL == "" {
			errs = append(errs, errors.New("model.api_url is required for the http backend"))
		}
	case "nats":
		if c.Model.NATSURL == "" || c.Model.NATSSubject == "" || c.Model.NATSBucket == "" {
			errs = append(errs, errors.New("model.nats_url, nats_subject and nats_bucket are required for the nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("model.backend %q must be http or nats", c.Model.Backend))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}
	if c.Server.WriteTimeout > 0 && c.Model.Timeout >= c.Server.WriteTimeout {
		errs = append(errs, fmt.Errorf("model.timeout %v must be shorter than server.write_timeout %v",
			c.Model.Timeout, c.Server.WriteTimeout))
	}
	if c.Results.MaxEntries < 0 {
		errs = append(errs, errors.New("results.max_entries must not be negative"))
	}

	cc := c.Conditioning
	if cc.MaxTracks < 1 {
		errs = append(errs, errors.New("conditioning.max_tracks must be at least 1"))
	}
	if cc.MaxTotalBytes < 1 {
		errs = append(errs, errors.New("conditioning.max_total_bytes must be positive"))
	}
	if cc.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("conditioning.sample_rate %d too low", cc.SampleRate))
	}
	if cc.Channels != 1 && cc.Channels != 2 {
		errs = append(errs, fmt.Errorf("conditioning.channels %d must be 1 or 2", cc.Channels))
	}
	if cc.MaxReference <= 0 || cc.MinReference < 0 || cc.MinReference > cc.MaxReference {
		errs = append(errs, errors.New("conditioning reference bounds must satisfy 0 <= min <= max, max > 0"))
	}
	if cc.PadMode != "silence" && cc.PadMode != "loop" {
		errs = append(errs, fmt.Errorf("conditioning.pad_mode %q must be silence or loop", cc.PadMode))
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
