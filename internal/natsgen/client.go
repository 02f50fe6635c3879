// Package natsgen runs music generation on a worker reached over NATS.
// Audio travels through a JetStream object store; the request itself is a
// small JSON message answered with request/reply.
package natsgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/audio"
	"github.com/satindergrewal/phantomtrack/internal/musicgen"
)

// GenerateMessage is published on the request subject.
type GenerateMessage struct {
	RequestID       string  `json:"request_id"`
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"duration_seconds"`
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"top_k"`
	TopP            float64 `json:"top_p"`
	GuidanceScale   float64 `json:"guidance_scale"`
	ConditioningKey string  `json:"conditioning_key"`
	SampleRate      int     `json:"sample_rate"`
}

// GenerateReply is the worker's answer. Exactly one of ResultKey and Error
// is set.
type GenerateReply struct {
	RequestID string `json:"request_id"`
	ResultKey string `json:"result_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrWorker wraps an error reported by the generation worker.
var ErrWorker = errors.New("generation worker error")

// Options configures a Client.
type Options struct {
	URL       string
	Subject   string
	Bucket    string
	ObjectTTL time.Duration
	// ScratchDir holds the encoded conditioning WAV before upload.
	ScratchDir string
}

// Client implements musicgen.Model over NATS.
type Client struct {
	nc      *nats.Conn
	store   *ObjectStore
	subject string
	scratch string
	ownConn bool
	logger  *zap.Logger
}

// Connect dials NATS and prepares the object store.
func Connect(opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "natsgen"))
	nc, err := nats.Connect(opts.URL,
		nats.Name("phantomtrack"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", opts.URL, err)
	}
	c, err := NewClient(nc, opts, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.ownConn = true
	return c, nil
}

// NewClient uses an existing connection. The caller keeps ownership of nc.
func NewClient(nc *nats.Conn, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	store, err := NewObjectStore(js, opts.Bucket, opts.ObjectTTL)
	if err != nil {
		return nil, err
	}
	return &Client{
		nc:      nc,
		store:   store,
		subject: opts.Subject,
		scratch: opts.ScratchDir,
		logger:  logger.With(zap.String("component", "natsgen")),
	}, nil
}

// Store exposes the object store shared with workers.
func (c *Client) Store() *ObjectStore { return c.store }

// Generate implements musicgen.Model.
func (c *Client) Generate(ctx context.Context, req musicgen.Request, conditioning audio.Waveform) (audio.Waveform, error) {
	requestID := uuid.NewString()
	condKey := "conditioning/" + requestID + ".wav"

	ref, err := audio.EncodeWAVBytes(conditioning, c.scratch)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("encode conditioning: %w", err)
	}
	if err := c.store.Upload(condKey, ref); err != nil {
		return audio.Waveform{}, err
	}
	defer c.remove(condKey)

	body, err := json.Marshal(GenerateMessage{
		RequestID:       requestID,
		Prompt:          req.Prompt,
		DurationSeconds: req.Duration.Seconds(),
		Temperature:     req.Temperature,
		TopK:            req.TopK,
		TopP:            req.TopP,
		GuidanceScale:   req.GuidanceScale,
		ConditioningKey: condKey,
		SampleRate:      conditioning.SampleRate,
	})
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Info("publishing generation request", zap.String("request_id", requestID), zap.String("subject", c.subject))
	msg, err := c.nc.RequestWithContext(ctx, c.subject, body)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("request %s: %w", c.subject, err)
	}

	var reply GenerateReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return audio.Waveform{}, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != "" {
		return audio.Waveform{}, fmt.Errorf("%w: %s", ErrWorker, reply.Error)
	}
	if reply.ResultKey == "" {
		return audio.Waveform{}, musicgen.ErrEmptyResult
	}
	defer c.remove(reply.ResultKey)

	data, err := c.store.Download(reply.ResultKey)
	if err != nil {
		return audio.Waveform{}, err
	}
	w, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode result: %w", err)
	}
	return w, nil
}

func (c *Client) remove(key string) {
	if err := c.store.Delete(key); err != nil {
		c.logger.Warn("object cleanup failed", zap.String("key", key), zap.Error(err))
	}
}

// Health reports whether the NATS connection is up.
func (c *Client) Health(ctx context.Context) error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected: %s", c.nc.Status())
	}
	return nil
}

// Close drains the connection if the client opened it.
func (c *Client) Close() error {
	if !c.ownConn {
		return nil
	}
	return c.nc.Drain()
}
