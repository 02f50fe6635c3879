// Package musicgen maps user settings to generation requests and wraps the
// opaque music generation model behind a lazily initialised handle.
package musicgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/audio"
)

// Model is a text and audio conditioned music generator. Implementations
// must be safe for concurrent use.
type Model interface {
	// Generate synthesizes audio for req, conditioned on a reference
	// waveform. It blocks until the result is ready.
	Generate(ctx context.Context, req Request, conditioning audio.Waveform) (audio.Waveform, error)
	// Health reports whether the model backend is reachable.
	Health(ctx context.Context) error
	Close() error
}

// GenerationError wraps any failure of the model call.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("generation failed: %v", e.Err)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ErrEmptyResult is returned when a backend produces no audio.
var ErrEmptyResult = errors.New("model returned no audio")

// ErrClosed is returned by a Handle after Close.
var ErrClosed = errors.New("model handle closed")

// Factory creates the model. It is called at most once per successful
// initialisation.
type Factory func(ctx context.Context) (Model, error)

// Handle owns the process-wide model. The model is created on first use
// and shared read only by all requests. A failed initialisation is retried
// on the next call.
type Handle struct {
	backend string
	factory Factory
	logger  *zap.Logger

	mu     sync.Mutex
	model  Model
	closed bool
}

// NewHandle returns a handle that creates its model with factory.
func NewHandle(backend string, factory Factory, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{
		backend: backend,
		factory: factory,
		logger:  logger.With(zap.String("component", "model"), zap.String("backend", backend)),
	}
}

// Backend names the model backend.
func (h *Handle) Backend() string { return h.backend }

// Get returns the model, creating it if needed.
func (h *Handle) Get(ctx context.Context) (Model, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.model != nil {
		return h.model, nil
	}
	m, err := h.factory(ctx)
	if err != nil {
		h.logger.Warn("model initialisation failed", zap.Error(err))
		return nil, err
	}
	h.logger.Info("model ready")
	h.model = m
	return m, nil
}

// Warm initialises the model and checks backend health, logging the
// outcome. Intended to run in the background at startup.
func (h *Handle) Warm(ctx context.Context) error {
	m, err := h.Get(ctx)
	if err != nil {
		return err
	}
	if err := m.Health(ctx); err != nil {
		h.logger.Warn("model backend not healthy yet", zap.Error(err))
		return err
	}
	return nil
}

// Health reports whether the model can be reached.
func (h *Handle) Health(ctx context.Context) error {
	m, err := h.Get(ctx)
	if err != nil {
		return err
	}
	return m.Health(ctx)
}

// WaitForHealthy polls Health every interval until it succeeds or ctx is
// done, in which case the last health error is returned.
func (h *Handle) WaitForHealthy(ctx context.Context, interval time.Duration) error {
	for {
		err := h.Health(ctx)
		if err == nil {
			return nil
		}
		h.logger.Debug("model backend not ready", zap.Error(err), zap.Duration("retry_in", interval))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(interval):
		}
	}
}

// Generate runs one generation call. Every failure is a GenerationError,
// and an empty result counts as a failure.
func (h *Handle) Generate(ctx context.Context, req Request, conditioning audio.Waveform) (audio.Waveform, error) {
	m, err := h.Get(ctx)
	if err != nil {
		return audio.Waveform{}, &GenerationError{Backend: h.backend, Err: err}
	}
	out, err := m.Generate(ctx, req, conditioning)
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			return audio.Waveform{}, err
		}
		return audio.Waveform{}, &GenerationError{Backend: h.backend, Err: err}
	}
	if out.Empty() || out.SampleRate <= 0 {
		return audio.Waveform{}, &GenerationError{Backend: h.backend, Err: ErrEmptyResult}
	}
	return out, nil
}

// Close releases the model. Later calls fail with ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.model == nil {
		return nil
	}
	err := h.model.Close()
	h.model = nil
	return err
}
