// Package studio runs one generation submission end to end: validate the
// settings, build the conditioning signal, call the model and keep the
// result for playback and download.
package studio

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/audio"
	"github.com/satindergrewal/phantomtrack/internal/conditioner"
	"github.com/satindergrewal/phantomtrack/internal/musicgen"
	"github.com/satindergrewal/phantomtrack/internal/progress"
)

// outputCeiling keeps generated audio just under full scale.
const outputCeiling = 0.99

// Submission is one form submit.
type Submission struct {
	// RequestID correlates progress events; generated when empty.
	RequestID string
	Tracks    []conditioner.Track
	Params    musicgen.Params
}

// Publisher receives progress events.
type Publisher interface {
	Publish(progress.Event)
}

// Recorder receives pipeline metrics.
type Recorder interface {
	RecordSubmission(outcome string, tracks int)
	RecordConditioning(d time.Duration)
	RecordGeneration(backend string, err error, d time.Duration)
	SetResultsStored(n int)
}

// Options wires a Studio.
type Options struct {
	Conditioner *conditioner.Conditioner
	Model       *musicgen.Handle
	Results     *Store
	Events      Publisher // optional
	Metrics     Recorder  // optional
	// GenerateTimeout bounds one model call.
	GenerateTimeout time.Duration
	Logger          *zap.Logger
}

// Studio is safe for concurrent submissions; requests share only the model
// handle and the result store.
type Studio struct {
	cond    *conditioner.Conditioner
	model   *musicgen.Handle
	results *Store
	events  Publisher
	metrics Recorder
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Studio.
func New(opts Options) *Studio {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 10 * time.Minute
	}
	return &Studio{
		cond:    opts.Conditioner,
		model:   opts.Model,
		results: opts.Results,
		events:  opts.Events,
		metrics: opts.Metrics,
		timeout: opts.GenerateTimeout,
		logger:  logger.With(zap.String("component", "studio")),
	}
}

// Results returns the result store.
func (s *Studio) Results() *Store { return s.results }

// Conditioner returns the reference audio conditioner.
func (s *Studio) Conditioner() *conditioner.Conditioner { return s.cond }

// Model returns the model handle.
func (s *Studio) Model() *musicgen.Handle { return s.model }

// HandleSubmit validates sub, conditions the reference tracks, generates
// and stores the result. Any failure aborts the request with no audio.
// Once the model call starts it is not cancelled by ctx; it runs until it
// returns or GenerateTimeout passes.
func (s *Studio) HandleSubmit(ctx context.Context, sub Submission) (Artifact, error) {
	requestID := sub.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := s.logger.With(zap.String("request_id", requestID))

	artifact, err := s.run(ctx, requestID, sub, log)
	if err != nil {
		kind := ErrorKind(err)
		log.Warn("submission failed", zap.String("kind", kind), zap.Error(err))
		s.publish(progress.Event{RequestID: requestID, Stage: progress.StageFailed, Message: err.Error()})
		s.recordSubmission(kind, len(sub.Tracks))
		return Artifact{}, err
	}

	log.Info("track generated",
		zap.String("result_id", artifact.ID),
		zap.Duration("duration", artifact.Duration),
		zap.Int("tracks", len(sub.Tracks)),
	)
	s.publish(progress.Event{RequestID: requestID, Stage: progress.StageComplete, ResultID: artifact.ID})
	s.recordSubmission("success", len(sub.Tracks))
	if s.metrics != nil {
		s.metrics.SetResultsStored(s.results.Len())
	}
	return artifact, nil
}

func (s *Studio) run(ctx context.Context, requestID string, sub Submission, log *zap.Logger) (Artifact, error) {
	s.publish(progress.Event{RequestID: requestID, Stage: progress.StageValidating})
	req, err := musicgen.BuildRequest(sub.Params)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.cond.Validate(sub.Tracks); err != nil {
		return Artifact{}, err
	}

	s.publish(progress.Event{RequestID: requestID, Stage: progress.StageConditioning})
	start := time.Now()
	signal, err := s.cond.Build(ctx, sub.Tracks)
	if err != nil {
		return Artifact{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordConditioning(time.Since(start))
	}
	log.Debug("conditioning ready", zap.Duration("length", signal.Duration()), zap.String("prompt", req.Prompt))

	s.publish(progress.Event{RequestID: requestID, Stage: progress.StageGenerating, Message: req.Prompt})
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	start = time.Now()
	out, err := s.model.Generate(genCtx, req, signal)
	if s.metrics != nil {
		s.metrics.RecordGeneration(s.model.Backend(), err, time.Since(start))
	}
	if err != nil {
		return Artifact{}, err
	}

	audio.Limit(out, outputCeiling)
	return s.results.Save(requestID, sub.Params.Genre, req.Prompt, out)
}

func (s *Studio) publish(e progress.Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}

func (s *Studio) recordSubmission(outcome string, tracks int) {
	if s.metrics != nil {
		s.metrics.RecordSubmission(outcome, tracks)
	}
}

// Error kinds reported by ErrorKind.
const (
	KindInput      = "input_error"
	KindDecode     = "decode_error"
	KindValidation = "validation_error"
	KindGeneration = "generation_error"
	KindInternal   = "internal_error"
)

// ErrorKind classifies a HandleSubmit error.
func ErrorKind(err error) string {
	var (
		inputErr  *conditioner.InputError
		decodeErr *conditioner.DecodeError
		validErr  *musicgen.ValidationError
		genErr    *musicgen.GenerationError
	)
	switch {
	case errors.As(err, &inputErr):
		return KindInput
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &validErr):
		return KindValidation
	case errors.As(err, &genErr):
		return KindGeneration
	default:
		return KindInternal
	}
}
