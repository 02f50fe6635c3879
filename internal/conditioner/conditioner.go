// Package conditioner builds the reference audio signal that conditions
// music generation from a set of uploaded clips.
package conditioner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/phantomtrack/internal/audio"
)

// PadMode selects how a too-short signal is extended.
type PadMode string

const (
	PadSilence PadMode = "silence"
	PadLoop    PadMode = "loop"
)

// Track is one uploaded clip. Data is never modified.
type Track struct {
	Name string
	Data []byte
}

// Options configures a Conditioner.
type Options struct {
	MaxCount      int
	MaxTotalBytes int64

	SampleRate int
	Channels   int

	MaxReference time.Duration
	MinReference time.Duration
	// Excerpt caps how much of each clip is used, from its start. Zero
	// uses whole clips.
	Excerpt time.Duration
	// TailFade smooths the cut when the signal is truncated. The length
	// is unchanged.
	TailFade time.Duration
	PadMode  PadMode
	// Normalize scales the final signal to a peak of 1.
	Normalize bool

	DecodeWorkers int
}

// DefaultOptions returns the limits used by the web front-end.
func DefaultOptions() Options {
	return Options{
		MaxCount:      20,
		MaxTotalBytes: 100_000_000,
		SampleRate:    48000,
		Channels:      1,
		MaxReference:  30 * time.Second,
		MinReference:  3 * time.Second,
		Excerpt:       10 * time.Second,
		TailFade:      50 * time.Millisecond,
		PadMode:       PadSilence,
		Normalize:     true,
		DecodeWorkers: 4,
	}
}

// Conditioner turns uploaded clips into one conditioning waveform.
// It holds no per-request state and is safe for concurrent use.
type Conditioner struct {
	opts    Options
	decoder audio.Decoder
	logger  *zap.Logger
}

// New returns a Conditioner. Zero-valued limits fall back to DefaultOptions.
func New(opts Options, decoder audio.Decoder, logger *zap.Logger) *Conditioner {
	def := DefaultOptions()
	if opts.MaxCount <= 0 {
		opts.MaxCount = def.MaxCount
	}
	if opts.MaxTotalBytes <= 0 {
		opts.MaxTotalBytes = def.MaxTotalBytes
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = def.Channels
	}
	if opts.MaxReference <= 0 {
		opts.MaxReference = def.MaxReference
	}
	if opts.MinReference > opts.MaxReference {
		opts.MinReference = opts.MaxReference
	}
	if opts.PadMode == "" {
		opts.PadMode = PadSilence
	}
	if opts.DecodeWorkers <= 0 {
		opts.DecodeWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conditioner{
		opts:    opts,
		decoder: decoder,
		logger:  logger.With(zap.String("component", "conditioner")),
	}
}

// Options returns the effective settings.
func (c *Conditioner) Options() Options { return c.opts }

// Validate checks the upload limits without decoding anything.
func (c *Conditioner) Validate(tracks []Track) error {
	if len(tracks) == 0 {
		return &InputError{Err: ErrNoTracks}
	}
	if len(tracks) > c.opts.MaxCount {
		return &InputError{
			Err:    ErrTooManyTracks,
			Detail: fmt.Sprintf("got %d, limit is %d", len(tracks), c.opts.MaxCount),
		}
	}
	var total int64
	for _, t := range tracks {
		total += int64(len(t.Data))
	}
	if total > c.opts.MaxTotalBytes {
		return &InputError{
			Err:    ErrTooLarge,
			Detail: fmt.Sprintf("%d bytes, limit is %d", total, c.opts.MaxTotalBytes),
		}
	}
	return nil
}

// Build decodes, resamples and concatenates tracks in upload order and fits
// the result between the minimum and maximum reference lengths. The same
// input always yields the same samples.
func (c *Conditioner) Build(ctx context.Context, tracks []Track) (audio.Waveform, error) {
	if err := c.Validate(tracks); err != nil {
		return audio.Waveform{}, err
	}

	start := time.Now()
	parts, err := c.decodeAll(ctx, tracks)
	if err != nil {
		return audio.Waveform{}, err
	}

	excerpt := audio.FramesFor(c.opts.Excerpt, c.opts.SampleRate)
	for i, p := range parts {
		if excerpt > 0 {
			p = audio.Head(p, nativeFrames(excerpt, p.SampleRate, c.opts.SampleRate))
		}
		p = audio.Resample(audio.ToChannels(p, c.opts.Channels), c.opts.SampleRate)
		if excerpt > 0 {
			p = audio.Head(p, excerpt)
		}
		parts[i] = p
	}

	signal := audio.Concat(parts...)
	signal = c.fit(signal)
	if c.opts.Normalize {
		audio.NormalizePeak(signal, 1)
	}

	c.logger.Debug("conditioning built",
		zap.Int("tracks", len(tracks)),
		zap.Duration("length", signal.Duration()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return signal, nil
}

// decodeAll decodes every track, bounded by DecodeWorkers. When several
// tracks fail the lowest upload index is reported.
func (c *Conditioner) decodeAll(ctx context.Context, tracks []Track) ([]audio.Waveform, error) {
	parts := make([]audio.Waveform, len(tracks))
	errs := make([]error, len(tracks))

	var g errgroup.Group
	g.SetLimit(c.opts.DecodeWorkers)
	for i, t := range tracks {
		g.Go(func() error {
			w, err := c.decoder.Decode(ctx, t.Data, t.Name)
			if err == nil && w.Empty() {
				err = audio.ErrEmptyAudio
			}
			if err == nil && audio.HasNonFinite(w) {
				err = fmt.Errorf("non-finite samples")
			}
			if err != nil {
				errs[i] = &DecodeError{Index: i, Name: t.Name, Err: err}
				return nil
			}
			parts[i] = w
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			c.logger.Warn("reference track rejected", zap.Error(err))
			return nil, err
		}
	}
	return parts, nil
}

// nativeFrames is how many frames at rate from cover frames at rate to,
// plus the interpolation neighbour, so trimming before resampling leaves
// the first frames output samples unchanged.
func nativeFrames(frames, from, to int) int {
	if from <= 0 || to <= 0 {
		return frames
	}
	return int((int64(frames)*int64(from)+int64(to)-1)/int64(to)) + 2
}

func (c *Conditioner) fit(signal audio.Waveform) audio.Waveform {
	maxFrames := audio.FramesFor(c.opts.MaxReference, c.opts.SampleRate)
	minFrames := audio.FramesFor(c.opts.MinReference, c.opts.SampleRate)

	if signal.Frames() > maxFrames {
		signal = audio.Head(signal, maxFrames)
		audio.FadeOut(signal, audio.FramesFor(c.opts.TailFade, c.opts.SampleRate))
		return signal
	}
	if signal.Frames() < minFrames {
		if c.opts.PadMode == PadLoop {
			return audio.PadLoop(signal, minFrames)
		}
		return audio.PadSilence(signal, minFrames)
	}
	return signal
}
