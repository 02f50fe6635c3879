package audio

import "time"

// Playback format used by the preview streams.
const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Waveform is decoded PCM audio. Samples are interleaved float32 values
// nominally in [-1, 1].
type Waveform struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames (samples per channel).
func (w Waveform) Frames() int {
	if w.Channels <= 0 {
		return 0
	}
	return len(w.Samples) / w.Channels
}

// Duration returns the playing time of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(w.Frames()) * time.Second / time.Duration(w.SampleRate)
}

// Empty reports whether the waveform holds no sample frames.
func (w Waveform) Empty() bool {
	return w.Frames() == 0
}

// Clone returns a deep copy.
func (w Waveform) Clone() Waveform {
	out := w
	out.Samples = append([]float32(nil), w.Samples...)
	return out
}

// FramesFor converts a duration to a frame count at the given rate,
// rounding down.
func FramesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
