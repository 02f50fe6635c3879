package audio

import "math"

// Resample converts w to rate using linear interpolation between
// neighbouring frames. The output is a pure function of the input.
func Resample(w Waveform, rate int) Waveform {
	if rate <= 0 || w.SampleRate == rate || w.Channels <= 0 {
		return w.Clone()
	}
	inFrames := w.Frames()
	if inFrames == 0 {
		return Waveform{SampleRate: rate, Channels: w.Channels}
	}

	outFrames := int(int64(inFrames) * int64(rate) / int64(w.SampleRate))
	if outFrames == 0 {
		outFrames = 1
	}
	ch := w.Channels
	out := make([]float32, outFrames*ch)
	ratio := float64(w.SampleRate) / float64(rate)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		before := int(pos)
		if before >= inFrames {
			before = inFrames - 1
		}
		after := before + 1
		if after >= inFrames {
			after = inFrames - 1
		}
		frac := pos - float64(before)
		for c := 0; c < ch; c++ {
			a := float64(w.Samples[before*ch+c])
			b := float64(w.Samples[after*ch+c])
			out[i*ch+c] = float32((1-frac)*a + frac*b)
		}
	}

	return Waveform{SampleRate: rate, Channels: ch, Samples: out}
}

// Downmix averages all channels into one.
func Downmix(w Waveform) Waveform {
	if w.Channels == 1 {
		return w.Clone()
	}
	frames := w.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < w.Channels; c++ {
			sum += float64(w.Samples[i*w.Channels+c])
		}
		out[i] = float32(sum / float64(w.Channels))
	}
	return Waveform{SampleRate: w.SampleRate, Channels: 1, Samples: out}
}

// ToChannels converts w to the given channel count. Going down averages to
// mono first; going up from mono duplicates the signal.
func ToChannels(w Waveform, channels int) Waveform {
	if channels <= 0 || w.Channels == channels {
		return w.Clone()
	}
	mono := Downmix(w)
	if channels == 1 {
		return mono
	}
	out := make([]float32, len(mono.Samples)*channels)
	for i, s := range mono.Samples {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return Waveform{SampleRate: w.SampleRate, Channels: channels, Samples: out}
}

// Head returns at most the first frames sample frames of w.
func Head(w Waveform, frames int) Waveform {
	if frames < 0 {
		frames = 0
	}
	if frames >= w.Frames() {
		return w.Clone()
	}
	out := w
	out.Samples = append([]float32(nil), w.Samples[:frames*w.Channels]...)
	return out
}

// Concat joins waveforms end to end. All inputs must share rate and layout.
func Concat(parts ...Waveform) Waveform {
	if len(parts) == 0 {
		return Waveform{}
	}
	total := 0
	for _, p := range parts {
		total += len(p.Samples)
	}
	out := Waveform{
		SampleRate: parts[0].SampleRate,
		Channels:   parts[0].Channels,
		Samples:    make([]float32, 0, total),
	}
	for _, p := range parts {
		out.Samples = append(out.Samples, p.Samples...)
	}
	return out
}

// PadSilence extends w with zeros up to frames sample frames.
func PadSilence(w Waveform, frames int) Waveform {
	if w.Frames() >= frames {
		return w.Clone()
	}
	out := w
	out.Samples = make([]float32, frames*w.Channels)
	copy(out.Samples, w.Samples)
	return out
}

// PadLoop extends w by repeating it from the start up to frames sample
// frames. An empty input is padded with silence.
func PadLoop(w Waveform, frames int) Waveform {
	if w.Frames() >= frames {
		return w.Clone()
	}
	if len(w.Samples) == 0 {
		return PadSilence(w, frames)
	}
	out := w
	out.Samples = make([]float32, frames*w.Channels)
	for i := range out.Samples {
		out.Samples[i] = w.Samples[i%len(w.Samples)]
	}
	return out
}

// Peak returns the largest absolute sample value.
func Peak(w Waveform) float32 {
	var peak float32
	for _, s := range w.Samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// normalizeEpsilon keeps silent input finite.
const normalizeEpsilon = 1e-8

// NormalizePeak scales w in place so its peak reaches target.
func NormalizePeak(w Waveform, target float32) {
	peak := float64(Peak(w))
	gain := float64(target) / (peak + normalizeEpsilon)
	for i, s := range w.Samples {
		w.Samples[i] = float32(float64(s) * gain)
	}
}

// Limit scales w in place so no sample exceeds ceiling. Quieter input is
// left untouched.
func Limit(w Waveform, ceiling float32) {
	peak := Peak(w)
	if peak <= ceiling || peak == 0 {
		return
	}
	gain := float64(ceiling) / float64(peak)
	for i, s := range w.Samples {
		w.Samples[i] = float32(float64(s) * gain)
	}
}

// HasNonFinite reports whether any sample is NaN or infinite.
func HasNonFinite(w Waveform) bool {
	for _, s := range w.Samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
