package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeOut ramps the last frames sample frames of w down to silence in place
// along a smoothstep curve. The length of w is unchanged.
func FadeOut(w Waveform, frames int) {
	total := w.Frames()
	if frames > total {
		frames = total
	}
	if frames <= 0 {
		return
	}
	start := total - frames
	for i := 0; i < frames; i++ {
		gain := float32(1 - Smoothstep(float64(i+1)/float64(frames)))
		for c := 0; c < w.Channels; c++ {
			w.Samples[(start+i)*w.Channels+c] *= gain
		}
	}
}
