package audio

import (
	"context"
	"sync"
	"time"
)

// Player paces a waveform out as 20ms playback frames in real time.
// Each preview listener owns its own Player.
type Player struct {
	pcm     []int16
	frameCh chan []int16
	tick    time.Duration

	mu       sync.RWMutex
	position time.Duration
}

// NewPlayer prepares w for playback in the 48kHz stereo frame format.
func NewPlayer(w Waveform) *Player {
	return &Player{
		pcm:     PlaybackPCM(w),
		frameCh: make(chan []int16, 100),
		tick:    FrameDuration,
	}
}

// Frames returns the channel of outgoing PCM frames. It is closed when
// playback ends or the context passed to Run is cancelled.
func (p *Player) Frames() <-chan []int16 {
	return p.frameCh
}

// Duration returns the total playing time.
func (p *Player) Duration() time.Duration {
	return time.Duration(p.totalFrames()) * FrameDuration
}

// Position returns how much has been sent so far.
func (p *Player) Position() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

func (p *Player) totalFrames() int {
	return (len(p.pcm) + FrameSamples - 1) / FrameSamples
}

// Run sends every frame at real-time rate. Blocks until the waveform is
// exhausted or ctx is cancelled. The final frame is zero padded.
func (p *Player) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	total := p.totalFrames()
	for i := 0; i < total; i++ {
		frame := make([]int16, FrameSamples)
		copy(frame, p.pcm[i*FrameSamples:min((i+1)*FrameSamples, len(p.pcm))])
		if !p.sendFrame(ctx, ticker, frame) {
			return
		}
		p.updatePosition(i + 1)
	}
}

// sendFrame waits for the ticker then sends a frame. Returns false on cancel.
func (p *Player) sendFrame(ctx context.Context, ticker *time.Ticker, frame []int16) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
	}

	select {
	case p.frameCh <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Player) updatePosition(frames int) {
	p.mu.Lock()
	p.position = time.Duration(frames) * FrameDuration
	p.mu.Unlock()
}
