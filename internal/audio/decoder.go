package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Decoder turns encoded audio bytes into a waveform at the source's native
// sample rate and channel layout.
type Decoder interface {
	Decode(ctx context.Context, data []byte, name string) (Waveform, error)
}

// FFmpegDecoder decodes PCM WAV in-process and hands every other container
// to an ffmpeg subprocess, which converts it to a 16-bit WAV scratch file.
type FFmpegDecoder struct {
	// Binary is the ffmpeg executable; "ffmpeg" when empty.
	Binary string
	// TempDir holds scratch files; the OS temp dir when empty.
	TempDir string
}

// Decode implements Decoder. Scratch files are removed on every path.
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte, name string) (Waveform, error) {
	if len(data) == 0 {
		return Waveform{}, ErrEmptyAudio
	}
	format, err := Identify(data, name)
	if err != nil {
		return Waveform{}, err
	}
	if format == FormatWAV && IsPCMWAV(data) {
		return DecodeWAV(bytes.NewReader(data))
	}
	return d.transcode(ctx, data, format)
}

func (d *FFmpegDecoder) transcode(ctx context.Context, data []byte, format Format) (Waveform, error) {
	dir := d.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	id := uuid.NewString()
	in := filepath.Join(dir, "phantom-in-"+id+"."+string(format))
	out := filepath.Join(dir, "phantom-out-"+id+".wav")
	defer os.Remove(in)
	defer os.Remove(out)

	if err := os.WriteFile(in, data, 0o600); err != nil {
		return Waveform{}, fmt.Errorf("write scratch input: %w", err)
	}

	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	// Native rate and channel count are kept; resampling happens in-process.
	cmd := exec.CommandContext(ctx, bin,
		"-nostdin",
		"-i", in,
		"-vn",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"-loglevel", "error",
		"-y", out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return Waveform{}, fmt.Errorf("ffmpeg decode %s: %w", format, err)
		}
		return Waveform{}, fmt.Errorf("ffmpeg decode %s: %w: %s", format, err, msg)
	}

	f, err := os.Open(out)
	if err != nil {
		return Waveform{}, fmt.Errorf("open decoded audio: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// PlaybackPCM converts a waveform to interleaved int16 samples in the
// playback format (48kHz stereo).
func PlaybackPCM(w Waveform) []int16 {
	w = Resample(ToChannels(w, Channels), SampleRate)
	pcm := make([]int16, len(w.Samples))
	for i, s := range w.Samples {
		pcm[i] = floatToInt16(s)
	}
	return pcm
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
