package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrInvalidWAV is returned for data that is not a readable PCM WAV file.
	ErrInvalidWAV = errors.New("invalid wav data")
	// ErrEmptyAudio is returned when decoding yields no samples.
	ErrEmptyAudio = errors.New("audio contains no samples")
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// IsPCMWAV reports whether data is a WAV file go-audio can decode natively
// (integer PCM). Float and compressed WAV variants go through ffmpeg.
func IsPCMWAV(data []byte) bool {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return false
	}
	return dec.WavAudioFormat == wavFormatPCM || dec.WavAudioFormat == wavFormatExtensible
}

// DecodeWAV decodes an integer PCM WAV stream at its native rate and layout.
func DecodeWAV(r io.ReadSeeker) (Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Waveform{}, ErrInvalidWAV
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Waveform{}, fmt.Errorf("rewind wav: %w", err)
	}
	dec = wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return Waveform{}, ErrInvalidWAV
	}

	channels := buf.Format.NumChannels
	n := len(buf.Data) - len(buf.Data)%channels
	if n == 0 {
		return Waveform{}, ErrEmptyAudio
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}
	samples := make([]float32, n)
	if depth == 8 {
		// 8-bit WAV is unsigned
		for i := 0; i < n; i++ {
			samples[i] = float32(buf.Data[i]-128) / 128
		}
	} else {
		scale := math.Pow(2, float64(depth-1))
		for i := 0; i < n; i++ {
			samples[i] = float32(float64(buf.Data[i]) / scale)
		}
	}

	return Waveform{
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
		Samples:    samples,
	}, nil
}

// EncodeWAV writes w as 16-bit PCM WAV. Samples outside [-1, 1] are clipped.
func EncodeWAV(out io.WriteSeeker, w Waveform) error {
	if w.SampleRate <= 0 || w.Channels <= 0 {
		return fmt.Errorf("encode wav: invalid format %d Hz x %d ch", w.SampleRate, w.Channels)
	}
	enc := wav.NewEncoder(out, w.SampleRate, BitDepth, w.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: w.Channels, SampleRate: w.SampleRate},
		SourceBitDepth: BitDepth,
		Data:           make([]int, len(w.Samples)),
	}
	for i, s := range w.Samples {
		buf.Data[i] = int(floatToInt16(s))
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteWAVFile encodes w into a new file at path.
func WriteWAVFile(path string, w Waveform) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return EncodeWAV(f, w)
}

// EncodeWAVBytes encodes w through a scratch file in dir (the OS temp dir
// when empty). The scratch file is removed before returning.
func EncodeWAVBytes(w Waveform, dir string) ([]byte, error) {
	f, err := os.CreateTemp(dir, "phantom-wav-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create scratch wav: %w", err)
	}
	name := f.Name()
	defer os.Remove(name)
	defer f.Close()

	if err := EncodeWAV(f, w); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

func floatToInt16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
