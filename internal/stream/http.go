// Package stream previews stored results in real time, as a chunked MP3
// over HTTP or as Opus over WebRTC.
package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/audio"
)

// Source resolves a result ID to its audio.
type Source interface {
	Waveform(id string) (audio.Waveform, error)
}

// resultID reads the {id} route variable.
func resultID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// HTTPHandler serves a chunked MP3 stream of one result.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real time.
type HTTPHandler struct {
	source Source
	ffmpeg string
	logger *zap.Logger
}

// NewHTTPHandler creates an HTTP stream handler. ffmpeg is the binary path
// ("ffmpeg" when empty).
func NewHTTPHandler(source Source, ffmpeg string, logger *zap.Logger) *HTTPHandler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		source: source,
		ffmpeg: ffmpeg,
		logger: logger.With(zap.String("component", "stream_http")),
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := resultID(r)
	wave, err := h.source.Waveform(id)
	if err != nil {
		http.Error(w, "result not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// FFmpeg: PCM stdin -> MP3 stdout
	cmd := exec.CommandContext(ctx, h.ffmpeg,
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.logger.Error("stdin pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.logger.Error("stdout pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.logger.Error("ffmpeg start", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")

	player := audio.NewPlayer(wave)
	go player.Run(ctx)

	h.logger.Debug("preview started", zap.String("id", id), zap.Duration("length", player.Duration()))
	defer func() {
		h.logger.Debug("preview ended", zap.String("id", id), zap.Duration("position", player.Position()))
	}()

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for frame := range player.Frames() {
			if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
				cancel()
				// Drain so Run can finish.
				for range player.Frames() {
				}
				return
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				cancel()
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.logger.Debug("ffmpeg read", zap.Error(err))
			}
			break
		}
	}

	cmd.Wait()
}
