package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/conditioner"
	"github.com/satindergrewal/phantomtrack/internal/musicgen"
	"github.com/satindergrewal/phantomtrack/internal/studio"
	"github.com/satindergrewal/phantomtrack/internal/suggest"
)

// sliderRange is an advisory UI range. Server validation enforces the
// real bounds.
type sliderRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

type optionsView struct {
	Genres   []string               `json:"genres"`
	Defaults musicgen.Params        `json:"defaults"`
	Ranges   map[string]sliderRange `json:"ranges"`
	Limits   limitsView             `json:"limits"`
	Examples []string               `json:"examples"`
}

type limitsView struct {
	MaxTracks     int   `json:"max_tracks"`
	MaxTotalBytes int64 `json:"max_total_bytes"`
}

type resultView struct {
	ID              string    `json:"id"`
	RequestID       string    `json:"request_id"`
	Title           string    `json:"title"`
	Genre           string    `json:"genre"`
	Prompt          string    `json:"prompt"`
	FileName        string    `json:"file_name"`
	DurationSeconds float64   `json:"duration_seconds"`
	SampleRate      int       `json:"sample_rate"`
	Channels        int       `json:"channels"`
	SizeBytes       int64     `json:"size_bytes"`
	DownloadURL     string    `json:"download_url"`
	StreamURL       string    `json:"stream_url"`
	OfferURL        string    `json:"offer_url"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func newResultView(a studio.Artifact) resultView {
	// Relative so the UI resolves them under a proxy prefix.
	base := "api/results/" + a.ID
	return resultView{
		ID:              a.ID,
		RequestID:       a.RequestID,
		Title:           a.Title,
		Genre:           a.Genre,
		Prompt:          a.Prompt,
		FileName:        a.FileName(),
		DurationSeconds: a.Duration.Seconds(),
		SampleRate:      a.SampleRate,
		Channels:        a.Channels,
		SizeBytes:       a.Size,
		DownloadURL:     base + "/download",
		StreamURL:       base + "/stream",
		OfferURL:        base + "/offer",
		CreatedAt:       a.CreatedAt,
		ExpiresAt:       a.ExpiresAt,
	}
}

func (s *Server) handleGenres(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, musicgen.Genres())
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	limits := s.studio.Conditioner().Options()
	writeSuccess(w, r, optionsView{
		Genres:   musicgen.Genres(),
		Defaults: musicgen.DefaultParams(),
		Ranges: map[string]sliderRange{
			"duration":       {Min: musicgen.MinDurationSeconds, Max: musicgen.MaxDurationSeconds, Step: 5},
			"temperature":    {Min: 0.1, Max: 1.5, Step: 0.1},
			"top_k":          {Min: 50, Max: 500, Step: 10},
			"top_p":          {Min: 0, Max: 1, Step: 0.05},
			"guidance_scale": {Min: 1, Max: 7, Step: 0.5},
		},
		Limits: limitsView{
			MaxTracks:     limits.MaxCount,
			MaxTotalBytes: limits.MaxTotalBytes,
		},
		Examples: suggest.Examples(),
	})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	genre := r.URL.Query().Get("genre")
	if genre == "" {
		genre = musicgen.GenreNone
	}
	if !musicgen.IsValidGenre(genre) {
		writeError(w, r, http.StatusUnprocessableEntity, CodeValidation, fmt.Sprintf("unknown genre %q", genre))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()
	writeSuccess(w, r, s.suggester.Suggest(ctx, genre))
}

// handleGenerate streams the multipart form (tracks plus settings) and
// runs one submission synchronously.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	limits := s.studio.Conditioner().Options()
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxTotalBytes+formOverhead)

	values, tracks, err := readUpload(r, limits.MaxCount)
	if err != nil {
		var tooBig *http.MaxBytesError
		var inputErr *conditioner.InputError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, r, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", limits.MaxTotalBytes))
		case errors.As(err, &inputErr):
			s.writeSubmitError(w, r, err)
		default:
			writeError(w, r, http.StatusBadRequest, CodeInput, "expected a multipart form: "+err.Error())
		}
		return
	}

	params, err := musicgen.ParseForm(values)
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}

	sub := studio.Submission{
		RequestID: RequestIDFromContext(r.Context()),
		Tracks:    tracks,
		Params:    params,
	}
	if id := values.Get("request_id"); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			sub.RequestID = id
		}
	}

	artifact, err := s.studio.HandleSubmit(r.Context(), sub)
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}
	writeSuccess(w, r, newResultView(artifact))
}

// readUpload reads the form part by part. File parts named "tracks" become
// tracks in upload order; the request is rejected as soon as the part
// after maxCount starts, before its body is read.
func readUpload(r *http.Request, maxCount int) (url.Values, []conditioner.Track, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, err
	}
	values := url.Values{}
	var tracks []conditioner.Track
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return values, tracks, nil
		}
		if err != nil {
			return nil, nil, err
		}
		name := part.FormName()
		switch {
		case part.FileName() != "":
			if name != "tracks" {
				part.Close()
				continue
			}
			if len(tracks) == maxCount {
				part.Close()
				return nil, nil, &conditioner.InputError{
					Err:    conditioner.ErrTooManyTracks,
					Detail: fmt.Sprintf("more than %d tracks", maxCount),
				}
			}
			data, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return nil, nil, fmt.Errorf("read upload %s: %w", part.FileName(), err)
			}
			tracks = append(tracks, conditioner.Track{Name: part.FileName(), Data: data})
		case name != "":
			v, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			part.Close()
			if err != nil {
				return nil, nil, fmt.Errorf("read field %s: %w", name, err)
			}
			values.Add(name, string(v))
		default:
			part.Close()
		}
	}
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("submission failed", zap.Error(err))
		msg = "internal error"
	}
	writeError(w, r, status, code, msg)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	list := s.studio.Results().List()
	views := make([]resultView, len(list))
	for i, a := range list {
		views[i] = newResultView(a)
	}
	writeSuccess(w, r, views)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	a, err := s.studio.Results().Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	writeSuccess(w, r, newResultView(a))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	a, err := s.studio.Results().Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	f, err := os.Open(a.Path)
	if err != nil {
		// Swept between Get and Open.
		writeError(w, r, http.StatusNotFound, CodeNotFound, studio.ErrNotFound.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.FileName()))
	http.ServeContent(w, r, a.FileName(), a.CreatedAt, f)
}

type healthView struct {
	Status    string `json:"status"`
	Backend   string `json:"backend"`
	Model     string `json:"model"`
	Results   int    `json:"results"`
	Listeners int    `json:"listeners"`
	Peers     int    `json:"peers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	view := healthView{
		Status:    "ok",
		Backend:   s.studio.Model().Backend(),
		Model:     "ok",
		Results:   s.studio.Results().Len(),
		Listeners: s.hub.ListenerCount(),
		Peers:     s.webrtc.PeerCount(),
	}
	if err := s.studio.Model().Health(ctx); err != nil {
		view.Status = "degraded"
		view.Model = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Success:   false,
			Data:      view,
			Error:     &ErrorInfo{Code: CodeUnavailable, Message: "model backend unavailable"},
			Timestamp: time.Now().UTC(),
			RequestID: RequestIDFromContext(r.Context()),
		})
		return
	}
	writeSuccess(w, r, view)
}
