package musicgen

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPrompt replaces a blank prompt.
const DefaultPrompt = "smooth melodic music"

// Duration bounds in seconds, inclusive.
const (
	MinDurationSeconds = 15
	MaxDurationSeconds = 120
)

var (
	ErrDurationRange    = errors.New("duration must be between 15 and 120 seconds")
	ErrTemperatureRange = errors.New("temperature must be greater than 0")
	ErrTopKRange        = errors.New("top_k must be at least 1")
	ErrTopPRange        = errors.New("top_p must be between 0 and 1")
	ErrGuidanceRange    = errors.New("guidance_scale must be at least 0")
	ErrUnknownGenre     = errors.New("unknown genre")
	ErrMalformed        = errors.New("malformed value")
)

// ValidationError reports a generation parameter outside its allowed range.
// Values are never clamped.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Params are the user-facing generation settings as collected by the form.
type Params struct {
	Prompt        string  `json:"prompt"`
	Genre         string  `json:"genre"`
	Duration      int     `json:"duration"`
	Temperature   float64 `json:"temperature"`
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
	GuidanceScale float64 `json:"guidance_scale"`
}

// DefaultParams returns the form's initial values. A TopP of 0 disables
// nucleus sampling.
func DefaultParams() Params {
	return Params{
		Genre:         GenreNone,
		Duration:      30,
		Temperature:   1.0,
		TopK:          250,
		TopP:          0,
		GuidanceScale: 3.0,
	}
}

// Request is a validated generation call.
type Request struct {
	Prompt        string
	Duration      time.Duration
	Temperature   float64
	TopK          int
	TopP          float64
	GuidanceScale float64
}

// BuildRequest validates p and folds the genre into the prompt.
func BuildRequest(p Params) (Request, error) {
	if p.Duration < MinDurationSeconds || p.Duration > MaxDurationSeconds {
		return Request{}, invalid("duration", strconv.Itoa(p.Duration), ErrDurationRange)
	}
	if !(p.Temperature > 0) || math.IsInf(p.Temperature, 0) {
		return Request{}, invalid("temperature", formatFloat(p.Temperature), ErrTemperatureRange)
	}
	if p.TopK < 1 {
		return Request{}, invalid("top_k", strconv.Itoa(p.TopK), ErrTopKRange)
	}
	if !(p.TopP >= 0 && p.TopP <= 1) {
		return Request{}, invalid("top_p", formatFloat(p.TopP), ErrTopPRange)
	}
	if !(p.GuidanceScale >= 0) || math.IsInf(p.GuidanceScale, 0) {
		return Request{}, invalid("guidance_scale", formatFloat(p.GuidanceScale), ErrGuidanceRange)
	}
	genre := p.Genre
	if genre == "" {
		genre = GenreNone
	}
	if !IsValidGenre(genre) {
		return Request{}, invalid("genre", genre, ErrUnknownGenre)
	}

	return Request{
		Prompt:        FoldPrompt(genre, p.Prompt),
		Duration:      time.Duration(p.Duration) * time.Second,
		Temperature:   p.Temperature,
		TopK:          p.TopK,
		TopP:          p.TopP,
		GuidanceScale: p.GuidanceScale,
	}, nil
}

// FoldPrompt prefixes the prompt with the genre. A blank prompt becomes
// DefaultPrompt.
func FoldPrompt(genre, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if genre == "" || genre == GenreNone {
		return prompt
	}
	return genre + ", " + prompt
}

// ParseForm reads Params from submitted form values. Missing fields keep
// their defaults; unparsable numbers are a ValidationError.
func ParseForm(values url.Values) (Params, error) {
	p := DefaultParams()
	p.Prompt = values.Get("prompt")
	if g := strings.TrimSpace(values.Get("genre")); g != "" {
		p.Genre = g
	}

	var err error
	if p.Duration, err = formInt(values, "duration", p.Duration); err != nil {
		return Params{}, err
	}
	if p.Temperature, err = formFloat(values, "temperature", p.Temperature); err != nil {
		return Params{}, err
	}
	if p.TopK, err = formInt(values, "top_k", p.TopK); err != nil {
		return Params{}, err
	}
	if p.TopP, err = formFloat(values, "top_p", p.TopP); err != nil {
		return Params{}, err
	}
	if p.GuidanceScale, err = formFloat(values, "guidance_scale", p.GuidanceScale); err != nil {
		return Params{}, err
	}
	return p, nil
}

// formInt accepts whole numbers written as floats ("30.0") since sliders
// may post them that way.
func formInt(values url.Values, key string, def int) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, invalid(key, raw, ErrMalformed)
	}
	return int(f), nil
}

func formFloat(values url.Values, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid(key, raw, ErrMalformed)
	}
	return f, nil
}

func invalid(field, value string, err error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Err: err}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
