package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sampling holds the Ollama options used for prompt suggestions.
type Sampling struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	NumPredict    int      `json:"num_predict"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
}

// DefaultSampling favours varied short answers. Generation stops at the
// first blank line.
func DefaultSampling() Sampling {
	return Sampling{
		Temperature:   0.9,
		TopP:          0.95,
		NumPredict:    96,
		RepeatPenalty: 1.1,
		Stop:          []string{"\n\n"},
	}
}

// ErrIncomplete is returned when Ollama stops before finishing an answer.
var ErrIncomplete = errors.New("ollama returned an incomplete answer")

// Client asks an Ollama server for prompt suggestions.
type Client struct {
	baseURL   string
	model     string
	sampling  Sampling
	keepAlive string
	http      *http.Client
}

// NewClient creates a client for the Ollama server at baseURL.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		sampling:  DefaultSampling(),
		keepAlive: "10m",
		http: &http.Client{
			Timeout: 60 * time.Second, // first call loads the model
		},
	}
}

// WithSampling returns a copy of c using s.
func (c *Client) WithSampling(s Sampling) *Client {
	cp := *c
	cp.sampling = s
	return &cp
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type completionRequest struct {
	Model     string   `json:"model"`
	System    string   `json:"system,omitempty"`
	Prompt    string   `json:"prompt"`
	Stream    bool     `json:"stream"`
	KeepAlive string   `json:"keep_alive,omitempty"`
	Options   Sampling `json:"options"`
}

type completionResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Complete returns the model's answer to user under the system
// instructions, trimmed of surrounding whitespace.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:     c.model,
		System:    system,
		Prompt:    user,
		KeepAlive: c.keepAlive,
		Options:   c.sampling,
	})
	if err != nil {
		return "", fmt.Errorf("marshal suggestion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode suggestion: %w", err)
	}
	if !out.Done {
		return "", ErrIncomplete
	}
	return strings.TrimSpace(out.Response), nil
}

// statusError prefers Ollama's {"error": ...} message over the raw body.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return fmt.Errorf("ollama status %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
