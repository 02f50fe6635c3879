// Package remote talks to a music generation server over its task-based
// REST API: submit a task, poll until it finishes, fetch the audio.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/audio"
	"github.com/satindergrewal/phantomtrack/internal/musicgen"
)

// Task states reported by /query_result.
const (
	statusRunning = 0
	statusSuccess = 1
	statusFailed  = 2
)

// ErrTaskFailed is returned when the server reports a failed task.
var ErrTaskFailed = errors.New("generation task failed")

// Options configures a Client.
type Options struct {
	APIURL string
	APIKey string
	// OutputDir is a volume shared with the server. Results found there are
	// read directly instead of downloaded.
	OutputDir    string
	PollInterval time.Duration
	// ScratchDir holds the encoded conditioning WAV while it is uploaded.
	ScratchDir     string
	RequestTimeout time.Duration
}

// Client implements musicgen.Model against the REST API.
type Client struct {
	opts   Options
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates an API client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.RequestTimeout},
		logger: logger.With(zap.String("component", "remote")),
	}
}

// TaskRequest is the body of /release_task.
type TaskRequest struct {
	Prompt         string  `json:"prompt"`
	Duration       float64 `json:"audio_duration"`
	Temperature    float64 `json:"temperature"`
	TopK           int     `json:"top_k"`
	TopP           float64 `json:"top_p"`
	GuidanceScale  float64 `json:"guidance_scale"`
	ReferenceAudio string  `json:"reference_audio"` // base64 WAV
	ReferenceRate  int     `json:"reference_sample_rate"`
	AudioFormat    string  `json:"audio_format"`
}

type releaseResp struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type queryResp struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

type taskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"` // 0=running, 1=success, 2=failed
	Result string `json:"result"` // JSON string with file info
	Error  string `json:"error,omitempty"`
}

type resultItem struct {
	File   string `json:"file"`
	Status int    `json:"status"`
}

// Generate implements musicgen.Model. Transport and decode failures end the
// call; there are no retries.
func (c *Client) Generate(ctx context.Context, req musicgen.Request, conditioning audio.Waveform) (audio.Waveform, error) {
	ref, err := audio.EncodeWAVBytes(conditioning, c.opts.ScratchDir)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("encode conditioning: %w", err)
	}

	taskID, err := c.Submit(ctx, TaskRequest{
		Prompt:         req.Prompt,
		Duration:       req.Duration.Seconds(),
		Temperature:    req.Temperature,
		TopK:           req.TopK,
		TopP:           req.TopP,
		GuidanceScale:  req.GuidanceScale,
		ReferenceAudio: base64.StdEncoding.EncodeToString(ref),
		ReferenceRate:  conditioning.SampleRate,
		AudioFormat:    "wav",
	})
	if err != nil {
		return audio.Waveform{}, err
	}
	c.logger.Info("task submitted", zap.String("task_id", taskID))

	fileRef, err := c.PollUntilDone(ctx, taskID)
	if err != nil {
		return audio.Waveform{}, err
	}
	data, err := c.fetchAudio(ctx, fileRef)
	if err != nil {
		return audio.Waveform{}, err
	}
	w, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode result: %w", err)
	}
	return w, nil
}

// Health checks the /health endpoint once.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.APIURL+"/health", nil)
	if err != nil {
		return err
	}
	c.authorize(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// Close implements musicgen.Model.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Submit posts a generation task and returns its ID.
func (c *Client) Submit(ctx context.Context, req TaskRequest) (string, error) {
	var result releaseResp
	if err := c.postJSON(ctx, "/release_task", req, &result); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("API error (code %d): %s", result.Code, result.Error)
	}
	if result.Data.TaskID == "" {
		return "", fmt.Errorf("API returned no task id")
	}
	return result.Data.TaskID, nil
}

// PollUntilDone polls for task completion, returning the result file
// reference.
func (c *Client) PollUntilDone(ctx context.Context, taskID string) (string, error) {
	body := map[string][]string{"task_id_list": {taskID}}
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		var result queryResp
		if err := c.postJSON(ctx, "/query_result", body, &result); err != nil {
			return "", fmt.Errorf("poll task %s: %w", taskID, err)
		}

		if len(result.Data) > 0 {
			task := result.Data[0]
			switch task.Status {
			case statusSuccess:
				return extractFileRef(task.Result)
			case statusFailed:
				if task.Error != "" {
					return "", fmt.Errorf("%w: %s: %s", ErrTaskFailed, taskID, task.Error)
				}
				return "", fmt.Errorf("%w: %s", ErrTaskFailed, taskID)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(r *http.Request) {
	if c.opts.APIKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
}

// extractFileRef parses the result JSON and returns the first file
// reference.
func extractFileRef(resultJSON string) (string, error) {
	var items []resultItem
	if err := json.Unmarshal([]byte(resultJSON), &items); err != nil {
		return "", fmt.Errorf("parse result items: %w", err)
	}
	if len(items) == 0 || items[0].File == "" {
		return "", fmt.Errorf("no audio file in result")
	}
	return items[0].File, nil
}

// fetchAudio reads the result from the shared volume when possible and
// downloads it otherwise. References look like
// "/v1/audio?path=outputs/task_xxx/0.wav".
func (c *Client) fetchAudio(ctx context.Context, fileRef string) ([]byte, error) {
	if c.opts.OutputDir != "" {
		if u, err := url.Parse(fileRef); err == nil {
			if relPath := u.Query().Get("path"); relPath != "" && filepath.IsLocal(relPath) {
				localPath := filepath.Join(c.opts.OutputDir, relPath)
				if data, err := os.ReadFile(localPath); err == nil {
					return data, nil
				}
			}
		}
	}
	return c.downloadAudio(ctx, fileRef)
}

func (c *Client) downloadAudio(ctx context.Context, fileRef string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.APIURL+fileRef, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	c.authorize(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}
