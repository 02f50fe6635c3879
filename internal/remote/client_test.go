package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/phantomtrack/internal/audio"
	"github.com/satindergrewal/phantomtrack/internal/musicgen"
)

type fakeAPI struct {
	t       *testing.T
	result  []byte
	fail    bool
	pending int // polls answered with "running" before success

	mu       sync.Mutex
	received TaskRequest
	polls    int
	auth     string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /release_task", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = r.Header.Get("Authorization")
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.received))
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]string{"task_id": "task-1"}})
	})
	mux.HandleFunc("POST /query_result", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		status := statusRunning
		switch {
		case f.fail:
			status = statusFailed
		case f.polls > f.pending:
			status = statusSuccess
		}
		items, _ := json.Marshal([]resultItem{{File: "/v1/audio?path=outputs/task-1/0.wav", Status: 1}})
		json.NewEncoder(w).Encode(queryResp{Code: 200, Data: []taskResult{{
			TaskID: "task-1", Status: status, Result: string(items), Error: "cuda oom",
		}}})
	})
	mux.HandleFunc("GET /v1/audio", func(w http.ResponseWriter, r *http.Request) {
		w.Write(f.result)
	})
	return mux
}

func tone(rate int, d time.Duration) audio.Waveform {
	frames := audio.FramesFor(d, rate)
	w := audio.Waveform{SampleRate: rate, Channels: 1, Samples: make([]float32, frames)}
	for i := range w.Samples {
		w.Samples[i] = float32(i%50) / 100
	}
	return w
}

func encode(t *testing.T, w audio.Waveform) []byte {
	t.Helper()
	data, err := audio.EncodeWAVBytes(w, t.TempDir())
	require.NoError(t, err)
	return data
}

func testRequest() musicgen.Request {
	return musicgen.Request{
		Prompt:        "Jazz, smoky bar",
		Duration:      30 * time.Second,
		Temperature:   1,
		TopK:          250,
		GuidanceScale: 3,
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{t: t, result: encode(t, tone(32000, 500*time.Millisecond)), pending: 2}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	c := NewClient(Options{APIURL: srv.URL + "/", APIKey: "secret", PollInterval: time.Millisecond, ScratchDir: t.TempDir()}, nil)
	cond := tone(48000, time.Second)

	out, err := c.Generate(context.Background(), testRequest(), cond)
	require.NoError(t, err)
	assert.Equal(t, 32000, out.SampleRate)
	assert.Equal(t, audio.FramesFor(500*time.Millisecond, 32000), out.Frames())

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "Bearer secret", api.auth)
	assert.Equal(t, "Jazz, smoky bar", api.received.Prompt)
	assert.Equal(t, 30.0, api.received.Duration)
	assert.Equal(t, 250, api.received.TopK)
	assert.Equal(t, 48000, api.received.ReferenceRate)
	assert.Equal(t, 3, api.polls)

	ref, err := base64.StdEncoding.DecodeString(api.received.ReferenceAudio)
	require.NoError(t, err)
	decoded, err := audio.DecodeWAV(bytes.NewReader(ref))
	require.NoError(t, err)
	assert.Equal(t, cond.Frames(), decoded.Frames())
}

func TestGenerateTaskFailed(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{t: t, fail: true}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	c := NewClient(Options{APIURL: srv.URL, PollInterval: time.Millisecond}, nil)
	_, err := c.Generate(context.Background(), testRequest(), tone(48000, 100*time.Millisecond))
	assert.ErrorIs(t, err, ErrTaskFailed)
	assert.Contains(t, err.Error(), "cuda oom")
}

func TestGenerateReadsSharedVolume(t *testing.T) {
	t.Parallel()
	outDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(outDir, "outputs", "task-1"), 0o755))
	local := encode(t, tone(24000, 200*time.Millisecond))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "outputs", "task-1", "0.wav"), local, 0o644))

	// The HTTP download would return garbage; the shared file must win.
	api := &fakeAPI{t: t, result: []byte("not audio")}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	c := NewClient(Options{APIURL: srv.URL, OutputDir: outDir, PollInterval: time.Millisecond}, nil)
	out, err := c.Generate(context.Background(), testRequest(), tone(48000, 100*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 24000, out.SampleRate)
}

func TestGenerateUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(Options{APIURL: srv.URL, PollInterval: time.Millisecond}, nil)
	_, err := c.Generate(context.Background(), testRequest(), tone(48000, 100*time.Millisecond))
	assert.Error(t, err)
	assert.Error(t, c.Health(context.Background()))
}

func TestExtractFileRef(t *testing.T) {
	t.Parallel()
	ref, err := extractFileRef(`[{"file":"/v1/audio?path=a.wav","status":1}]`)
	require.NoError(t, err)
	assert.Equal(t, "/v1/audio?path=a.wav", ref)

	_, err = extractFileRef(`[]`)
	assert.Error(t, err)
	_, err = extractFileRef(`not json`)
	assert.Error(t, err)
}
