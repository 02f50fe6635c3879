package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/phantomtrack/internal/audio"
	"github.com/satindergrewal/phantomtrack/internal/conditioner"
	"github.com/satindergrewal/phantomtrack/internal/metrics"
	"github.com/satindergrewal/phantomtrack/internal/musicgen"
	"github.com/satindergrewal/phantomtrack/internal/progress"
	"github.com/satindergrewal/phantomtrack/internal/studio"
)

type stubModel struct {
	mu        sync.Mutex
	err       error
	healthErr error
}

func (m *stubModel) Generate(ctx context.Context, req musicgen.Request, cond audio.Waveform) (audio.Waveform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return audio.Waveform{}, m.err
	}
	return audio.Waveform{SampleRate: 32000, Channels: 1, Samples: make([]float32, 16000)}, nil
}

func (m *stubModel) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthErr
}

func (m *stubModel) Close() error { return nil }

func (m *stubModel) fail(genErr, healthErr error) {
	m.mu.Lock()
	m.err, m.healthErr = genErr, healthErr
	m.mu.Unlock()
}

type testServer struct {
	*httptest.Server
	model *stubModel
	hub   *progress.Hub
	reg   *prometheus.Registry
}

func newTestServer(t *testing.T, tweak func(*Options, *conditioner.Options)) *testServer {
	t.Helper()
	model := &stubModel{}
	store, err := studio.NewStore(t.TempDir(), time.Hour, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, nil)
	hub := progress.NewHub()

	condOpts := conditioner.DefaultOptions()
	condOpts.SampleRate = 8000
	opts := Options{
		Hub:      hub,
		Metrics:  collector,
		Gatherer: reg,
		FFmpeg:   "/nonexistent/ffmpeg",
	}
	if tweak != nil {
		tweak(&opts, &condOpts)
	}
	cond := conditioner.New(condOpts, &audio.FFmpegDecoder{Binary: "/nonexistent/ffmpeg", TempDir: t.TempDir()}, nil)
	opts.Studio = studio.New(studio.Options{
		Conditioner: cond,
		Model: musicgen.NewHandle("stub", func(context.Context) (musicgen.Model, error) {
			return model, nil
		}, nil),
		Results: store,
		Events:  hub,
		Metrics: collector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := New(ctx, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &testServer{Server: ts, model: model, hub: hub, reg: reg}
}

func wavBytes(t *testing.T, d time.Duration) []byte {
	t.Helper()
	w := audio.Waveform{SampleRate: 8000, Channels: 1, Samples: make([]float32, audio.FramesFor(d, 8000))}
	for i := range w.Samples {
		w.Samples[i] = 0.25
	}
	data, err := audio.EncodeWAVBytes(w, t.TempDir())
	require.NoError(t, err)
	return data
}

type upload struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, fields map[string]string, files []upload) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile("tracks", f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, resp *http.Response) Response {
	t.Helper()
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func postGenerate(t *testing.T, ts *testServer, fields map[string]string, files []upload) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, fields, files)
	resp, err := http.Post(ts.URL+"/api/generate", ct, body)
	require.NoError(t, err)
	return resp
}

func TestGenerateAndDownload(t *testing.T) {
	ts := newTestServer(t, nil)
	clip := wavBytes(t, time.Second)

	resp := postGenerate(t, ts, map[string]string{
		"prompt":   "warm tape hiss",
		"genre":    "Lo-Fi",
		"duration": "30",
	}, []upload{{"a.wav", clip}, {"b.wav", clip}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	require.True(t, out.Success)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	data := out.Data.(map[string]any)
	assert.Equal(t, "Lo-Fi, warm tape hiss", data["prompt"])
	assert.EqualValues(t, 32000, data["sample_rate"])
	assert.InDelta(t, 0.5, data["duration_seconds"], 1e-9)
	downloadURL := data["download_url"].(string)
	assert.Equal(t, "api/results/"+data["id"].(string)+"/download", downloadURL)
	assert.Equal(t, "api/results/"+data["id"].(string)+"/stream", data["stream_url"])

	dl, err := http.Get(ts.URL + "/" + downloadURL)
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "audio/wav", dl.Header.Get("Content-Type"))
	assert.Contains(t, dl.Header.Get("Content-Disposition"), "phantom_track_")
	wav, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	got, err := audio.DecodeWAV(bytes.NewReader(wav))
	require.NoError(t, err)
	assert.Equal(t, 32000, got.SampleRate)

	list, err := http.Get(ts.URL + "/api/results")
	require.NoError(t, err)
	assert.Len(t, decode(t, list).Data, 1)
}

func TestGenerateUsesClientRequestID(t *testing.T) {
	ts := newTestServer(t, nil)
	const id = "0b0e6f1c-7a0e-4b5f-9a3c-2d9d7f1e8a11"
	l := ts.hub.Subscribe(id)
	defer ts.hub.Unsubscribe(l)

	resp := postGenerate(t, ts, map[string]string{"request_id": id}, []upload{{"a.wav", wavBytes(t, time.Second)}})
	out := decode(t, resp)
	require.True(t, out.Success)
	assert.Equal(t, id, out.Data.(map[string]any)["request_id"])

	var stages []progress.Stage
	timeout := time.After(2 * time.Second)
	for len(stages) < 4 {
		select {
		case e := <-l.C:
			stages = append(stages, e.Stage)
		case <-timeout:
			t.Fatalf("got stages %v", stages)
		}
	}
	assert.Equal(t, progress.StageComplete, stages[len(stages)-1])
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		files    func(t *testing.T) []upload
		tweak    func(*Options, *conditioner.Options)
		status   int
		code     string
		modelErr error
	}{
		{
			name:   "no tracks",
			files:  func(*testing.T) []upload { return nil },
			status: http.StatusBadRequest,
			code:   CodeInput,
		},
		{
			name: "too many tracks",
			files: func(t *testing.T) []upload {
				out := make([]upload, 21)
				for i := range out {
					out[i] = upload{"a.wav", []byte("x")}
				}
				return out
			},
			status: http.StatusBadRequest,
			code:   CodeInput,
		},
		{
			name: "combined size over limit",
			tweak: func(_ *Options, c *conditioner.Options) {
				c.MaxTotalBytes = 100
			},
			files: func(*testing.T) []upload {
				return []upload{{"a.wav", make([]byte, 60)}, {"b.wav", make([]byte, 41)}}
			},
			status: http.StatusRequestEntityTooLarge,
			code:   CodeTooLarge,
		},
		{
			name:   "duration out of range",
			fields: map[string]string{"duration": "121"},
			files:  func(t *testing.T) []upload { return []upload{{"a.wav", wavBytes(t, time.Second)}} },
			status: http.StatusUnprocessableEntity,
			code:   CodeValidation,
		},
		{
			name:   "unparsable number",
			fields: map[string]string{"top_k": "many"},
			files:  func(t *testing.T) []upload { return []upload{{"a.wav", wavBytes(t, time.Second)}} },
			status: http.StatusUnprocessableEntity,
			code:   CodeValidation,
		},
		{
			name: "corrupt track",
			files: func(t *testing.T) []upload {
				return []upload{{"a.wav", wavBytes(t, time.Second)}, {"b.wav", []byte("RIFF\x00\x00\x00\x00WAVEjunk")}}
			},
			status: http.StatusUnprocessableEntity,
			code:   CodeDecode,
		},
		{
			name:     "model failure",
			files:    func(t *testing.T) []upload { return []upload{{"a.wav", wavBytes(t, time.Second)}} },
			modelErr: errors.New("gpu on fire"),
			status:   http.StatusBadGateway,
			code:     CodeGeneration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.tweak)
			ts.model.fail(tt.modelErr, nil)
			resp := postGenerate(t, ts, tt.fields, tt.files(t))
			assert.Equal(t, tt.status, resp.StatusCode)
			out := decode(t, resp)
			assert.False(t, out.Success)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.code, out.Error.Code)
			assert.NotEmpty(t, out.Error.Message)
		})
	}
}

func TestReadUploadStopsAtTrackLimit(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("genre", "Jazz"))
	for range 20 {
		fw, err := mw.CreateFormFile("tracks", "a.wav")
		require.NoError(t, err)
		_, err = fw.Write([]byte("x"))
		require.NoError(t, err)
	}
	_, err := mw.CreateFormFile("tracks", "extra.wav")
	require.NoError(t, err)

	// The extra track's body must never be read.
	body := io.MultiReader(bytes.NewReader(buf.Bytes()), iotest.ErrReader(errors.New("read past the track limit")))
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	_, _, err = readUpload(req, 20)
	require.Error(t, err)
	assert.ErrorIs(t, err, conditioner.ErrTooManyTracks)
}

func TestReadUploadKeepsOrderAndFields(t *testing.T) {
	body, contentType := multipartBody(t, map[string]string{"genre": "Jazz", "prompt": "late night"},
		[]upload{{"a.wav", []byte("one")}, {"b.wav", []byte("two")}})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", contentType)

	values, tracks, err := readUpload(req, 20)
	require.NoError(t, err)
	assert.Equal(t, "Jazz", values.Get("genre"))
	assert.Equal(t, "late night", values.Get("prompt"))
	require.Len(t, tracks, 2)
	assert.Equal(t, "a.wav", tracks[0].Name)
	assert.Equal(t, []byte("two"), tracks[1].Data)
}

func TestGenerateBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, func(_ *Options, c *conditioner.Options) {
		c.MaxTotalBytes = 10
	})
	resp := postGenerate(t, ts, nil, []upload{{"a.wav", make([]byte, formOverhead+100)}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, CodeTooLarge, decode(t, resp).Error.Code)
}

func TestGenerateNotMultipart(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/api/generate", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeInput, decode(t, resp).Error.Code)
}

func TestGenerateRateLimited(t *testing.T) {
	ts := newTestServer(t, func(o *Options, _ *conditioner.Options) {
		o.RateLimit = 0.001
		o.RateBurst = 1
	})
	first := postGenerate(t, ts, nil, nil)
	first.Body.Close()
	assert.NotEqual(t, http.StatusTooManyRequests, first.StatusCode)

	second := postGenerate(t, ts, nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, CodeRateLimited, decode(t, second).Error.Code)
}

func TestOptionsAndGenres(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/options")
	require.NoError(t, err)
	out := decode(t, resp)
	require.True(t, out.Success)
	data := out.Data.(map[string]any)
	assert.Len(t, data["genres"], len(musicgen.Genres()))
	limits := data["limits"].(map[string]any)
	assert.EqualValues(t, 20, limits["max_tracks"])
	assert.EqualValues(t, 100_000_000, limits["max_total_bytes"])
	duration := data["ranges"].(map[string]any)["duration"].(map[string]any)
	assert.EqualValues(t, 15, duration["min"])
	assert.EqualValues(t, 120, duration["max"])
	assert.NotEmpty(t, data["examples"])

	resp, err = http.Get(ts.URL + "/api/genres")
	require.NoError(t, err)
	assert.Contains(t, decode(t, resp).Data, "City Pop")
}

func TestSuggest(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/suggest?genre=Jazz")
	require.NoError(t, err)
	out := decode(t, resp)
	require.True(t, out.Success)
	assert.Equal(t, "static", out.Data.(map[string]any)["source"])

	resp, err = http.Get(ts.URL + "/api/suggest?genre=Polka")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestResultNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/results/nope", "/api/results/nope/download", "/api/results/nope/stream"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp).Data.(map[string]any)["status"])

	ts.model.fail(nil, errors.New("connection refused"))
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", decode(t, resp).Data.(map[string]any)["status"])
}

func TestMetricsAndIndex(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_http_requests_total")
}

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := range 20 {
		for _, path := range []string{
			fmt.Sprintf("/api/results/zz%d/download", i),
			fmt.Sprintf("/api/junk-%d", i),
		} {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		}
	}

	families, err := ts.reg.Gather()
	require.NoError(t, err)
	paths := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "test_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" {
					paths[l.GetValue()] = true
				}
			}
		}
	}
	assert.Equal(t, map[string]bool{
		"/api/results/{id}/download": true,
		unmatchedRoute:               true,
	}, paths)
}

func TestUnknownAPIEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotFound, decode(t, resp).Error.Code)
}
