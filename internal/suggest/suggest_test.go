package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/phantomtrack/internal/musicgen"
)

func fakeOllama(t *testing.T, reply string, status int) (*httptest.Server, *[]completionRequest) {
	t.Helper()
	var seen []completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			w.Write([]byte(`{"version":"0.6.0"}`))
		case "/api/generate":
			var req completionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			seen = append(seen, req)
			if status != http.StatusOK {
				w.WriteHeader(status)
				json.NewEncoder(w).Encode(errorResponse{Error: "model 'missing' not found"})
				return
			}
			json.NewEncoder(w).Encode(completionResponse{Response: reply, Done: true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestClientComplete(t *testing.T) {
	srv, seen := fakeOllama(t, "  warm tape hiss and soft Rhodes  \n", http.StatusOK)
	c := NewClient(srv.URL+"/", "llama3.2:3b")

	require.NoError(t, c.Ping(context.Background()))
	out, err := c.Complete(context.Background(), "sys", "Genre: Jazz")
	require.NoError(t, err)
	assert.Equal(t, "warm tape hiss and soft Rhodes", out)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "llama3.2:3b", req.Model)
	assert.Equal(t, "sys", req.System)
	assert.False(t, req.Stream)
	assert.Equal(t, DefaultSampling(), req.Options)
}

func TestClientWithSampling(t *testing.T) {
	srv, seen := fakeOllama(t, "calm piano", http.StatusOK)
	c := NewClient(srv.URL, "m").WithSampling(Sampling{Temperature: 0.2, NumPredict: 16})

	_, err := c.Complete(context.Background(), "", "x")
	require.NoError(t, err)
	assert.Equal(t, 0.2, (*seen)[0].Options.Temperature)
	assert.Equal(t, 16, (*seen)[0].Options.NumPredict)
	assert.Empty(t, (*seen)[0].Options.Stop)
}

func TestClientErrorStatus(t *testing.T) {
	srv, _ := fakeOllama(t, "", http.StatusNotFound)
	c := NewClient(srv.URL, "missing")
	_, err := c.Complete(context.Background(), "", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model 'missing' not found")
}

func TestClientIncompleteAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"half a","done":false}`))
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "m").Complete(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestClientUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "m")
	assert.Error(t, c.Ping(context.Background()))
}

func TestSuggestUsesLLM(t *testing.T) {
	srv, seen := fakeOllama(t, `"dusty vinyl drums with mellow jazz guitar"`, http.StatusOK)
	s := New(NewClient(srv.URL, "m"), nil)

	got := s.Suggest(context.Background(), "Lo-Fi")
	assert.Equal(t, SourceLLM, got.Source)
	assert.Equal(t, "dusty vinyl drums with mellow jazz guitar", got.Prompt)

	// The second request tells the model what it said last time.
	s.Suggest(context.Background(), "Lo-Fi")
	require.Len(t, *seen, 2)
	assert.Contains(t, (*seen)[1].Prompt, "dusty vinyl drums")
}

type failingLLM struct{}

func (failingLLM) Complete(context.Context, string, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestSuggestFallsBack(t *testing.T) {
	s := New(failingLLM{}, nil)
	got := s.Suggest(context.Background(), "Jazz")
	assert.Equal(t, SourceStatic, got.Source)
	assert.Equal(t, curated["Jazz"][0], got.Prompt)

	// Static prompts rotate.
	assert.Equal(t, curated["Jazz"][1], s.Suggest(context.Background(), "Jazz").Prompt)
	assert.Equal(t, curated["Jazz"][0], s.Suggest(context.Background(), "Jazz").Prompt)
}

func TestSuggestUnknownGenre(t *testing.T) {
	s := New(nil, nil)
	got := s.Suggest(context.Background(), "Polka")
	assert.Equal(t, SourceStatic, got.Source)
	assert.True(t, strings.HasPrefix(got.Prompt, "Polka style"))
}

func TestEveryGenreHasPrompts(t *testing.T) {
	for _, g := range musicgen.Genres() {
		assert.NotEmpty(t, curated[g], g)
	}
	assert.Len(t, Examples(), 4)
}

func TestCleanPrompt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"quoted prompt"`, "quoted prompt"},
		{"Prompt: soft piano", "soft piano"},
		{"<think>hmm</think>\nbright synths", "bright synths"},
		{"first line\nsecond line", "first line"},
		{"  plain  ", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanPrompt(tt.in), tt.in)
	}
}

func TestTitle(t *testing.T) {
	id := "3f2a9c1e-0000-0000-0000-000000000000"
	assert.Equal(t, Title("Jazz", id), Title("Jazz", id))
	assert.True(t, strings.HasSuffix(Title("Jazz", id), " Jazz"))
	assert.Equal(t, "Metal session", Title("Metal", id))
	assert.Equal(t, "phantom session", Title("None", id))
	assert.Empty(t, Title("Jazz", ""))
}
