// Package suggest proposes text prompts for a genre, using a local LLM
// when one is configured and a curated list otherwise.
package suggest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Source tells where a suggestion came from.
type Source string

const (
	SourceLLM    Source = "llm"
	SourceStatic Source = "static"
)

// Suggestion is a prompt proposal.
type Suggestion struct {
	Genre  string `json:"genre"`
	Prompt string `json:"prompt"`
	Source Source `json:"source"`
}

// Completer is the LLM dependency.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Suggester proposes prompts. A nil Completer uses only the static list.
type Suggester struct {
	llm    Completer
	logger *zap.Logger

	mu   sync.Mutex
	last map[string]string // genre -> last LLM prompt
	next map[string]int    // genre -> next static index
}

// New creates a Suggester.
func New(llm Completer, logger *zap.Logger) *Suggester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suggester{
		llm:    llm,
		logger: logger.With(zap.String("component", "suggest")),
		last:   make(map[string]string),
		next:   make(map[string]int),
	}
}

const promptSystem = `You write short prompts for a text-to-music model.

Given a genre, output ONE prompt of 8-20 words describing an instrumental piece.
- Describe the sound: instruments, mood, tempo, production.
- Be specific: "warm Rhodes piano with tape hiss" rather than "piano".
- No lyrics, vocals, artist names, titles or explanations.
- Do not repeat the genre name.

Output ONLY the prompt text.

/no_think`

// Suggest returns a prompt for genre. LLM failures fall back to the static
// list.
func (s *Suggester) Suggest(ctx context.Context, genre string) Suggestion {
	if s.llm != nil {
		if p := s.fromLLM(ctx, genre); p != "" {
			return Suggestion{Genre: genre, Prompt: p, Source: SourceLLM}
		}
	}
	return Suggestion{Genre: genre, Prompt: s.fromList(genre), Source: SourceStatic}
}

func (s *Suggester) fromLLM(ctx context.Context, genre string) string {
	s.mu.Lock()
	last := s.last[genre]
	s.mu.Unlock()

	prompt := "Genre: " + genreOrDefault(genre)
	if last != "" {
		prompt += fmt.Sprintf("\nPrevious prompt (do NOT repeat this): %s", last)
	}
	out, err := s.llm.Complete(ctx, promptSystem, prompt)
	if err != nil {
		s.logger.Debug("llm suggestion failed", zap.Error(err))
		return ""
	}
	out = cleanPrompt(out)
	if len(out) < 10 || len(out) > 300 {
		s.logger.Debug("llm returned unusable suggestion", zap.String("output", out))
		return ""
	}

	s.mu.Lock()
	s.last[genre] = out
	s.mu.Unlock()
	return out
}

// fromList cycles through the curated prompts for genre.
func (s *Suggester) fromList(genre string) string {
	list := curated[genre]
	if len(list) == 0 {
		return Caption(genre)
	}
	s.mu.Lock()
	i := s.next[genre]
	s.next[genre] = (i + 1) % len(list)
	s.mu.Unlock()
	return list[i]
}

func genreOrDefault(genre string) string {
	if genre == "" || genre == "None" {
		return "any"
	}
	return genre
}

// cleanPrompt strips common LLM artifacts from output.
func cleanPrompt(s string) string {
	s = strings.TrimSpace(s)

	// Thinking-mode leakage
	if idx := strings.Index(s, "</think>"); idx >= 0 {
		s = strings.TrimSpace(s[idx+len("</think>"):])
	}

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	lower := strings.ToLower(s)
	for _, p := range []string{"here's a prompt:", "here is a prompt:", "prompt:"} {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
