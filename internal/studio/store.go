package studio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/phantomtrack/internal/audio"
	"github.com/satindergrewal/phantomtrack/internal/suggest"
)

// ErrNotFound is returned for unknown or expired results.
var ErrNotFound = errors.New("result not found")

// Artifact describes a generated track held for playback and download.
type Artifact struct {
	ID         string        `json:"id"`
	RequestID  string        `json:"request_id"`
	Genre      string        `json:"genre"`
	Prompt     string        `json:"prompt"`
	Title      string        `json:"title"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"-"`
	Size       int64         `json:"size_bytes"`
	Path       string        `json:"-"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// FileName is the suggested download name.
func (a Artifact) FileName() string {
	return "phantom_track_" + a.ID[:8] + ".wav"
}

// Store keeps generated tracks as temporary WAV files in a private
// directory. Only metadata stays in memory. Entries expire after the TTL,
// the oldest is evicted once maxEntries is reached, and everything is
// removed on Close.
type Store struct {
	dir        string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *zap.Logger

	mu      sync.RWMutex
	entries map[string]Artifact
	closed  bool
}

// NewStore creates a private directory under parent (the OS temp dir when
// empty). A non-positive maxEntries leaves the count unbounded.
func NewStore(parent string, ttl time.Duration, maxEntries int, logger *zap.Logger) (*Store, error) {
	dir, err := os.MkdirTemp(parent, "phantomtrack-results-")
	if err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		dir:        dir,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "results")),
		entries:    make(map[string]Artifact),
	}, nil
}

// Dir returns the directory holding artifacts.
func (s *Store) Dir() string { return s.dir }

// Save writes w as a WAV artifact.
func (s *Store) Save(requestID, genre, prompt string, w audio.Waveform) (Artifact, error) {
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+".wav")
	if err := audio.WriteWAVFile(path, w); err != nil {
		return Artifact{}, fmt.Errorf("write result: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return Artifact{}, fmt.Errorf("stat result: %w", err)
	}

	now := s.now()
	a := Artifact{
		ID:         id,
		RequestID:  requestID,
		Genre:      genre,
		Prompt:     prompt,
		Title:      suggest.Title(genre, id),
		SampleRate: w.SampleRate,
		Channels:   w.Channels,
		Duration:   w.Duration(),
		Size:       info.Size(),
		Path:       path,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		os.Remove(path)
		return Artifact{}, errors.New("result store closed")
	}
	if s.maxEntries > 0 {
		for len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}
	s.entries[id] = a
	return a, nil
}

// Get returns the artifact for id.
func (s *Store) Get(id string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.entries[id]
	if !ok || s.now().After(a.ExpiresAt) {
		return Artifact{}, ErrNotFound
	}
	return a, nil
}

// Waveform decodes the stored WAV for id, for preview playback.
func (s *Store) Waveform(id string) (audio.Waveform, error) {
	a, err := s.Get(id)
	if err != nil {
		return audio.Waveform{}, err
	}
	f, err := os.Open(a.Path)
	if err != nil {
		// Swept or evicted since Get.
		return audio.Waveform{}, ErrNotFound
	}
	defer f.Close()
	w, err := audio.DecodeWAV(f)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode result %s: %w", id, err)
	}
	return w, nil
}

// List returns live artifacts, newest first.
func (s *Store) List() []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]Artifact, 0, len(s.entries))
	for _, a := range s.entries {
		if !now.After(a.ExpiresAt) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Len returns the number of stored entries, expired ones included until
// the next sweep.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep deletes expired artifacts and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, a := range s.entries {
		if now.After(a.ExpiresAt) {
			s.removeLocked(id, a)
			n++
		}
	}
	return n
}

// Run sweeps on every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired results removed", zap.Int("count", n))
			}
		}
	}
}

// Close removes every artifact and the store directory.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, a := range s.entries {
		s.removeLocked(id, a)
	}
	return os.RemoveAll(s.dir)
}

func (s *Store) evictOldestLocked() {
	var oldest Artifact
	for _, a := range s.entries {
		if oldest.ID == "" || a.CreatedAt.Before(oldest.CreatedAt) {
			oldest = a
		}
	}
	if oldest.ID == "" {
		return
	}
	s.logger.Debug("result evicted", zap.String("id", oldest.ID))
	s.removeLocked(oldest.ID, oldest)
}

func (s *Store) removeLocked(id string, a Artifact) {
	delete(s.entries, id)
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove result file", zap.String("id", id), zap.Error(err))
	}
}
