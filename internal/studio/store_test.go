package studio

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/phantomtrack/internal/audio"
)

func testWave() audio.Waveform {
	return audio.Waveform{SampleRate: 8000, Channels: 1, Samples: make([]float32, 8000)}
}

func TestStoreSaveGet(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), time.Hour, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	a, err := s.Save("req-1", "Rock", "Rock, riffs", testWave())
	require.NoError(t, err)
	assert.FileExists(t, a.Path)
	assert.Equal(t, time.Second, a.Duration)
	assert.Positive(t, a.Size)
	assert.Equal(t, "phantom_track_"+a.ID[:8]+".wav", a.FileName())
	assert.Contains(t, a.Title, "Rock")

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, s.List(), 1)
}

func TestStoreExpiry(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), time.Minute, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	a, err := s.Save("req", "None", "p", testWave())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Waveform(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.List())

	assert.Equal(t, 1, s.Sweep())
	assert.Zero(t, s.Len())
	assert.NoFileExists(t, a.Path)
}

func TestStoreCloseRemovesEverything(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), time.Hour, 0, nil)
	require.NoError(t, err)
	_, err = s.Save("req", "None", "p", testWave())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))

	_, err = s.Save("req", "None", "p", testWave())
	assert.Error(t, err)
}

func TestStoreEvictsOldestPastCap(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), time.Hour, 3, nil)
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	var saved []Artifact
	for range 5 {
		a, err := s.Save("req", "None", "p", testWave())
		require.NoError(t, err)
		saved = append(saved, a)
		now = now.Add(time.Second)
	}

	assert.Equal(t, 3, s.Len())
	for _, a := range saved[:2] {
		_, err := s.Get(a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoFileExists(t, a.Path)
	}
	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, saved[4].ID, list[0].ID)
	assert.Equal(t, saved[2].ID, list[2].ID)
}

func TestStoreWaveformReadsFromDisk(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), time.Hour, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	in := audio.Waveform{SampleRate: 8000, Channels: 2, Samples: make([]float32, 8000)}
	for i := range in.Samples {
		in.Samples[i] = 0.25
	}
	a, err := s.Save("req", "None", "p", in)
	require.NoError(t, err)

	got, err := s.Waveform(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 8000, got.SampleRate)
	assert.Equal(t, 2, got.Channels)
	assert.Len(t, got.Samples, len(in.Samples))
	assert.InDelta(t, 0.25, got.Samples[100], 0.001)

	require.NoError(t, os.Remove(a.Path))
	_, err = s.Waveform(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
