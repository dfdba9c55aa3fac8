package beepaudio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaytsa/player/internal/app/audio"
)

// newCacheTestEngine builds an engine without touching the speaker, enough
// for the fetch/preload paths.
func newCacheTestEngine() *Engine {
	return &Engine{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		preloaded:  make(map[string][]byte),
		events:     make(chan audio.Event, eventBufferSize),
		done:       make(chan struct{}),
	}
}

func TestEngine_Preload_FetchConsumesCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	e := newCacheTestEngine()
	locator := srv.URL + "/a"

	require.NoError(t, e.Preload(context.Background(), locator))
	assert.True(t, e.IsPreloaded(locator))
	assert.Equal(t, 1, hits)

	// A repeated preload of a cached locator does not refetch.
	require.NoError(t, e.Preload(context.Background(), locator))
	assert.Equal(t, 1, hits)

	data, err := e.fetch(context.Background(), locator)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), data)
	assert.Equal(t, 1, hits)

	// The cache entry is consumed by the fetch.
	assert.False(t, e.IsPreloaded(locator))
}

func TestEngine_Preload_SupersededFetchIsDropped(t *testing.T) {
	gate := make(chan struct{})
	slowStarted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			close(slowStarted)
			<-gate
			w.Write([]byte("old-bytes"))
			return
		}
		w.Write([]byte("new-bytes"))
	}))
	defer srv.Close()

	e := newCacheTestEngine()
	slow := srv.URL + "/slow"
	fast := srv.URL + "/fast"

	done := make(chan error, 1)
	go func() {
		done <- e.Preload(context.Background(), slow)
	}()
	<-slowStarted

	// A newer preload lands while the older fetch is still in flight.
	require.NoError(t, e.Preload(context.Background(), fast))
	require.True(t, e.IsPreloaded(fast))

	close(gate)
	require.NoError(t, <-done)

	// The late result is dropped; the newer cache entry survives.
	assert.True(t, e.IsPreloaded(fast))
	assert.False(t, e.IsPreloaded(slow))
}

func TestEngine_Preload_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	e := newCacheTestEngine()
	locator := srv.URL + "/missing"

	assert.Error(t, e.Preload(context.Background(), locator))
	assert.False(t, e.IsPreloaded(locator))
}
