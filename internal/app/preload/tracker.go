// Package preload tracks speculative priming of the next track. A generation
// counter makes "last request wins" structural: results belonging to a
// superseded preload are dropped without touching the record.
package preload

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Primer is the slice of the audio engine the tracker needs.
type Primer interface {
	Preload(ctx context.Context, locator string) error
	IsPreloaded(locator string) bool
}

// Tracker holds at most one preload record.
type Tracker struct {
	mu     sync.Mutex
	primer Primer

	trackID string
	locator string
	gen     uint64
}

// New creates a tracker backed by the given primer.
func New(primer Primer) *Tracker {
	return &Tracker{primer: primer}
}

// Prepare primes locator for trackID in the background. A call for the track
// already being preloaded is a no-op. A priming failure clears the record
// only while its generation is still current, so a slow failure belonging to
// an earlier Prepare cannot erase a newer record.
func (t *Tracker) Prepare(ctx context.Context, trackID, locator string) {
	t.mu.Lock()
	if t.trackID == trackID && trackID != "" {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	t.trackID = trackID
	t.locator = locator
	t.mu.Unlock()

	go func() {
		err := t.primer.Preload(ctx, locator)
		if err == nil {
			return
		}
		t.mu.Lock()
		if t.gen == gen {
			t.trackID = ""
			t.locator = ""
		}
		t.mu.Unlock()
		zlog.Debug().Msgf("preload: priming failed: track=%s error=%v", trackID, err)
	}()
}

// IsReady reports whether trackID matches the record and the engine has the
// locator primed.
func (t *Tracker) IsReady(trackID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.trackID != trackID || t.trackID == "" {
		return false
	}
	return t.primer.IsPreloaded(t.locator)
}

// Consume hands off the recorded locator and clears the record. Returns
// empty when nothing is recorded.
func (t *Tracker) Consume() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	locator := t.locator
	t.trackID = ""
	t.locator = ""
	t.gen++
	return locator
}

// Invalidate clears the record and bumps the generation so in-flight priming
// results are discarded. Used on queue-clearing events.
func (t *Tracker) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackID = ""
	t.locator = ""
	t.gen++
}

// TrackID returns the track ID currently recorded, or empty.
func (t *Tracker) TrackID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackID
}
