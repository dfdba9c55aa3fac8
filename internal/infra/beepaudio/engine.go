// Package beepaudio implements the audio engine and ambient noise contracts
// on top of the beep/speaker stack. Streams are fetched over HTTP into
// memory and decoded as MP3 (the server direct-streams transcoded MP3 for
// this client profile).
package beepaudio

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/yaytsa/player/internal/app/audio"
)

const (
	outputSampleRate = beep.SampleRate(44100)
	eventBufferSize  = 16
	timeUpdatePeriod = 500 * time.Millisecond
)

// Output is the shared speaker context handed to the noise unit through
// audio.Output.
type Output struct {
	SampleRate beep.SampleRate
}

// Engine renders audio through the beep speaker.
type Engine struct {
	mu sync.Mutex

	httpClient *http.Client
	output     *Output

	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	level    float64
	loaded   string // locator of the current source
	loadSeq  uint64 // invalidates the ended callback of a replaced source

	preloaded      map[string][]byte
	pendingPreload string // most recently requested preload locator

	events chan audio.Event
	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// NewEngine initializes the speaker and returns an engine.
func NewEngine() (*Engine, error) {
	if err := speaker.Init(outputSampleRate, outputSampleRate.N(time.Second/10)); err != nil {
		return nil, errors.Wrap(err, "initializing speaker")
	}

	e := &Engine{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		output:     &Output{SampleRate: outputSampleRate},
		level:      1.0,
		preloaded:  make(map[string][]byte),
		events:     make(chan audio.Event, eventBufferSize),
		ticker:     time.NewTicker(timeUpdatePeriod),
		done:       make(chan struct{}),
	}
	go e.runTimeUpdates()
	return e, nil
}

// Load fetches and decodes locator and stages it paused on the speaker.
func (e *Engine) Load(ctx context.Context, locator string) error {
	e.emit(audio.Event{Type: audio.EventLoading, Loading: true})
	defer e.emit(audio.Event{Type: audio.EventLoading, Loading: false})

	data, err := e.fetch(ctx, locator)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return errors.Wrapf(err, "decoding %s", locator)
	}

	e.mu.Lock()
	if e.streamer != nil {
		_ = e.streamer.Close()
	}
	e.streamer = streamer
	e.format = format
	e.loaded = locator
	e.loadSeq++
	seq := e.loadSeq

	resampled := beep.Resample(4, format.SampleRate, outputSampleRate, streamer)
	e.ctrl = &beep.Ctrl{Streamer: resampled, Paused: true}
	e.volume = &effects.Volume{Streamer: e.ctrl, Base: 2}
	e.applyLevelLocked()
	vol := e.volume
	e.mu.Unlock()

	speaker.Clear()
	speaker.Play(beep.Seq(vol, beep.Callback(func() {
		e.mu.Lock()
		stale := seq != e.loadSeq
		e.mu.Unlock()
		if !stale {
			e.emit(audio.Event{Type: audio.EventEnded})
		}
	})))

	zlog.Debug().Msgf("beepaudio: loaded: locator=%s duration=%v", locator, format.SampleRate.D(streamer.Len()))
	return nil
}

// Play unpauses the staged source.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil {
		return errors.New("nothing loaded")
	}
	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// Pause pauses playback.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil {
		return errors.New("nothing loaded")
	}
	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

// Seek moves the source position.
func (e *Engine) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer == nil {
		return errors.New("nothing loaded")
	}
	n := e.format.SampleRate.N(pos)
	if n < 0 {
		n = 0
	}
	if n >= e.streamer.Len() {
		n = e.streamer.Len() - 1
	}
	speaker.Lock()
	err := e.streamer.Seek(n)
	speaker.Unlock()
	return errors.Wrap(err, "seek")
}

// SetVolume sets the linear volume level in [0, 1].
func (e *Engine) SetVolume(level float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.level = clamp01(level)
	e.applyLevelLocked()
}

// Volume returns the linear volume level.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// FadeVolume interpolates the volume level between from and to.
func (e *Engine) FadeVolume(from, to float64, duration time.Duration) audio.Fade {
	return runFade(from, to, duration, e.SetVolume)
}

// Position returns the current source position.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := e.streamer.Position()
	speaker.Unlock()
	return e.format.SampleRate.D(pos)
}

// Duration returns the current source duration.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer == nil {
		return 0
	}
	return e.format.SampleRate.D(e.streamer.Len())
}

// IsPlaying reports whether a source is staged and not paused.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil {
		return false
	}
	speaker.Lock()
	paused := e.ctrl.Paused
	speaker.Unlock()
	return !paused
}

// Preload fetches locator into the in-memory cache without touching the
// current source. Only the most recently requested locator may commit: a
// slow fetch that has been superseded by a newer Preload drops its bytes
// instead of clobbering the newer cache entry.
func (e *Engine) Preload(ctx context.Context, locator string) error {
	e.mu.Lock()
	if _, ok := e.preloaded[locator]; ok {
		// Already cached; an older in-flight fetch must not replace it.
		e.pendingPreload = ""
		e.mu.Unlock()
		return nil
	}
	e.pendingPreload = locator
	e.mu.Unlock()

	data, err := e.fetchRemote(ctx, locator)
	if err != nil {
		e.mu.Lock()
		if e.pendingPreload == locator {
			e.pendingPreload = ""
		}
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingPreload != locator {
		zlog.Debug().Msgf("beepaudio: dropping superseded preload: locator=%s", locator)
		return nil
	}
	e.pendingPreload = ""
	// Keep the cache to the single speculative entry.
	e.preloaded = map[string][]byte{locator: data}
	return nil
}

// IsPreloaded reports whether locator is primed in the cache.
func (e *Engine) IsPreloaded(locator string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.preloaded[locator]
	return ok
}

// SharedOutput exposes the speaker context for the noise unit.
func (e *Engine) SharedOutput() audio.Output {
	return e.output
}

// Events returns the engine event channel.
func (e *Engine) Events() <-chan audio.Event {
	return e.events
}

// Close stops the engine and closes the event channel.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.done)
	e.ticker.Stop()
	if e.streamer != nil {
		_ = e.streamer.Close()
		e.streamer = nil
	}
	e.mu.Unlock()

	speaker.Clear()
	close(e.events)
	return nil
}

// fetch serves locator from the preload cache or the network.
func (e *Engine) fetch(ctx context.Context, locator string) ([]byte, error) {
	e.mu.Lock()
	data, ok := e.preloaded[locator]
	if ok {
		delete(e.preloaded, locator)
	}
	e.mu.Unlock()
	if ok {
		return data, nil
	}
	return e.fetchRemote(ctx, locator)
}

func (e *Engine) fetchRemote(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building stream request")
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching stream")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, errors.Newf("stream returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading stream")
	}
	return data, nil
}

// applyLevelLocked maps the linear level onto the exponential volume effect.
// Must be called with the lock held.
func (e *Engine) applyLevelLocked() {
	if e.volume == nil {
		return
	}
	speaker.Lock()
	if e.level <= 0 {
		e.volume.Silent = true
	} else {
		e.volume.Silent = false
		e.volume.Volume = math.Log2(e.level)
	}
	speaker.Unlock()
}

// runTimeUpdates emits position events while a source is playing.
func (e *Engine) runTimeUpdates() {
	for {
		select {
		case <-e.done:
			return
		case <-e.ticker.C:
			if e.IsPlaying() {
				e.emit(audio.Event{Type: audio.EventTimeUpdate, Position: e.Position()})
			}
		}
	}
}

// emit sends an event without blocking; events are dropped when the buffer
// is full.
func (e *Engine) emit(ev audio.Event) {
	select {
	case <-e.done:
	case e.events <- ev:
	default:
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
