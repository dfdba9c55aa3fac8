// Package player provides the orchestrator that wires the audio engine, the
// playback queue, the command controller, the preload tracker and the sleep
// timer into one playback core. All shared state is owned by one Player
// instance; nothing here is a package-level singleton.
package player

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yaytsa/player/internal/app/audio"
	"github.com/yaytsa/player/internal/app/command"
	"github.com/yaytsa/player/internal/app/preload"
	"github.com/yaytsa/player/internal/app/queue"
	"github.com/yaytsa/player/internal/app/sleeptimer"
	"github.com/yaytsa/player/internal/app/state"
	"github.com/yaytsa/player/internal/domain/track"
)

// ErrNoTrack is returned when an operation needs a current track and the
// queue has none.
var ErrNoTrack = errors.New("no track")

// Reporter is the best-effort playback reporting contract. Implementations
// log failures and never block playback.
type Reporter interface {
	ReportStart(ctx context.Context, trackID string)
	ReportProgress(ctx context.Context, trackID string, position time.Duration, paused bool)
	ReportStopped(ctx context.Context, trackID string, position time.Duration)
}

// StreamResolver turns a track ID into a playable stream locator.
type StreamResolver interface {
	StreamURL(trackID string) string
}

// Settings is the small keyed persistence surface for the last-used volume
// and the sleep timer config.
type Settings interface {
	Get(key string, out any) bool
	Set(key string, value any) error
}

// Settings keys owned by the player.
const (
	SettingVolume     = "volume"
	SettingSleepTimer = "sleep_timer"
)

// Config holds orchestration policy.
type Config struct {
	// PreviousRestartThreshold: Previous restarts the current track instead
	// of going back once this much has elapsed. UX policy, not a queue law.
	PreviousRestartThreshold time.Duration
	// ProgressInterval is the cadence of progress reports to the server.
	ProgressInterval time.Duration
	// ReportTimeout bounds each fire-and-forget report call.
	ReportTimeout time.Duration
}

// DefaultConfig returns the default orchestration policy.
func DefaultConfig() Config {
	return Config{
		PreviousRestartThreshold: 3 * time.Second,
		ProgressInterval:         10 * time.Second,
		ReportTimeout:            5 * time.Second,
	}
}

// Player is the playback orchestrator.
type Player struct {
	mu sync.Mutex

	engine   audio.Engine
	queue    *queue.Queue
	commands *command.Controller
	preload  *preload.Tracker
	sleep    *sleeptimer.Timer
	states   *state.Broadcaster
	reporter Reporter
	resolver StreamResolver
	settings Settings
	cfg      Config

	loadToken  uint64 // latest "start track" request; stale results are dropped
	current    *track.Track
	playing    bool
	loading    bool
	lastErr    error
	lastReport time.Time

	done   chan struct{}
	closed bool
}

// New creates a Player and starts consuming engine events. The sleep timer
// is created internally so it shares the engine instance.
func New(engine audio.Engine, q *queue.Queue, reporter Reporter, resolver StreamResolver, settings Settings, noise audio.NoiseFactory, cfg Config) *Player {
	p := &Player{
		engine:   engine,
		queue:    q,
		commands: command.New(),
		preload:  preload.New(engine),
		reporter: reporter,
		resolver: resolver,
		settings: settings,
		cfg:      cfg,
		states:   state.NewBroadcaster(),
		done:     make(chan struct{}),
	}
	p.sleep = sleeptimer.New(engine, noise, sleeptimer.WithOnStopped(p.publishState))
	go p.run()
	return p
}

// Close stops the event loop and tears down the sleep timer and preload
// record. The engine is owned by the caller and left untouched.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.sleep.Stop()
	p.preload.Invalidate()
	p.states.Close()
}

// Subscribe registers a state subscriber. Every state change delivers a full
// snapshot on the returned channel.
func (p *Player) Subscribe() (string, <-chan state.Snapshot) {
	return p.states.Subscribe()
}

// Unsubscribe removes a state subscriber.
func (p *Player) Unsubscribe(id string) {
	p.states.Unsubscribe(id)
}

// --- Queries ---

// Current returns the current track, or nil.
func (p *Player) Current() *track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// IsPlaying reports whether playback is running.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// IsLoading reports whether the engine is loading a source.
func (p *Player) IsLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// LastError returns the last playback failure recorded for display, or nil.
func (p *Player) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Queue returns the playback queue.
func (p *Player) Queue() *queue.Queue {
	return p.queue
}

// SleepTimer returns the sleep timer.
func (p *Player) SleepTimer() *sleeptimer.Timer {
	return p.sleep
}

// Position returns the engine playback position.
func (p *Player) Position() time.Duration {
	return p.engine.Position()
}

// --- Playback control ---

// PlayTracks replaces the queue and starts playback at startIndex.
func (p *Player) PlayTracks(ctx context.Context, tracks []track.Track, startIndex int) error {
	p.queue.SetQueue(tracks, startIndex)
	p.preload.Invalidate()

	t := p.queue.Current()
	if t == nil {
		return ErrNoTrack
	}
	return p.startTrack(ctx, t)
}

// Play resumes paused playback, or starts the current queue entry when
// nothing is loaded. Runs through the command controller's idle guard so a
// tap while a load is already in flight does nothing.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	hasCurrent := p.current != nil
	p.mu.Unlock()

	if hasCurrent {
		if err := p.engine.Play(); err != nil {
			return err
		}
		p.mu.Lock()
		p.playing = true
		cur := p.current
		p.mu.Unlock()
		p.reportProgress(cur, false)
		p.publishState()
		return nil
	}

	return p.commands.IfIdle(ctx, func(ctx context.Context) error {
		t := p.queue.Current()
		if t == nil {
			return ErrNoTrack
		}
		return p.loadAndPlay(ctx, t)
	})
}

// Pause pauses playback and reports the paused position.
func (p *Player) Pause() error {
	if err := p.engine.Pause(); err != nil {
		return err
	}
	p.mu.Lock()
	p.playing = false
	cur := p.current
	p.mu.Unlock()
	p.reportProgress(cur, true)
	p.publishState()
	return nil
}

// Next advances the queue and starts the resulting track. At the end of the
// queue with repeat off it stops playback.
func (p *Player) Next(ctx context.Context) error {
	t := p.queue.Next()
	if t == nil {
		return p.stopExhausted()
	}
	return p.startTrack(ctx, t)
}

// Previous restarts the current track when more than the configured
// threshold has elapsed; otherwise it goes back in the queue. At the start
// of the queue it restarts the current track.
func (p *Player) Previous(ctx context.Context) error {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()

	if cur != nil && p.engine.Position() > p.cfg.PreviousRestartThreshold {
		return p.engine.Seek(0)
	}

	t := p.queue.Previous()
	if t == nil {
		if cur == nil {
			return ErrNoTrack
		}
		return p.engine.Seek(0)
	}
	return p.startTrack(ctx, t)
}

// JumpTo starts the track at the given queue index.
func (p *Player) JumpTo(ctx context.Context, index int) error {
	t := p.queue.JumpTo(index)
	if t == nil {
		return errors.Newf("queue index %d out of range", index)
	}
	return p.startTrack(ctx, t)
}

// Seek moves the playback position.
func (p *Player) Seek(pos time.Duration) error {
	return p.engine.Seek(pos)
}

// Stop halts playback, reports the stop, and clears the current track.
func (p *Player) Stop() error {
	p.mu.Lock()
	cur := p.current
	pos := time.Duration(0)
	if cur != nil {
		pos = p.engine.Position()
	}
	p.current = nil
	p.playing = false
	p.mu.Unlock()

	if err := p.engine.Pause(); err != nil {
		zlog.Debug().Msgf("player: pause on stop: %v", err)
	}
	if cur != nil {
		p.reportStopped(cur, pos)
	}
	p.publishState()
	return nil
}

// --- Queue mutation ---

// AddToQueue appends tracks. The speculative preload is refreshed since the
// next entry may have changed.
func (p *Player) AddToQueue(tracks ...track.Track) {
	p.queue.Add(tracks...)
	p.preloadNext()
}

// RemoveFromQueue removes the entry at index. When the removed entry was the
// playing track, the collapsed-to neighbor starts playing.
func (p *Player) RemoveFromQueue(ctx context.Context, index int) error {
	wasCurrent := index == p.queue.CurrentIndex()
	if !p.queue.RemoveAt(index) {
		return errors.Newf("queue index %d out of range", index)
	}
	p.preload.Invalidate()

	if !wasCurrent {
		p.preloadNext()
		return nil
	}

	t := p.queue.Current()
	if t == nil {
		return p.stopExhausted()
	}
	return p.startTrack(ctx, t)
}

// SetShuffle toggles shuffle. The current track is preserved by the queue;
// the preload is refreshed for the new order.
func (p *Player) SetShuffle(on bool) {
	p.queue.SetShuffle(on)
	p.preload.Invalidate()
	p.preloadNext()
	p.publishState()
}

// SetRepeatMode sets the repeat mode and refreshes the preload, since the
// track after the current one may have changed at the queue boundary.
func (p *Player) SetRepeatMode(mode queue.RepeatMode) {
	p.queue.SetRepeatMode(mode)
	p.preload.Invalidate()
	p.preloadNext()
	p.publishState()
}

// --- Volume ---

// SetVolume sets the engine volume and persists it as the last-used level.
func (p *Player) SetVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	p.engine.SetVolume(level)
	if err := p.settings.Set(SettingVolume, level); err != nil {
		zlog.Warn().Msgf("player: persisting volume: %v", err)
	}
}

// Volume returns the engine volume.
func (p *Player) Volume() float64 {
	return p.engine.Volume()
}

// --- Sleep timer ---

// StartSleepTimer persists cfg as the new sleep timer settings and starts a
// run.
func (p *Player) StartSleepTimer(cfg sleeptimer.Config) error {
	if err := p.settings.Set(SettingSleepTimer, cfg); err != nil {
		zlog.Warn().Msgf("player: persisting sleep timer config: %v", err)
	}
	return p.sleep.Start(cfg)
}

// StopSleepTimer cancels a running sleep timer.
func (p *Player) StopSleepTimer() {
	p.sleep.Stop()
}

// ExtendSleepTimer adds time to the music window of a running timer.
func (p *Player) ExtendSleepTimer(d time.Duration) {
	p.sleep.ExtendTime(d)
}

// SleepTimerConfig returns the persisted sleep timer settings, falling back
// to defaults when nothing (or garbage) is stored.
func (p *Player) SleepTimerConfig() sleeptimer.Config {
	cfg := sleeptimer.DefaultConfig()
	p.settings.Get(SettingSleepTimer, &cfg)
	return cfg
}

// --- Internals ---

// startTrack runs the load sequence for t through the command controller,
// cancelling any in-flight load.
func (p *Player) startTrack(ctx context.Context, t *track.Track) error {
	return p.commands.Interrupt(ctx, func(ctx context.Context) error {
		return p.loadAndPlay(ctx, t)
	})
}

// loadAndPlay is the command body: resolve the locator (consuming a matching
// preload), load, play, commit state, report, and prime the next entry. Only
// the latest load token may commit to shared state; a stale result returns
// without mutating anything.
func (p *Player) loadAndPlay(ctx context.Context, t *track.Track) error {
	p.mu.Lock()
	p.loadToken++
	token := p.loadToken
	p.mu.Unlock()

	locator := ""
	if p.preload.TrackID() == t.ID {
		locator = p.preload.Consume()
	}
	if locator == "" {
		locator = p.resolver.StreamURL(t.ID)
	}

	if err := p.engine.Load(ctx, locator); err != nil {
		p.mu.Lock()
		recorded := token == p.loadToken
		if recorded {
			p.playing = false
			p.lastErr = err
		}
		p.mu.Unlock()
		if recorded {
			p.publishState()
		}
		return errors.Wrapf(err, "loading %s", t.ID)
	}

	p.mu.Lock()
	stale := token != p.loadToken
	p.mu.Unlock()
	if stale {
		zlog.Debug().Msgf("player: discarding stale load result: track=%s", t.ID)
		return nil
	}

	if err := p.engine.Play(); err != nil {
		p.mu.Lock()
		recorded := token == p.loadToken
		if recorded {
			p.playing = false
			p.lastErr = err
		}
		p.mu.Unlock()
		if recorded {
			p.publishState()
		}
		return errors.Wrapf(err, "starting %s", t.ID)
	}

	p.mu.Lock()
	if token != p.loadToken {
		p.mu.Unlock()
		return nil
	}
	p.current = t
	p.playing = true
	p.lastErr = nil
	p.lastReport = time.Now()
	p.mu.Unlock()

	p.reportStart(t)
	p.preloadNext()
	p.publishState()
	return nil
}

// preloadNext primes the entry that would play after the current one.
// Repeat-one is skipped since the current source is already loaded.
func (p *Player) preloadNext() {
	if p.queue.Repeat() == queue.RepeatOne {
		return
	}

	tracks := p.queue.Tracks()
	idx := p.queue.CurrentIndex()

	var next *track.Track
	switch {
	case idx >= 0 && idx+1 < len(tracks):
		next = &tracks[idx+1]
	case p.queue.Repeat() == queue.RepeatAll && len(tracks) > 1:
		next = &tracks[0]
	}
	if next == nil {
		return
	}

	p.preload.Prepare(context.Background(), next.ID, p.resolver.StreamURL(next.ID))
}

// stopExhausted handles running off the end of the queue.
func (p *Player) stopExhausted() error {
	zlog.Info().Msg("player: queue exhausted, stopping")
	return p.Stop()
}

// run consumes engine events until Close.
func (p *Player) run() {
	events := p.engine.Events()
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handleEvent(ev)
		}
	}
}

func (p *Player) handleEvent(ev audio.Event) {
	switch ev.Type {
	case audio.EventEnded:
		p.handleTrackEnded()
	case audio.EventTimeUpdate:
		p.handleTimeUpdate(ev.Position)
	case audio.EventLoading:
		p.mu.Lock()
		p.loading = ev.Loading
		p.mu.Unlock()
		p.publishState()
	case audio.EventError:
		zlog.Error().Msgf("player: engine error: %v", ev.Err)
		p.mu.Lock()
		p.playing = false
		p.lastErr = ev.Err
		p.mu.Unlock()
		p.publishState()
	}
}

// handleTrackEnded picks the next track per repeat/shuffle state and starts
// it; with repeat one the same track restarts.
func (p *Player) handleTrackEnded() {
	p.mu.Lock()
	ended := p.current
	p.mu.Unlock()

	if ended != nil {
		p.reportStopped(ended, p.engine.Duration())
	}

	t := p.queue.Next()
	if t == nil {
		p.mu.Lock()
		p.current = nil
		p.playing = false
		p.mu.Unlock()
		zlog.Info().Msg("player: queue exhausted after track end")
		p.publishState()
		return
	}

	if err := p.startTrack(context.Background(), t); err != nil {
		zlog.Error().Msgf("player: auto-advance failed: track=%s error=%v", t.ID, err)
	}
}

// handleTimeUpdate reports progress on the configured cadence.
func (p *Player) handleTimeUpdate(pos time.Duration) {
	p.mu.Lock()
	cur := p.current
	due := cur != nil && time.Since(p.lastReport) >= p.cfg.ProgressInterval
	paused := !p.playing
	if due {
		p.lastReport = time.Now()
	}
	p.mu.Unlock()

	if due {
		p.reportProgressAt(cur, pos, paused)
	}
	p.publishState()
}

// publishState snapshots the current state and broadcasts it.
func (p *Player) publishState() {
	p.mu.Lock()
	snap := state.Snapshot{
		Track:   p.current,
		Playing: p.playing,
		Loading: p.loading,
		Err:     p.lastErr,
	}
	p.mu.Unlock()

	snap.Position = p.engine.Position()
	snap.Shuffle = p.queue.Shuffle()
	snap.Repeat = p.queue.Repeat()
	snap.SleepPhase = p.sleep.Phase()
	p.states.Publish(snap)
}

// --- Reporting (best-effort, fire-and-forget) ---

func (p *Player) reportStart(t *track.Track) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ReportTimeout)
		defer cancel()
		p.reporter.ReportStart(ctx, t.ID)
	}()
}

func (p *Player) reportProgress(t *track.Track, paused bool) {
	if t == nil {
		return
	}
	p.reportProgressAt(t, p.engine.Position(), paused)
}

func (p *Player) reportProgressAt(t *track.Track, pos time.Duration, paused bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ReportTimeout)
		defer cancel()
		p.reporter.ReportProgress(ctx, t.ID, pos, paused)
	}()
}

func (p *Player) reportStopped(t *track.Track, pos time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ReportTimeout)
		defer cancel()
		p.reporter.ReportStopped(ctx, t.ID, pos)
	}()
}
