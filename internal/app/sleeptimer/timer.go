package sleeptimer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yaytsa/player/internal/app/audio"
)

// ambientFraction of the saved music volume is the fade-in target for the
// ambient noise unit.
const ambientFraction = 0.4

// crossfade fade-in spans this share of the crossfade window. The asymmetric
// overlap avoids an audible dip at the midpoint where both fades would
// otherwise be partway down.
const ambientFadeInNum, ambientFadeInDen = 3, 4

// defaultTickInterval is the cadence of the wall-clock tick that fires
// time-driven phase transitions and refreshes remaining-time displays.
const defaultTickInterval = 100 * time.Millisecond

// Timer drives the sleep timer state machine. Phase boundaries out of music
// and crossfade are tick-driven; the noise phase exits when its own fade
// settles, so the stop aligns exactly with silence.
type Timer struct {
	mu sync.Mutex

	engine       audio.Engine
	noiseFactory audio.NoiseFactory

	now          func() time.Time
	tickInterval time.Duration

	phase          Phase
	cfg            Config
	gen            uint64 // run identity, bumped on Start and Stop
	startedAt      time.Time
	phaseStartedAt time.Time

	savedVolume   float64
	ambientTarget float64
	noise         audio.NoiseUnit
	musicFade     audio.Fade
	ambientFade   audio.Fade
	noiseFade     audio.Fade
	stopTick      context.CancelFunc

	onStopped func() // invoked outside the lock after any stop/complete
}

// Option customizes a Timer.
type Option func(*Timer)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// WithTickInterval overrides the tick cadence. A non-positive interval
// disables the internal ticker; transitions then only fire through Tick.
func WithTickInterval(d time.Duration) Option {
	return func(t *Timer) { t.tickInterval = d }
}

// WithOnStopped registers a callback fired after the timer stops for any
// reason (completion, cancellation, or fade failure).
func WithOnStopped(fn func()) Option {
	return func(t *Timer) { t.onStopped = fn }
}

// New creates an idle sleep timer.
func New(engine audio.Engine, noiseFactory audio.NoiseFactory, opts ...Option) *Timer {
	t := &Timer{
		engine:       engine,
		noiseFactory: noiseFactory,
		now:          time.Now,
		tickInterval: defaultTickInterval,
		phase:        PhaseIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins a run with the given config. A running timer is cancelled
// (with full restore) before the new run starts.
func (t *Timer) Start(cfg Config) error {
	if cfg.MusicDuration <= 0 {
		return errors.New("music duration must be positive")
	}
	if cfg.CrossfadeDuration <= 0 {
		return errors.New("crossfade duration must be positive")
	}

	t.mu.Lock()
	if t.phase != PhaseIdle {
		t.stopLocked(false)
	}

	t.cfg = cfg
	t.gen++
	gen := t.gen
	t.phase = PhaseMusic
	t.startedAt = t.now()
	t.phaseStartedAt = t.startedAt
	t.savedVolume = 0
	t.ambientTarget = 0

	if t.tickInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		t.stopTick = cancel
		go t.runTicker(ctx, gen)
	}
	t.mu.Unlock()

	zlog.Info().Msgf("sleeptimer: started: music=%v crossfade=%v noise=%v noise_enabled=%v",
		cfg.MusicDuration, cfg.CrossfadeDuration, cfg.NoiseDuration, cfg.NoiseEnabled)
	return nil
}

// Stop cancels the run: any in-flight fade is cancelled, the ambient unit is
// disposed, the saved volume restored, and playback resumed when the run was
// already past the music phase. A no-op when idle.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.phase == PhaseIdle {
		t.mu.Unlock()
		return
	}
	t.stopLocked(false)
	cb := t.onStopped
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// ExtendTime adds d to the remaining music window. Honored only while in the
// music phase; a no-op anywhere else.
func (t *Timer) ExtendTime(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != PhaseMusic || d <= 0 {
		return
	}
	t.cfg.MusicDuration += d
	zlog.Debug().Msgf("sleeptimer: extended: added=%v music=%v", d, t.cfg.MusicDuration)
}

// Phase returns the current phase.
func (t *Timer) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Config returns the config of the current or last run.
func (t *Timer) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Remaining returns the time left in the current phase and in the whole run.
func (t *Timer) Remaining() (phase, total time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.now().Sub(t.phaseStartedAt)
	noise := time.Duration(0)
	if t.cfg.NoiseEnabled && t.cfg.NoiseDuration > 0 {
		noise = t.cfg.NoiseDuration
	}

	switch t.phase {
	case PhaseMusic:
		phase = t.cfg.MusicDuration - elapsed
		total = phase + t.cfg.CrossfadeDuration + noise
	case PhaseCrossfade:
		phase = t.cfg.CrossfadeDuration - elapsed
		total = phase + noise
	case PhaseNoise:
		phase = noise - elapsed
		total = phase
	default:
		return 0, 0
	}
	if phase < 0 {
		phase = 0
	}
	if total < 0 {
		total = 0
	}
	return phase, total
}

// Tick fires any due time-driven phase transition. Called by the internal
// ticker; exposed so tests can drive the machine with a virtual clock.
func (t *Timer) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.phase {
	case PhaseMusic:
		if t.now().Sub(t.phaseStartedAt) >= t.cfg.MusicDuration {
			t.enterCrossfadeLocked()
		}
	case PhaseCrossfade:
		if t.now().Sub(t.phaseStartedAt) >= t.cfg.CrossfadeDuration {
			t.finishCrossfadeLocked()
		}
	}
}

func (t *Timer) runTicker(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			stale := t.gen != gen
			t.mu.Unlock()
			if stale {
				return
			}
			t.Tick()
		}
	}
}

// enterCrossfadeLocked starts the crossfade: the music volume fades to zero
// over the full window while, if enabled, the ambient unit starts at zero on
// the engine's shared output and fades in over part of the window. The saved
// volume and ambient target are computed once here. Must be called with the
// lock held.
func (t *Timer) enterCrossfadeLocked() {
	t.phase = PhaseCrossfade
	t.phaseStartedAt = t.now()
	t.savedVolume = t.engine.Volume()
	t.ambientTarget = t.savedVolume * ambientFraction
	gen := t.gen

	if t.cfg.NoiseEnabled && t.cfg.NoiseDuration > 0 && t.noiseFactory != nil {
		noise := t.noiseFactory(audio.NoiseOptions{
			InitialVolume: 0,
			SharedOutput:  t.engine.SharedOutput(),
		})
		if err := noise.Start(); err != nil {
			zlog.Warn().Msgf("sleeptimer: ambient start failed, fading music only: error=%v", err)
			noise.Dispose()
		} else {
			t.noise = noise
			fadeIn := t.cfg.CrossfadeDuration * ambientFadeInNum / ambientFadeInDen
			t.ambientFade = noise.FadeVolume(0, t.ambientTarget, fadeIn)
		}
	}

	t.musicFade = t.engine.FadeVolume(t.savedVolume, 0, t.cfg.CrossfadeDuration)
	go t.watchMusicFade(t.musicFade, gen)

	zlog.Info().Msgf("sleeptimer: crossfade started: duration=%v saved_volume=%.2f ambient=%v",
		t.cfg.CrossfadeDuration, t.savedVolume, t.noise != nil)
}

// watchMusicFade pauses playback once the music fade reaches silence, and
// forces a full stop/restore when the fade fails. Cancelled fades are left
// to whoever cancelled them.
func (t *Timer) watchMusicFade(fade audio.Fade, gen uint64) {
	err := <-fade.Done()

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	if err == nil {
		t.mu.Unlock()
		if perr := t.engine.Pause(); perr != nil {
			zlog.Debug().Msgf("sleeptimer: pause after fade-out: %v", perr)
		}
		return
	}
	if errors.Is(err, audio.ErrFadeCancelled) {
		t.mu.Unlock()
		return
	}

	// A broken fade must not leave audio partially faded and stuck.
	zlog.Error().Msgf("sleeptimer: music fade failed, forcing stop: error=%v", err)
	t.stopLocked(false)
	cb := t.onStopped
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// finishCrossfadeLocked moves on from the crossfade: into the noise phase
// when ambient noise is running, straight to the stopped reset otherwise.
// Must be called with the lock held.
func (t *Timer) finishCrossfadeLocked() {
	if t.noise != nil {
		t.enterNoiseLocked()
		return
	}
	t.stopLocked(true)
	cb := t.onStopped
	if cb != nil {
		go cb()
	}
}

// enterNoiseLocked fades the ambient unit to silence over the noise window.
// The phase exits when the fade settles, not on a tick, so the stop lands
// exactly at silence. Must be called with the lock held.
func (t *Timer) enterNoiseLocked() {
	t.phase = PhaseNoise
	t.phaseStartedAt = t.now()
	gen := t.gen

	if t.ambientFade != nil {
		t.ambientFade.Cancel()
		t.ambientFade = nil
	}

	from := t.noise.Volume()
	t.noiseFade = t.noise.FadeVolume(from, 0, t.cfg.NoiseDuration)
	fade := t.noiseFade

	go func() {
		err := <-fade.Done()

		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		if err != nil && errors.Is(err, audio.ErrFadeCancelled) {
			t.mu.Unlock()
			return
		}
		if err != nil {
			zlog.Error().Msgf("sleeptimer: noise fade failed, forcing stop: error=%v", err)
		}
		t.stopLocked(true)
		cb := t.onStopped
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
	}()

	zlog.Info().Msgf("sleeptimer: noise phase started: duration=%v from=%.2f", t.cfg.NoiseDuration, from)
}

// stopLocked tears down the run and resets to idle: cancels fades and the
// ticker, disposes the ambient unit, restores the saved volume, and resumes
// playback when the run was past the music phase. A completed run pauses
// playback itself before restoring the volume: the music fade may still be
// in flight when the run ends, so its own pause-on-silence cannot be relied
// on. Must be called with the lock held.
func (t *Timer) stopLocked(completed bool) {
	wasPhase := t.phase
	t.gen++

	if t.stopTick != nil {
		t.stopTick()
		t.stopTick = nil
	}
	for _, f := range []audio.Fade{t.musicFade, t.ambientFade, t.noiseFade} {
		if f != nil {
			f.Cancel()
		}
	}
	t.musicFade, t.ambientFade, t.noiseFade = nil, nil, nil

	if t.noise != nil {
		t.noise.Stop()
		t.noise.Dispose()
		t.noise = nil
	}

	if wasPhase == PhaseCrossfade || wasPhase == PhaseNoise {
		if completed {
			// Pause before the volume restore so the run never ends with
			// music audible at the restored level.
			if err := t.engine.Pause(); err != nil {
				zlog.Debug().Msgf("sleeptimer: pause on completion: %v", err)
			}
		}
		t.engine.SetVolume(t.savedVolume)
		if !completed {
			// The crossfade may have paused playback; resume, tolerating
			// the case where nothing is left to resume.
			if err := t.engine.Play(); err != nil {
				zlog.Debug().Msgf("sleeptimer: resume on cancel: %v", err)
			}
		}
	}

	t.phase = PhaseIdle
	t.startedAt = time.Time{}
	t.phaseStartedAt = time.Time{}

	zlog.Info().Msgf("sleeptimer: stopped: from_phase=%s completed=%v", wasPhase, completed)
}
