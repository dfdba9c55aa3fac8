package beepaudio

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/yaytsa/player/internal/app/audio"
)

// NoiseUnit renders white noise on the shared speaker context. Implements
// audio.NoiseUnit.
type NoiseUnit struct {
	mu sync.Mutex

	streamer *noiseStreamer
	volume   *effects.Volume
	level    float64
	started  bool
}

// NewNoiseUnit builds a noise unit. Implements audio.NoiseFactory when
// wrapped: the opts' shared output must come from this package's Engine (the
// speaker is process-global, so the handle only asserts the engine
// initialized it).
func NewNoiseUnit(opts audio.NoiseOptions) audio.NoiseUnit {
	streamer := &noiseStreamer{}
	n := &NoiseUnit{
		streamer: streamer,
		level:    clamp01(opts.InitialVolume),
	}
	n.volume = &effects.Volume{Streamer: streamer, Base: 2}
	n.applyLevelLocked()
	return n
}

// Start begins rendering noise at the configured initial volume.
func (n *NoiseUnit) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}
	n.started = true
	speaker.Play(n.volume)
	return nil
}

// Stop halts rendering. The unit cannot be restarted after Stop.
func (n *NoiseUnit) Stop() {
	n.streamer.halt()
}

// Dispose releases the unit. Safe to call after Stop.
func (n *NoiseUnit) Dispose() {
	n.streamer.halt()
}

// SetVolume sets the linear noise level in [0, 1].
func (n *NoiseUnit) SetVolume(level float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.level = clamp01(level)
	n.applyLevelLocked()
}

// Volume returns the linear noise level.
func (n *NoiseUnit) Volume() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.level
}

// FadeVolume interpolates the noise level between from and to.
func (n *NoiseUnit) FadeVolume(from, to float64, duration time.Duration) audio.Fade {
	return runFade(from, to, duration, n.SetVolume)
}

// applyLevelLocked mirrors the engine's level mapping. Must be called with
// the lock held.
func (n *NoiseUnit) applyLevelLocked() {
	speaker.Lock()
	if n.level <= 0 {
		n.volume.Silent = true
	} else {
		n.volume.Silent = false
		n.volume.Volume = math.Log2(n.level)
	}
	speaker.Unlock()
}

// noiseStreamer is an endless white noise source until halted.
type noiseStreamer struct {
	mu      sync.Mutex
	stopped bool
}

func (s *noiseStreamer) halt() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *noiseStreamer) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return 0, false
	}
	for i := range samples {
		v := rand.Float64()*2 - 1
		samples[i][0] = v
		samples[i][1] = v
	}
	return len(samples), true
}

func (s *noiseStreamer) Err() error { return nil }
