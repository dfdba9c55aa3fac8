// Package audio defines the contracts the playback core consumes from the
// audio rendering layer. The engine itself lives behind these interfaces so
// the core can be exercised against fakes.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrFadeCancelled is delivered on a fade's Done channel when the fade was
// cancelled before reaching its target.
var ErrFadeCancelled = errors.New("fade cancelled")

// Fade is a handle to an in-flight volume fade. Done yields exactly one
// value: nil on completion, ErrFadeCancelled when cancelled, or the fade
// failure. Cancel is idempotent.
type Fade interface {
	Done() <-chan error
	Cancel()
}

// Output is an opaque handle to the underlying audio output context. It is
// shared with the ambient noise unit so both sources render through the same
// device without double initialization.
type Output interface{}

// EventType identifies an engine event.
type EventType int

const (
	EventTimeUpdate EventType = iota // Playback position advanced
	EventEnded                       // Current track played to completion
	EventLoading                     // Loading state changed
	EventError                       // Engine failure outside a call
)

// Event is emitted by the engine on its event channel.
type Event struct {
	Type     EventType
	Position time.Duration // Valid for EventTimeUpdate
	Loading  bool          // Valid for EventLoading
	Err      error         // Valid for EventError
}

// Engine is the audio rendering contract. Load, Play and friends operate on
// a single current source; volume is a linear level in [0, 1].
type Engine interface {
	Load(ctx context.Context, locator string) error
	Play() error
	Pause() error
	Seek(pos time.Duration) error

	SetVolume(level float64)
	Volume() float64
	FadeVolume(from, to float64, duration time.Duration) Fade

	Position() time.Duration
	Duration() time.Duration
	IsPlaying() bool

	// Preload primes a locator in the background without touching the
	// current source. IsPreloaded reports whether a locator is primed.
	Preload(ctx context.Context, locator string) error
	IsPreloaded(locator string) bool

	// SharedOutput exposes the output context for the noise unit.
	// May return nil when the engine cannot share its output.
	SharedOutput() Output

	// Events returns the engine's event channel. The channel is closed
	// when the engine is closed.
	Events() <-chan Event

	Close() error
}

// NoiseOptions configures a new ambient noise unit.
type NoiseOptions struct {
	InitialVolume float64
	SharedOutput  Output // Reuse the engine's output context when non-nil
}

// NoiseUnit is the ambient noise generator contract used by the sleep timer.
type NoiseUnit interface {
	Start() error
	Stop()
	Dispose()
	SetVolume(level float64)
	Volume() float64
	FadeVolume(from, to float64, duration time.Duration) Fade
}

// NoiseFactory builds a noise unit. The sleep timer creates and disposes one
// unit per run.
type NoiseFactory func(opts NoiseOptions) NoiseUnit
