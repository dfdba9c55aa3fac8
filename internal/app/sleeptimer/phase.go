// Package sleeptimer runs the timed fade-out state machine: music plays for
// a configured window, crossfades into ambient noise, and finally fades to
// silence before restoring the pre-timer volume.
package sleeptimer

import "time"

// Phase represents the sleep timer lifecycle phase. Completion and
// cancellation both restore the saved volume and reset to PhaseIdle.
type Phase int

const (
	PhaseIdle      Phase = iota // Not running
	PhaseMusic                  // Music playing, waiting out the music window
	PhaseCrossfade              // Music fading out, ambient noise fading in
	PhaseNoise                  // Ambient noise fading to silence
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMusic:
		return "music"
	case PhaseCrossfade:
		return "crossfade"
	case PhaseNoise:
		return "noise"
	default:
		return "unknown"
	}
}

// Config holds the user-editable sleep timer settings. It is persisted
// across sessions independently of the ephemeral run state.
type Config struct {
	MusicDuration     time.Duration `json:"music_duration" mapstructure:"music_duration"`
	CrossfadeDuration time.Duration `json:"crossfade_duration" mapstructure:"crossfade_duration"`
	NoiseDuration     time.Duration `json:"noise_duration" mapstructure:"noise_duration"`
	NoiseEnabled      bool          `json:"noise_enabled" mapstructure:"noise_enabled"`
}

// DefaultConfig returns the settings used when nothing is persisted.
func DefaultConfig() Config {
	return Config{
		MusicDuration:     30 * time.Minute,
		CrossfadeDuration: 15 * time.Second,
		NoiseDuration:     10 * time.Minute,
		NoiseEnabled:      true,
	}
}
