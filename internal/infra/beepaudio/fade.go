package beepaudio

import (
	"sync"
	"time"

	"github.com/yaytsa/player/internal/app/audio"
)

// fadeStepInterval is the volume interpolation cadence.
const fadeStepInterval = 25 * time.Millisecond

// fadeHandle implements audio.Fade over a stepping goroutine.
type fadeHandle struct {
	done     chan error
	cancelCh chan struct{}
	once     sync.Once
}

func (f *fadeHandle) Done() <-chan error { return f.done }

func (f *fadeHandle) Cancel() {
	f.once.Do(func() { close(f.cancelCh) })
}

// runFade interpolates setVolume from from to to over duration. The handle's
// Done channel receives nil on completion or audio.ErrFadeCancelled.
func runFade(from, to float64, duration time.Duration, setVolume func(float64)) *fadeHandle {
	f := &fadeHandle{
		done:     make(chan error, 1),
		cancelCh: make(chan struct{}),
	}

	go func() {
		if duration <= 0 {
			setVolume(to)
			f.done <- nil
			return
		}

		setVolume(from)
		start := time.Now()
		ticker := time.NewTicker(fadeStepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-f.cancelCh:
				f.done <- audio.ErrFadeCancelled
				return
			case <-ticker.C:
				progress := float64(time.Since(start)) / float64(duration)
				if progress >= 1 {
					setVolume(to)
					f.done <- nil
					return
				}
				setVolume(from + (to-from)*progress)
			}
		}
	}()

	return f
}
