// Package queue provides the ordered playback queue with shuffle, repeat and
// index-safe navigation.
package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/yaytsa/player/internal/domain/track"
)

// RepeatMode defines the repeat behavior at queue boundaries.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota // Stop at queue end
	RepeatOne                   // Loop the current track
	RepeatAll                   // Loop the entire queue
)

// String returns the repeat mode name.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// Queue holds the ordered track list, current position, and shuffle/repeat
// modes. All navigation on an empty queue returns nil rather than failing.
type Queue struct {
	mu sync.RWMutex

	items    []track.Track // Current play order
	original []track.Track // Insertion order, restored when shuffle turns off
	current  int           // Index into items, -1 when nothing is current
	shuffle  bool
	repeat   RepeatMode

	rng *rand.Rand
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		current: -1,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewWithRand creates an empty queue with an injected random source, used to
// make shuffle deterministic in tests.
func NewWithRand(rng *rand.Rand) *Queue {
	return &Queue{current: -1, rng: rng}
}

// SetQueue replaces the queue contents. The track at startIndex becomes
// current; when shuffle is on the new queue is reshuffled with that track
// preserved as current. An out-of-range startIndex clamps to 0 (or -1 for an
// empty list).
func (q *Queue) SetQueue(tracks []track.Track, startIndex int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.original = make([]track.Track, len(tracks))
	copy(q.original, tracks)
	q.items = make([]track.Track, len(tracks))
	copy(q.items, tracks)

	switch {
	case len(tracks) == 0:
		q.current = -1
	case startIndex < 0 || startIndex >= len(tracks):
		q.current = 0
	default:
		q.current = startIndex
	}

	if q.shuffle {
		q.reshuffleLocked()
	}
}

// Current returns the track at the current index, or nil.
func (q *Queue) Current() *track.Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.trackAtLocked(q.current)
}

// CurrentIndex returns the current index, or -1.
func (q *Queue) CurrentIndex() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

// Next advances to the next track and returns it. With RepeatOne the current
// track is returned without advancing. With RepeatAll the position wraps to
// the start of the current order. Returns nil when the queue is exhausted or
// empty.
func (q *Queue) Next() *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	if q.repeat == RepeatOne && q.current >= 0 {
		return q.trackAtLocked(q.current)
	}
	if q.current+1 < len(q.items) {
		q.current++
		return q.trackAtLocked(q.current)
	}
	if q.repeat == RepeatAll {
		q.current = 0
		return q.trackAtLocked(q.current)
	}
	return nil
}

// Previous mirrors Next for the start-of-queue boundary. The caller's
// restart-vs-go-back policy lives in the orchestrator, not here.
func (q *Queue) Previous() *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	if q.repeat == RepeatOne && q.current >= 0 {
		return q.trackAtLocked(q.current)
	}
	if q.current-1 >= 0 {
		q.current--
		return q.trackAtLocked(q.current)
	}
	if q.repeat == RepeatAll {
		q.current = len(q.items) - 1
		return q.trackAtLocked(q.current)
	}
	return nil
}

// JumpTo moves to an absolute index and returns the track there, or nil when
// the index is out of range (position unchanged in that case).
func (q *Queue) JumpTo(index int) *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.items) {
		return nil
	}
	q.current = index
	return q.trackAtLocked(q.current)
}

// HasNext reports whether Next would return a track.
func (q *Queue) HasNext() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.items) == 0 {
		return false
	}
	if q.repeat == RepeatOne || q.repeat == RepeatAll {
		return true
	}
	return q.current+1 < len(q.items)
}

// HasPrevious reports whether Previous would return a track.
func (q *Queue) HasPrevious() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.items) == 0 {
		return false
	}
	if q.repeat == RepeatOne || q.repeat == RepeatAll {
		return true
	}
	return q.current-1 >= 0
}

// SetShuffle toggles shuffle mode. Turning shuffle on reorders every track
// except the current one, which keeps its position; turning it off restores
// insertion order with the current index recomputed to the same track.
// Neither direction changes which track is current.
func (q *Queue) SetShuffle(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuffle == on {
		return
	}
	q.shuffle = on

	if on {
		q.reshuffleLocked()
		return
	}

	// Restore insertion order, keeping the same current track.
	cur := q.trackAtLocked(q.current)
	q.items = make([]track.Track, len(q.original))
	copy(q.items, q.original)
	if cur != nil {
		q.current = q.indexOfLocked(cur.ID)
	}
}

// Shuffle reports whether shuffle mode is on.
func (q *Queue) Shuffle() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.shuffle
}

// SetRepeatMode sets the repeat mode. Pure state change; current track and
// index are untouched.
func (q *Queue) SetRepeatMode(mode RepeatMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeat = mode
}

// Repeat returns the repeat mode.
func (q *Queue) Repeat() RepeatMode {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.repeat
}

// Add appends tracks to the end of the queue in both the play order and the
// insertion order.
func (q *Queue) Add(tracks ...track.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, tracks...)
	q.original = append(q.original, tracks...)
}

// RemoveAt removes the track at index. Removing a track before the current
// one shifts the index down so it still points at the same track; removing
// the current track selects the following track (or the previous one when
// the current track was last). Returns false for an out-of-range index.
func (q *Queue) RemoveAt(index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.items) {
		return false
	}

	removed := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	q.removeFromOriginalLocked(removed.ID)

	switch {
	case len(q.items) == 0:
		q.current = -1
	case index < q.current:
		q.current--
	case index == q.current && q.current >= len(q.items):
		q.current = len(q.items) - 1
	}
	return true
}

// Tracks returns a copy of the queue in current play order.
func (q *Queue) Tracks() []track.Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	result := make([]track.Track, len(q.items))
	copy(result, q.items)
	return result
}

// Len returns the number of tracks in the queue.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// IsEmpty reports whether the queue holds no tracks.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear removes all tracks and resets the position.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.original = nil
	q.current = -1
}

// trackAtLocked returns a pointer to a copy of the track at index, or nil.
// Must be called with the lock held.
func (q *Queue) trackAtLocked(index int) *track.Track {
	if index < 0 || index >= len(q.items) {
		return nil
	}
	t := q.items[index]
	return &t
}

// indexOfLocked returns the first index of the track with the given ID in
// the current order, or 0 when not found. Must be called with the lock held.
func (q *Queue) indexOfLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return 0
}

// removeFromOriginalLocked drops the first occurrence of id from the
// insertion order. Must be called with the lock held.
func (q *Queue) removeFromOriginalLocked(id string) {
	for i := range q.original {
		if q.original[i].ID == id {
			q.original = append(q.original[:i], q.original[i+1:]...)
			return
		}
	}
}

// reshuffleLocked permutes every track except the current one, which keeps
// its index. Must be called with the lock held.
func (q *Queue) reshuffleLocked() {
	if len(q.items) < 2 {
		return
	}

	rest := make([]track.Track, 0, len(q.items)-1)
	for i := range q.items {
		if i != q.current {
			rest = append(rest, q.items[i])
		}
	}
	q.rng.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})

	shuffled := make([]track.Track, 0, len(q.items))
	ri := 0
	for i := 0; i < len(q.items); i++ {
		if i == q.current {
			shuffled = append(shuffled, q.items[q.current])
			continue
		}
		shuffled = append(shuffled, rest[ri])
		ri++
	}
	q.items = shuffled
}
