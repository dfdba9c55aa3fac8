package preload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrimer records preload calls and lets tests fail or delay them.
type fakePrimer struct {
	mu       sync.Mutex
	calls    []string
	primed   map[string]bool
	failWith map[string]error
	release  map[string]chan struct{}
}

func newFakePrimer() *fakePrimer {
	return &fakePrimer{
		primed:   make(map[string]bool),
		failWith: make(map[string]error),
		release:  make(map[string]chan struct{}),
	}
}

func (p *fakePrimer) Preload(ctx context.Context, locator string) error {
	p.mu.Lock()
	p.calls = append(p.calls, locator)
	gate := p.release[locator]
	err := p.failWith[locator]
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.primed[locator] = true
	p.mu.Unlock()
	return nil
}

func (p *fakePrimer) IsPreloaded(locator string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primed[locator]
}

func (p *fakePrimer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestTracker_Prepare_BecomesReady(t *testing.T) {
	primer := newFakePrimer()
	tr := New(primer)

	tr.Prepare(context.Background(), "t1", "stream://t1")

	assert.Equal(t, "t1", tr.TrackID())
	require.Eventually(t, func() bool {
		return tr.IsReady("t1")
	}, time.Second, 5*time.Millisecond)

	assert.False(t, tr.IsReady("t2"))
}

func TestTracker_Prepare_SameTrackIsNoop(t *testing.T) {
	primer := newFakePrimer()
	tr := New(primer)

	tr.Prepare(context.Background(), "t1", "stream://t1")
	require.Eventually(t, func() bool {
		return tr.IsReady("t1")
	}, time.Second, 5*time.Millisecond)

	tr.Prepare(context.Background(), "t1", "stream://t1")
	assert.Equal(t, 1, primer.callCount())
}

func TestTracker_Prepare_FailureClearsRecord(t *testing.T) {
	primer := newFakePrimer()
	primer.failWith["stream://bad"] = errors.New("fetch failed")
	tr := New(primer)

	tr.Prepare(context.Background(), "t1", "stream://bad")

	require.Eventually(t, func() bool {
		return tr.TrackID() == ""
	}, time.Second, 5*time.Millisecond)
	assert.False(t, tr.IsReady("t1"))
}

func TestTracker_Prepare_StaleFailureKeepsNewerRecord(t *testing.T) {
	primer := newFakePrimer()
	gate := make(chan struct{})
	primer.release["stream://old"] = gate
	primer.failWith["stream://old"] = errors.New("fetch failed")
	tr := New(primer)

	// First preload blocks until released, then fails.
	tr.Prepare(context.Background(), "old", "stream://old")
	// A newer request supersedes it before the failure lands.
	tr.Prepare(context.Background(), "new", "stream://new")

	close(gate)

	require.Eventually(t, func() bool {
		return tr.IsReady("new")
	}, time.Second, 5*time.Millisecond)

	// The stale failure must not erase the newer record.
	assert.Equal(t, "new", tr.TrackID())
}

func TestTracker_Consume(t *testing.T) {
	primer := newFakePrimer()
	tr := New(primer)

	tr.Prepare(context.Background(), "t1", "stream://t1")
	require.Eventually(t, func() bool {
		return tr.IsReady("t1")
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "stream://t1", tr.Consume())

	// One-shot: the record is gone after handoff.
	assert.Equal(t, "", tr.TrackID())
	assert.Equal(t, "", tr.Consume())
	assert.False(t, tr.IsReady("t1"))
}

func TestTracker_Invalidate(t *testing.T) {
	primer := newFakePrimer()
	gate := make(chan struct{})
	primer.release["stream://t1"] = gate
	primer.failWith["stream://t1"] = errors.New("fetch failed")
	tr := New(primer)

	tr.Prepare(context.Background(), "t1", "stream://t1")
	tr.Invalidate()

	assert.Equal(t, "", tr.TrackID())

	// The invalidated preload's failure is discarded without side effects.
	tr.Prepare(context.Background(), "t2", "stream://t2")
	close(gate)

	require.Eventually(t, func() bool {
		return tr.IsReady("t2")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "t2", tr.TrackID())
}
