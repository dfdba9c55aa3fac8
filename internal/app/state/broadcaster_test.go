package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaytsa/player/internal/domain/track"
)

func TestBroadcaster_PublishDelivers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	_, ch := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Publish(Snapshot{Track: &track.Track{ID: "t1"}, Playing: true})

	select {
	case snap := <-ch:
		assert.Equal(t, uint64(1), snap.SequenceNo)
		require.NotNil(t, snap.Track)
		assert.Equal(t, "t1", snap.Track.ID)
		assert.True(t, snap.Playing)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestBroadcaster_SequenceNumbersIncrease(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	_, ch := b.Subscribe()
	b.Publish(Snapshot{})
	b.Publish(Snapshot{})
	b.Publish(Snapshot{})

	assert.Equal(t, uint64(1), (<-ch).SequenceNo)
	assert.Equal(t, uint64(2), (<-ch).SequenceNo)
	assert.Equal(t, uint64(3), (<-ch).SequenceNo)
}

func TestBroadcaster_SlowSubscriberKeepsNewest(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	_, ch := b.Subscribe()

	// Publish far past the buffer without draining. Intermediate snapshots
	// are dropped; the newest must survive.
	for i := 0; i < 50; i++ {
		b.Publish(Snapshot{})
	}

	var last Snapshot
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}
	assert.Equal(t, uint64(50), last.SequenceNo)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	assert.Equal(t, 0, b.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)

	// Unknown IDs are ignored.
	b.Unsubscribe("nope")
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Close()

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)

	// Publishing and subscribing after Close are inert.
	b.Publish(Snapshot{})
	_, ch3 := b.Subscribe()
	_, open = <-ch3
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish(Snapshot{Playing: true})

	for _, ch := range []<-chan Snapshot{ch1, ch2} {
		select {
		case snap := <-ch:
			assert.True(t, snap.Playing)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	}
}
