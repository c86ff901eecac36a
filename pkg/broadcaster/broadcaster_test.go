package broadcaster

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := New(8, time.Second)
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	assert.Equal(t, 2, b.SubscriberCount())

	b.Broadcast("session_created", json.RawMessage(`{"agent_id":1}`))

	msg1 := <-ch1
	msg2 := <-ch2
	assert.Equal(t, "session_created", msg1.Type)
	assert.Equal(t, "session_created", msg2.Type)
}

func TestBroadcaster_DropsOldestOnFullBuffer(t *testing.T) {
	b := New(2, time.Second)
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Broadcast("card_refresh", nil)
	}

	var saw []Message
	drain := true
	for drain {
		select {
		case m := <-ch:
			saw = append(saw, m)
		default:
			drain = false
		}
	}

	require.NotEmpty(t, saw)
	foundDropped := false
	for _, m := range saw {
		if m.Type == "dropped" {
			foundDropped = true
		}
	}
	assert.True(t, foundDropped, "expected a dropped marker once the buffer overflowed")
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := New(4, time.Second)
	ch, unsub := b.Subscribe()
	unsub()

	assert.Equal(t, 0, b.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_BroadcastNeverPanicsAfterUnsubscribeRace(t *testing.T) {
	b := New(4, time.Second)
	_, unsub := b.Subscribe()
	unsub()

	assert.NotPanics(t, func() {
		b.Broadcast("ping", nil)
	})
}
