package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("exec-1")
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish("exec-1", Event{Type: EventStep, Data: map[string]any{"step": i}})
	}

	for i := 0; i < 5; i++ {
		ev := <-ch
		assert.Equal(t, EventStep, ev.Type)
		assert.Equal(t, i, ev.Data["step"])
	}
}

func TestBusIsolatesExecutions(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("exec-1")
	defer cancel()

	bus.Publish("exec-2", Event{Type: EventStep})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestBusDropsSlowSubscriber(t *testing.T) {
	bus := NewBus()
	slow, cancelSlow := bus.Subscribe("exec-1")
	defer cancelSlow()
	fast, cancelFast := bus.Subscribe("exec-1")
	defer cancelFast()

	// Overflow the slow subscriber's buffer without draining it.
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish("exec-1", Event{Type: EventToken, Data: map[string]any{"i": i}})
		// Keep the fast subscriber drained so it survives.
		select {
		case <-fast:
		default:
		}
	}

	// The slow subscriber was detached: its channel is closed after the
	// buffered events drain.
	drained := 0
	for range slow {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)

	// The fast subscriber still receives.
	bus.Publish("exec-1", Event{Type: EventDone, Data: map[string]any{}})
	ev := <-fast
	assert.Equal(t, EventDone, ev.Type)
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("exec-1")
	defer cancel()

	bus.Publish("exec-1", Event{Type: EventDone, Data: map[string]any{"success": true}})
	bus.Close("exec-1")

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, EventDone, ev.Type)

	_, ok = <-ch
	assert.False(t, ok)

	// Publishing after close is a no-op, not a panic.
	bus.Publish("exec-1", Event{Type: EventStep})
}

func TestBusCancelIdempotent(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe("exec-1")
	cancel()
	cancel()
}

func TestBusManySubscribers(t *testing.T) {
	bus := NewBus()
	chans := make([]<-chan Event, 0, 10)
	for i := 0; i < 10; i++ {
		ch, cancel := bus.Subscribe("exec-1")
		defer cancel()
		chans = append(chans, ch)
	}

	bus.Publish("exec-1", Event{Type: EventStep, Data: map[string]any{"step": 1}})
	for i, ch := range chans {
		ev := <-ch
		assert.Equal(t, EventStep, ev.Type, fmt.Sprintf("subscriber %d", i))
	}
}
