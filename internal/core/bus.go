package core

import (
	"sync"
)

// EventType is the step-stream vocabulary observers must handle.
type EventType string

const (
	EventToken     EventType = "token"
	EventStep      EventType = "step"
	EventSensitive EventType = "sensitive"
	EventTakeover  EventType = "takeover"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Phase names the incremental text channel a token belongs to.
type Phase string

const (
	PhaseThinking Phase = "thinking"
	PhaseAction   Phase = "action"
)

// Event is one step-stream message for an execution.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

const subscriberBuffer = 256

type subscriber struct {
	ch     chan Event
	closed bool
}

// Bus fans execution events out to any number of observers. Publishing never
// blocks: a subscriber whose buffer is full is dropped from the fan-out set,
// so a slow observer cannot stall the producer.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers an observer for one execution's events. The returned
// cancel function detaches the observer and closes its channel; it is safe
// to call more than once.
func (b *Bus) Subscribe(executionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	b.subs[executionID] = append(b.subs[executionID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		b.removeLocked(executionID, sub)
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers an event to every current subscriber of the execution.
func (b *Bus) Publish(executionID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[executionID]
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			// Buffer full: the observer is not keeping up. Drop it.
			b.removeLocked(executionID, sub)
		}
	}
}

// Close detaches every subscriber of the execution. Called after the
// terminal event has been published.
func (b *Bus) Close(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[executionID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(b.subs, executionID)
}

func (b *Bus) removeLocked(executionID string, target *subscriber) {
	subs := b.subs[executionID]
	for i, sub := range subs {
		if sub == target {
			b.subs[executionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if !target.closed {
		target.closed = true
		close(target.ch)
	}
	if len(b.subs[executionID]) == 0 {
		delete(b.subs, executionID)
	}
}

// Event constructors keep the wire shape in one place.

func tokenEvent(step int, phase Phase, content string) Event {
	return Event{Type: EventToken, Data: map[string]any{
		"step": step, "phase": string(phase), "content": content,
	}}
}

func stepEvent(s ExecutionStep, finished, success bool, message string) Event {
	data := map[string]any{
		"step":     s.Index,
		"thinking": s.Thinking,
		"finished": finished,
		"success":  success,
	}
	if s.Action != nil {
		data["action"] = s.Action
	} else if s.Raw != "" {
		data["action"] = s.Raw
	}
	if message != "" {
		data["message"] = message
	}
	return Event{Type: EventStep, Data: data}
}

func sensitiveEvent(step int, message string, action *Action) Event {
	return Event{Type: EventSensitive, Data: map[string]any{
		"step": step, "message": message, "action": action,
	}}
}

func takeoverEvent(step int, message string) Event {
	return Event{Type: EventTakeover, Data: map[string]any{
		"step": step, "message": message,
	}}
}

func doneEvent(success bool, message string, pause PauseReason) Event {
	data := map[string]any{"success": success}
	if message != "" {
		data["message"] = message
	}
	if pause != "" {
		data["paused"] = true
		data["pauseReason"] = string(pause)
	}
	return Event{Type: EventDone, Data: data}
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Data: map[string]any{"message": message}}
}
