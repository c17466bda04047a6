// Package events provides the process-wide notification bus. Other
// subsystems subscribe to refresh their own projections once owned data
// becomes available.
package events

import (
	"sync"
	"time"
)

// Event topic constants.
const (
	// TopicSync carries SyncEvent payloads from the sync channel.
	TopicSync = "declarations.sync.event"
	// TopicRemoteChange signals that remote-origin rows landed in the store.
	TopicRemoteChange = "declarations.sync.remote_change"

	// Bootstrap-import lifecycle, consumed by UI/coordination layers.
	TopicImportStarted   = "declarations.import.started"
	TopicImportCompleted = "declarations.import.completed"
	TopicImportFailed    = "declarations.import.failed"

	// TopicEntryDeleted reports owned-record deletions so projections
	// never reference a deleted id.
	TopicEntryDeleted = "declarations.entry.deleted"
)

// SyncOp is the kind of low-level channel lifecycle event.
type SyncOp string

const (
	OpSetup  SyncOp = "setup"
	OpImport SyncOp = "import"
	OpExport SyncOp = "export"
)

// SyncEvent is a raw channel lifecycle event: an operation with a start
// time, an optional end time, and an optional backend-supplied error.
type SyncEvent struct {
	Op        SyncOp     `json:"op"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Err       string     `json:"err,omitempty"`
}

// Ended reports whether the event carries an end time.
func (e SyncEvent) Ended() bool { return e.EndedAt != nil }

// ImportCompleted reports the outcome of a finished bootstrap import.
type ImportCompleted struct {
	HasData bool `json:"has_data"`
	Records int  `json:"records"`
}

// ImportFailed carries the terminal bootstrap failure reason.
type ImportFailed struct {
	Reason string `json:"reason"`
	// AccountUnavailable marks the user-action-required case, as opposed
	// to an exhausted retry budget.
	AccountUnavailable bool `json:"account_unavailable,omitempty"`
}

// EntryDeleted identifies a removed owned record.
type EntryDeleted struct {
	EntryID string `json:"entry_id"`
}

// Event is a published payload with its topic.
type Event struct {
	Topic   string
	Payload interface{}
}

// Bus is an in-process topic-based publish/subscribe bus. Publishing never
// blocks: slow subscribers drop events rather than stalling the engine.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe delivers events for a topic on the returned channel.
// Call the returned cancel function to unsubscribe and close the channel.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[topic]
		for i, c := range chans {
			if c == ch {
				b.subs[topic] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers the payload to every subscriber of the topic.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- Event{Topic: topic, Payload: payload}:
		default:
			// Subscriber is not draining; drop instead of blocking.
		}
	}
}

// Close unsubscribes everything.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(b.subs, topic)
	}
}
