// Package buildevent streams build events to an external observability
// collector. The stream is fire-and-forget telemetry: an event that has
// not been acknowledged is merely not yet durable, and the build never
// blocks on it.
package buildevent

import (
	"time"
)

// Event types emitted by the build engine.
const (
	TypeActionStarted    = "action_started"
	TypeActionCompleted  = "action_completed"
	TypeActionFailed     = "action_failed"
	TypeDynamicResolved  = "dynamic_resolved"
	TypeDynamicDiscarded = "dynamic_discarded"
)

// Event is one structured build event. Events produced during dynamic
// resolution are streamed the same way as those produced by static
// analysis.
type Event struct {
	TraceID  uint64    `json:"trace_id"`
	Type     string    `json:"type"`
	Identity string    `json:"identity,omitempty"`
	Site     string    `json:"site,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Publisher is consumed by every component that emits build events.
// Implementations must not block: the event stream is not a
// synchronization primitive.
type Publisher interface {
	Publish(event Event)
}

// DiscardingPublisher drops all events. It is used when no collector
// is configured.
type DiscardingPublisher struct{}

// Publish discards the event.
func (DiscardingPublisher) Publish(event Event) {}
