package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// State is the state of a breaker.
type State int

// Breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// EventType names a transition.
type EventType string

// Transition events.
const (
	EventOpened   EventType = "opened"
	EventHalfOpen EventType = "halfOpen"
	EventClosed   EventType = "closed"
)

// eventFor returns the event emitted on entering s.
func eventFor(s State) EventType {
	switch s {
	case StateOpen:
		return EventOpened
	case StateHalfOpen:
		return EventHalfOpen
	default:
		return EventClosed
	}
}

// Event is a breaker transition.
type Event struct {
	Type   EventType
	Target string
	From   State
	To     State
	At     time.Time
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Target                string    `json:"target"`
	State                 string    `json:"state"`
	Requests              uint32    `json:"requests"`
	Failures              uint32    `json:"failures"`
	ConsecutiveFailures   uint32    `json:"consecutiveFailures"`
	OpenedAt              time.Time `json:"openedAt,omitempty"`
	ResetTimeout          string    `json:"resetTimeout"`
	ErrorThresholdPercent float64   `json:"errorThresholdPercent"`
}
