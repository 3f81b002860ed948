package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAssetDeposited
	EventTypeTokensWithdrawn
	EventTypeEmergencyWithdrawal
	EventTypeEmergencyModeToggled
	EventTypePhaseTransitioned
	EventTypeCycleStarted
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypeAssetDeposited:
		return "AssetDeposited"
	case EventTypeTokensWithdrawn:
		return "TokensWithdrawn"
	case EventTypeEmergencyWithdrawal:
		return "EmergencyWithdrawal"
	case EventTypeEmergencyModeToggled:
		return "EmergencyModeToggled"
	case EventTypePhaseTransitioned:
		return "PhaseTransitioned"
	case EventTypeCycleStarted:
		return "CycleStarted"
	default:
		return "Unknown"
	}
}

// ParseEventType inverts String for log replay and projection decoding.
func ParseEventType(s string) EventType {
	switch s {
	case "AssetDeposited":
		return EventTypeAssetDeposited
	case "TokensWithdrawn":
		return EventTypeTokensWithdrawn
	case "EmergencyWithdrawal":
		return EventTypeEmergencyWithdrawal
	case "EmergencyModeToggled":
		return EventTypeEmergencyModeToggled
	case "PhaseTransitioned":
		return EventTypePhaseTransitioned
	case "CycleStarted":
		return EventTypeCycleStarted
	default:
		return EventTypeUnknown
	}
}
