package event

import (
	"time"

	"github.com/google/uuid"
)

// EmergencyModeToggled records an emergency mode activation or deactivation.
// Automatic expiries carry a zero AdminID.
type EmergencyModeToggled struct {
	ToggleID  uuid.UUID
	AdminID   uuid.UUID
	Active    bool
	Automatic bool
	Cycle     int64
	Timestamp time.Time
}

func (e *EmergencyModeToggled) IdempotencyKey() string {
	return e.ToggleID.String()
}

func (e *EmergencyModeToggled) EventType() EventType {
	return EventTypeEmergencyModeToggled
}
