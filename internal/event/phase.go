package event

import (
	"time"

	"github.com/google/uuid"
)

// PhaseTransitioned records a phase change, whether it happened lazily on
// operation entry or was forced by an admin.
type PhaseTransitioned struct {
	TransitionID uuid.UUID
	FromPhase    string
	ToPhase      string
	Forced       bool
	AdminID      uuid.UUID // zero unless Forced
	Cycle        int64
	Timestamp    time.Time
}

func (p *PhaseTransitioned) IdempotencyKey() string {
	return p.TransitionID.String()
}

func (p *PhaseTransitioned) EventType() EventType {
	return EventTypePhaseTransitioned
}

// CycleStarted records the start of a new deposit cycle. Emergency mode,
// if active, is cleared when a cycle starts.
type CycleStarted struct {
	StartID   uuid.UUID
	AdminID   uuid.UUID
	Cycle     int64
	Timestamp time.Time
}

func (c *CycleStarted) IdempotencyKey() string {
	return c.StartID.String()
}

func (c *CycleStarted) EventType() EventType {
	return EventTypeCycleStarted
}
