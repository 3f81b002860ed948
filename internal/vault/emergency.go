package vault

import "time"

// EmergencyWindow is how long emergency mode lasts before auto-expiry.
// Day one (first 24h) permits senior redemptions only; day two opens
// redemption to both tranches.
const (
	EmergencyWindow = 48 * time.Hour
	EmergencyDayOne = 24 * time.Hour
)

// EmergencyState tracks the emergency redemption window. Orthogonal to the
// phase clock: activation does not pause or reset phases. Like the clock,
// it never reads time itself.
type EmergencyState struct {
	active    bool
	enteredAt time.Time
}

func NewEmergencyState() *EmergencyState {
	return &EmergencyState{}
}

// RestoreEmergencyState rebuilds state from a snapshot.
func RestoreEmergencyState(active bool, enteredAt time.Time) *EmergencyState {
	return &EmergencyState{active: active, enteredAt: enteredAt}
}

func (e *EmergencyState) Active() bool         { return e.active }
func (e *EmergencyState) EnteredAt() time.Time { return e.enteredAt }

// Day returns which emergency day the given instant falls in: 1 for the
// first 24 hours, 2 afterwards. Zero when not active.
func (e *EmergencyState) Day(now time.Time) int {
	if !e.active {
		return 0
	}
	if now.Sub(e.enteredAt) < EmergencyDayOne {
		return 1
	}
	return 2
}

// Tick lazily expires emergency mode once the 48-hour window has passed.
// Returns true when this call deactivated it.
func (e *EmergencyState) Tick(now time.Time) bool {
	if !e.active {
		return false
	}
	if now.Sub(e.enteredAt) >= EmergencyWindow {
		e.active = false
		return true
	}
	return false
}

// Activate enters emergency mode. No-op if already active.
func (e *EmergencyState) Activate(now time.Time) bool {
	if e.active {
		return false
	}
	e.active = true
	e.enteredAt = now
	return true
}

// Deactivate leaves emergency mode. No-op if not active.
func (e *EmergencyState) Deactivate() bool {
	if !e.active {
		return false
	}
	e.active = false
	return true
}
