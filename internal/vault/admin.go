package vault

import (
	"time"

	"github.com/google/uuid"
)

// Authorizer decides whether a caller may run privileged operations.
type Authorizer interface {
	IsAdmin(callerID uuid.UUID) bool
}

// StaticAuthorizer permits a fixed set of administrators, loaded from
// configuration at startup.
type StaticAuthorizer struct {
	admins map[uuid.UUID]struct{}
}

func NewStaticAuthorizer(adminIDs []uuid.UUID) *StaticAuthorizer {
	admins := make(map[uuid.UUID]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &StaticAuthorizer{admins: admins}
}

func (a *StaticAuthorizer) IsAdmin(callerID uuid.UUID) bool {
	_, ok := a.admins[callerID]
	return ok
}

// AdminControl gates privileged phase and emergency operations. The engine
// facade applies the state changes; this component only authorizes and
// delegates to the clock and emergency state.
type AdminControl struct {
	auth      Authorizer
	clock     *PhaseClock
	emergency *EmergencyState
}

func NewAdminControl(auth Authorizer, clock *PhaseClock, emergency *EmergencyState) *AdminControl {
	return &AdminControl{auth: auth, clock: clock, emergency: emergency}
}

func (ac *AdminControl) authorize(callerID uuid.UUID) error {
	if !ac.auth.IsAdmin(callerID) {
		return ErrUnauthorized
	}
	return nil
}

// ToggleEmergencyMode flips the emergency flag. Returns the new state.
func (ac *AdminControl) ToggleEmergencyMode(callerID uuid.UUID, now time.Time) (active bool, err error) {
	if err := ac.authorize(callerID); err != nil {
		return ac.emergency.Active(), err
	}
	if ac.emergency.Active() {
		ac.emergency.Deactivate()
		return false, nil
	}
	ac.emergency.Activate(now)
	return true, nil
}

// ForcePhaseTransition advances the phase immediately. Fails in
// FinalClaims, which can only be left by starting a new cycle.
func (ac *AdminControl) ForcePhaseTransition(callerID uuid.UUID, now time.Time) (from, to Phase, err error) {
	if err := ac.authorize(callerID); err != nil {
		return ac.clock.Phase(), ac.clock.Phase(), err
	}
	return ac.clock.ForceTransition(now)
}

// StartNewCycle resets the clock into a fresh Deposit phase and clears the
// emergency flag. Only valid from FinalClaims.
func (ac *AdminControl) StartNewCycle(callerID uuid.UUID, now time.Time) (cycle int64, err error) {
	if err := ac.authorize(callerID); err != nil {
		return ac.clock.Cycle(), err
	}
	if err := ac.clock.StartNewCycle(now); err != nil {
		return ac.clock.Cycle(), err
	}
	ac.emergency.Deactivate()
	return ac.clock.Cycle(), nil
}
