package vault

import (
	"fmt"
	"time"
)

// Phase is one stage of the vault cycle.
type Phase int32

const (
	PhaseDeposit Phase = iota
	PhaseCoverage
	PhaseClaims
	PhaseFinalClaims
)

// Phase durations. FinalClaims has a nominal duration for display but the
// clock stalls there until a new cycle is started.
const (
	DepositDuration     = 48 * time.Hour
	CoverageDuration    = 72 * time.Hour
	ClaimsDuration      = 24 * time.Hour
	FinalClaimsDuration = 24 * time.Hour
)

func (p Phase) String() string {
	switch p {
	case PhaseDeposit:
		return "Deposit"
	case PhaseCoverage:
		return "Coverage"
	case PhaseClaims:
		return "Claims"
	case PhaseFinalClaims:
		return "FinalClaims"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// ParsePhase inverts String for snapshot restore and replay.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "Deposit":
		return PhaseDeposit, nil
	case "Coverage":
		return PhaseCoverage, nil
	case "Claims":
		return PhaseClaims, nil
	case "FinalClaims":
		return PhaseFinalClaims, nil
	default:
		return 0, fmt.Errorf("unknown phase %q", s)
	}
}

// Duration returns the scheduled length of the phase.
func (p Phase) Duration() time.Duration {
	switch p {
	case PhaseDeposit:
		return DepositDuration
	case PhaseCoverage:
		return CoverageDuration
	case PhaseClaims:
		return ClaimsDuration
	default:
		return FinalClaimsDuration
	}
}

// Next returns the phase that follows p. FinalClaims has no successor
// within a cycle; callers must not advance past it.
func (p Phase) Next() Phase {
	switch p {
	case PhaseDeposit:
		return PhaseCoverage
	case PhaseCoverage:
		return PhaseClaims
	case PhaseClaims:
		return PhaseFinalClaims
	default:
		return PhaseFinalClaims
	}
}

// PhaseClock tracks the current phase and cycle. Time is never read
// internally; callers pass the observed time into every method so the
// clock stays deterministic under replay.
type PhaseClock struct {
	phase      Phase
	phaseStart time.Time
	cycleStart time.Time
	cycle      int64
}

// NewPhaseClock starts cycle 1 in the Deposit phase at the given instant.
func NewPhaseClock(start time.Time) *PhaseClock {
	return &PhaseClock{
		phase:      PhaseDeposit,
		phaseStart: start,
		cycleStart: start,
		cycle:      1,
	}
}

// RestorePhaseClock rebuilds a clock from snapshot state.
func RestorePhaseClock(phase Phase, phaseStart, cycleStart time.Time, cycle int64) *PhaseClock {
	return &PhaseClock{
		phase:      phase,
		phaseStart: phaseStart,
		cycleStart: cycleStart,
		cycle:      cycle,
	}
}

// Restore overwrites clock state during snapshot restore and replay.
func (c *PhaseClock) Restore(phase Phase, phaseStart, cycleStart time.Time, cycle int64) {
	c.phase = phase
	c.phaseStart = phaseStart
	c.cycleStart = cycleStart
	c.cycle = cycle
}

func (c *PhaseClock) Phase() Phase          { return c.phase }
func (c *PhaseClock) PhaseStart() time.Time { return c.phaseStart }
func (c *PhaseClock) CycleStart() time.Time { return c.cycleStart }
func (c *PhaseClock) Cycle() int64          { return c.cycle }

// AdvanceIfDue moves to the next phase when the current phase's duration
// has elapsed. The new phase starts at the observed time, not at the
// theoretical boundary, so phases run long when no operation touches the
// vault. FinalClaims never advances on its own; it stalls until a new
// cycle is started.
func (c *PhaseClock) AdvanceIfDue(now time.Time) (from, to Phase, advanced bool) {
	if c.phase == PhaseFinalClaims {
		return c.phase, c.phase, false
	}
	if now.Sub(c.phaseStart) < c.phase.Duration() {
		return c.phase, c.phase, false
	}
	from = c.phase
	c.phase = c.phase.Next()
	c.phaseStart = now
	return from, c.phase, true
}

// ForceTransition moves immediately to the next phase regardless of time.
// FinalClaims cannot be forced past; a new cycle must be started instead.
func (c *PhaseClock) ForceTransition(now time.Time) (from, to Phase, err error) {
	if c.phase == PhaseFinalClaims {
		return c.phase, c.phase, ErrWrongPhase
	}
	from = c.phase
	c.phase = c.phase.Next()
	c.phaseStart = now
	return from, c.phase, nil
}

// StartNewCycle begins the next cycle from FinalClaims.
func (c *PhaseClock) StartNewCycle(now time.Time) error {
	if c.phase != PhaseFinalClaims {
		return ErrWrongPhase
	}
	c.phase = PhaseDeposit
	c.phaseStart = now
	c.cycleStart = now
	c.cycle++
	return nil
}

// TimeRemaining reports how long until the current phase is scheduled to
// end. Zero when overdue or stalled in FinalClaims past its nominal end.
func (c *PhaseClock) TimeRemaining(now time.Time) time.Duration {
	remaining := c.phaseStart.Add(c.phase.Duration()).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
