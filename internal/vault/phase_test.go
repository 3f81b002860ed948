package vault_test

import (
	"testing"
	"time"

	"TrancheVault/internal/vault"
)

var genesis = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestPhaseClock_NewStartsCycleOneDeposit(t *testing.T) {
	c := vault.NewPhaseClock(genesis)

	if c.Phase() != vault.PhaseDeposit {
		t.Errorf("phase: got %s, want Deposit", c.Phase())
	}
	if c.Cycle() != 1 {
		t.Errorf("cycle: got %d, want 1", c.Cycle())
	}
}

func TestPhaseClock_AdvanceNotDue(t *testing.T) {
	c := vault.NewPhaseClock(genesis)

	_, _, advanced := c.AdvanceIfDue(genesis.Add(47 * time.Hour))
	if advanced {
		t.Error("should not advance before 48h")
	}
	if c.Phase() != vault.PhaseDeposit {
		t.Errorf("phase: got %s, want Deposit", c.Phase())
	}
}

func TestPhaseClock_AdvanceSetsPhaseStartToObservedTime(t *testing.T) {
	c := vault.NewPhaseClock(genesis)

	// First interaction arrives well past the scheduled boundary; the new
	// phase starts at the observed time, so the overall cycle stretches.
	late := genesis.Add(50 * time.Hour)
	from, to, advanced := c.AdvanceIfDue(late)
	if !advanced {
		t.Fatal("should advance after 48h")
	}
	if from != vault.PhaseDeposit || to != vault.PhaseCoverage {
		t.Errorf("transition: got %s->%s, want Deposit->Coverage", from, to)
	}
	if !c.PhaseStart().Equal(late) {
		t.Errorf("phase start: got %v, want %v", c.PhaseStart(), late)
	}

	// Coverage now runs its full 72h from the late start.
	if _, _, adv := c.AdvanceIfDue(late.Add(71 * time.Hour)); adv {
		t.Error("Coverage should not end before 72h from its actual start")
	}
	if _, _, adv := c.AdvanceIfDue(late.Add(72 * time.Hour)); !adv {
		t.Error("Coverage should end 72h after its actual start")
	}
}

func TestPhaseClock_AdvanceSingleStep(t *testing.T) {
	c := vault.NewPhaseClock(genesis)

	// Even if several boundaries have passed, one call advances one phase.
	farFuture := genesis.Add(1000 * time.Hour)
	c.AdvanceIfDue(farFuture)
	if c.Phase() != vault.PhaseCoverage {
		t.Errorf("phase: got %s, want Coverage", c.Phase())
	}
}

func TestPhaseClock_FinalClaimsStalls(t *testing.T) {
	c := vault.NewPhaseClock(genesis)
	now := genesis
	for i := 0; i < 3; i++ {
		now = now.Add(100 * time.Hour)
		c.AdvanceIfDue(now)
	}
	if c.Phase() != vault.PhaseFinalClaims {
		t.Fatalf("phase: got %s, want FinalClaims", c.Phase())
	}

	_, _, advanced := c.AdvanceIfDue(now.Add(10000 * time.Hour))
	if advanced {
		t.Error("FinalClaims must stall until a new cycle is started")
	}
}

func TestPhaseClock_ForceTransition(t *testing.T) {
	c := vault.NewPhaseClock(genesis)

	now := genesis.Add(time.Hour)
	from, to, err := c.ForceTransition(now)
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if from != vault.PhaseDeposit || to != vault.PhaseCoverage {
		t.Errorf("transition: got %s->%s", from, to)
	}
	if !c.PhaseStart().Equal(now) {
		t.Errorf("phase start: got %v, want %v", c.PhaseStart(), now)
	}
}

func TestPhaseClock_ForceFromFinalClaimsFails(t *testing.T) {
	c := vault.NewPhaseClock(genesis)
	now := genesis
	for i := 0; i < 3; i++ {
		now = now.Add(time.Hour)
		if _, _, err := c.ForceTransition(now); err != nil {
			t.Fatalf("force %d: %v", i, err)
		}
	}

	if _, _, err := c.ForceTransition(now.Add(time.Hour)); err != vault.ErrWrongPhase {
		t.Errorf("force from FinalClaims: got %v, want ErrWrongPhase", err)
	}
}

func TestPhaseClock_StartNewCycle(t *testing.T) {
	c := vault.NewPhaseClock(genesis)

	// Not allowed outside FinalClaims.
	if err := c.StartNewCycle(genesis.Add(time.Hour)); err != vault.ErrWrongPhase {
		t.Errorf("start from Deposit: got %v, want ErrWrongPhase", err)
	}

	now := genesis
	for i := 0; i < 3; i++ {
		now = now.Add(time.Hour)
		c.ForceTransition(now)
	}

	restart := now.Add(48 * time.Hour)
	if err := c.StartNewCycle(restart); err != nil {
		t.Fatalf("start new cycle: %v", err)
	}
	if c.Phase() != vault.PhaseDeposit {
		t.Errorf("phase: got %s, want Deposit", c.Phase())
	}
	if c.Cycle() != 2 {
		t.Errorf("cycle: got %d, want 2", c.Cycle())
	}
	if !c.CycleStart().Equal(restart) || !c.PhaseStart().Equal(restart) {
		t.Error("cycle and phase start should reset to the restart instant")
	}
}

func TestPhaseClock_TimeRemaining(t *testing.T) {
	c := vault.NewPhaseClock(genesis)

	if got := c.TimeRemaining(genesis.Add(12 * time.Hour)); got != 36*time.Hour {
		t.Errorf("remaining: got %v, want 36h", got)
	}
	if got := c.TimeRemaining(genesis.Add(100 * time.Hour)); got != 0 {
		t.Errorf("overdue remaining: got %v, want 0", got)
	}
}
