package vault_test

import (
	"testing"
	"time"

	"TrancheVault/internal/vault"
)

func TestEmergencyState_InactiveIsDayZero(t *testing.T) {
	e := vault.NewEmergencyState()

	if e.Active() {
		t.Error("new state should be inactive")
	}
	if got := e.Day(genesis); got != 0 {
		t.Errorf("day: got %d, want 0", got)
	}
}

func TestEmergencyState_DayBoundaries(t *testing.T) {
	e := vault.NewEmergencyState()
	e.Activate(genesis)

	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 1},
		{23*time.Hour + 59*time.Minute, 1},
		{24 * time.Hour, 2},
		{47 * time.Hour, 2},
	}
	for _, tc := range cases {
		if got := e.Day(genesis.Add(tc.elapsed)); got != tc.want {
			t.Errorf("day at +%v: got %d, want %d", tc.elapsed, got, tc.want)
		}
	}
}

func TestEmergencyState_TickExpiry(t *testing.T) {
	e := vault.NewEmergencyState()
	e.Activate(genesis)

	if e.Tick(genesis.Add(47 * time.Hour)) {
		t.Error("should not expire before 48h")
	}
	if !e.Active() {
		t.Error("still active before 48h")
	}

	if !e.Tick(genesis.Add(48 * time.Hour)) {
		t.Error("should expire at 48h")
	}
	if e.Active() {
		t.Error("inactive after expiry")
	}

	// Further ticks are no-ops.
	if e.Tick(genesis.Add(49 * time.Hour)) {
		t.Error("tick after expiry should report no change")
	}
}

func TestEmergencyState_ActivateDeactivateNoOps(t *testing.T) {
	e := vault.NewEmergencyState()

	if e.Deactivate() {
		t.Error("deactivating an inactive state should be a no-op")
	}
	if !e.Activate(genesis) {
		t.Error("first activation should report a change")
	}
	if e.Activate(genesis.Add(time.Hour)) {
		t.Error("re-activation should be a no-op")
	}
	if !e.EnteredAt().Equal(genesis) {
		t.Error("re-activation must not move the entry time")
	}
	if !e.Deactivate() {
		t.Error("deactivation should report a change")
	}
}
