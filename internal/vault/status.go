package vault

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"TrancheVault/internal/ledger"
)

// ProtocolStatus is a point-in-time view of the vault for callers.
// Amounts are base units.
type ProtocolStatus struct {
	Phase           Phase
	PhaseStart      time.Time
	CycleStart      time.Time
	TimeRemaining   time.Duration
	Cycle           int64
	EmergencyActive bool
	EmergencyDay    int
	Collateral      map[string]*big.Int
	SeniorSupply    *big.Int
	JuniorSupply    *big.Int
	MinDeposit      *big.Int
	Sequence        int64
	StateHash       [32]byte
}

// effectivePhase evaluates the clock lazily without mutating it: reads see
// the phase an operation arriving now would observe after its entry tick.
// When the advance is due the effective phase starts at the observed time,
// matching what AdvanceIfDue will record.
func (e *Engine) effectivePhase(now time.Time) (Phase, time.Time, time.Duration) {
	phase := e.clock.Phase()
	start := e.clock.PhaseStart()
	if phase != PhaseFinalClaims && now.Sub(start) >= phase.Duration() {
		next := phase.Next()
		return next, now, next.Duration()
	}
	return phase, start, e.clock.TimeRemaining(now)
}

// effectiveEmergency mirrors the lazy emergency expiry for reads.
func (e *Engine) effectiveEmergency(now time.Time) (bool, int) {
	if !e.emergency.Active() {
		return false, 0
	}
	if now.Sub(e.emergency.EnteredAt()) >= EmergencyWindow {
		return false, 0
	}
	return true, e.emergency.Day(now)
}

// GetCurrentPhase returns the lazily evaluated phase.
func (e *Engine) GetCurrentPhase(now time.Time) Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	phase, _, _ := e.effectivePhase(now)
	return phase
}

// GetPhaseStart returns when the lazily evaluated phase began.
func (e *Engine) GetPhaseStart(now time.Time) time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, start, _ := e.effectivePhase(now)
	return start
}

// GetTimeRemaining returns time until the lazily evaluated phase ends.
func (e *Engine) GetTimeRemaining(now time.Time) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, _, remaining := e.effectivePhase(now)
	return remaining
}

// GetProtocolStatus assembles the full status view.
func (e *Engine) GetProtocolStatus(now time.Time) *ProtocolStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	phase, phaseStart, remaining := e.effectivePhase(now)
	emergencyActive, emergencyDay := e.effectiveEmergency(now)

	collateral := make(map[string]*big.Int, 2)
	for _, assetID := range ledger.CollateralAssets() {
		name, _ := ledger.GetAssetName(assetID)
		collateral[name] = e.tracker.VaultCollateral(assetID)
	}

	return &ProtocolStatus{
		Phase:           phase,
		PhaseStart:      phaseStart,
		CycleStart:      e.clock.CycleStart(),
		TimeRemaining:   remaining,
		Cycle:           e.clock.Cycle(),
		EmergencyActive: emergencyActive,
		EmergencyDay:    emergencyDay,
		Collateral:      collateral,
		SeniorSupply:    e.tracker.SeniorSupply(),
		JuniorSupply:    e.tracker.JuniorSupply(),
		MinDeposit:      e.assets.MinDeposit(),
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
	}
}

// GetHolderBalances returns a holder's tranche token balances.
func (e *Engine) GetHolderBalances(holderID uuid.UUID) (senior, junior *big.Int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.supply.SeniorBalance(holderID), e.supply.JuniorBalance(holderID)
}

// GetVaultBalance returns the vault's holding of one collateral asset.
func (e *Engine) GetVaultBalance(asset string) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	assetID, ok := ledger.GetAssetID(asset)
	if !ok || !ledger.IsCollateral(assetID) {
		return nil, ErrUnsupportedAsset
	}
	return e.tracker.VaultCollateral(assetID), nil
}

// CalculateWithdrawalAmounts simulates a proportional settlement with no
// mutation and no phase checks.
func (e *Engine) CalculateWithdrawalAmounts(senior, junior *big.Int) ([]Payout, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.withdrawals.CalculateWithdrawalAmounts(senior, junior)
}

// GetSequence returns the next sequence to assign.
func (e *Engine) GetSequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// GetStateHash returns the current hash chain tip.
func (e *Engine) GetStateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.GetPrevHash()
}
