package vault_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"TrancheVault/internal/fpmath"
	"TrancheVault/internal/ledger"
	"TrancheVault/internal/vault"
)

type withdrawalFixture struct {
	tracker   *ledger.BalanceTracker
	clock     *vault.PhaseClock
	emergency *vault.EmergencyState
	engine    *vault.WithdrawalEngine
	holderID  uuid.UUID
}

// newWithdrawalFixture seeds a vault with 600 sDAI and 400 sUSDe of
// collateral and gives the holder 100 senior and 100 junior tokens.
func newWithdrawalFixture(t *testing.T) *withdrawalFixture {
	t.Helper()

	tracker := ledger.NewBalanceTracker()
	tracker.SetBalance(ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI), fpmath.Units(600))
	tracker.SetBalance(ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSUSDE), fpmath.Units(400))

	holderID := uuid.New()
	tracker.SetBalance(ledger.NewHolderAccountKey(holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT), fpmath.Units(100))
	tracker.SetBalance(ledger.NewHolderAccountKey(holderID, ledger.SubTypeJuniorToken, ledger.AssetJRT), fpmath.Units(100))

	clock := vault.NewPhaseClock(genesis)
	emergency := vault.NewEmergencyState()
	engine := vault.NewWithdrawalEngine(
		vault.NewAssetLedger(tracker, nil),
		vault.NewTokenSupplyTracker(tracker),
		clock,
		emergency,
	)
	return &withdrawalFixture{
		tracker:   tracker,
		clock:     clock,
		emergency: emergency,
		engine:    engine,
		holderID:  holderID,
	}
}

func (f *withdrawalFixture) forceTo(t *testing.T, target vault.Phase, now time.Time) {
	t.Helper()
	for f.clock.Phase() != target {
		if _, _, err := f.clock.ForceTransition(now); err != nil {
			t.Fatalf("force to %s: %v", target, err)
		}
	}
}

func payoutFor(payouts []vault.Payout, assetID ledger.AssetID) *big.Int {
	for _, p := range payouts {
		if p.AssetID == assetID {
			return p.Amount
		}
	}
	return new(big.Int)
}

func TestWithdrawal_ProportionalSplit(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.forceTo(t, vault.PhaseFinalClaims, genesis.Add(time.Hour))

	// Value 200 against 600/400 holdings splits 60/40.
	s, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: fpmath.Units(100),
		Junior: fpmath.Units(100),
	}, 1, genesis.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if got := payoutFor(s.Payouts, ledger.AssetSDAI); got.Cmp(fpmath.Units(120)) != 0 {
		t.Errorf("sDAI payout: got %s, want 120 units", got)
	}
	if got := payoutFor(s.Payouts, ledger.AssetSUSDE); got.Cmp(fpmath.Units(80)) != 0 {
		t.Errorf("sUSDe payout: got %s, want 80 units", got)
	}
	if s.EmergencyDay != 0 {
		t.Errorf("emergency day: got %d, want 0", s.EmergencyDay)
	}

	// Two burns plus two collateral releases.
	if len(s.Batch.Journals) != 4 {
		t.Errorf("journals: got %d, want 4", len(s.Batch.Journals))
	}
}

func TestWithdrawal_InsufficientLiquidityIsAllOrNothing(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.forceTo(t, vault.PhaseFinalClaims, genesis.Add(time.Hour))

	// Give the holder more tokens than the vault can cover.
	f.tracker.SetBalance(ledger.NewHolderAccountKey(f.holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT), fpmath.Units(2000))

	_, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: fpmath.Units(1500),
	}, 1, genesis.Add(2*time.Hour))
	if err != vault.ErrInsufficientLiquidity {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestWithdrawal_DepositPhaseRequiresEqualAmounts(t *testing.T) {
	f := newWithdrawalFixture(t)

	_, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: fpmath.Units(30),
		Junior: fpmath.Units(10),
	}, 1, genesis.Add(time.Hour))
	if err != vault.ErrUnequalWithdrawal {
		t.Errorf("got %v, want ErrUnequalWithdrawal", err)
	}

	if _, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: fpmath.Units(30),
		Junior: fpmath.Units(30),
	}, 1, genesis.Add(time.Hour)); err != nil {
		t.Errorf("equal amounts should settle: %v", err)
	}
}

func TestWithdrawal_ClaimsPhaseSeniorOnly(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.forceTo(t, vault.PhaseClaims, genesis.Add(time.Hour))

	_, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: fpmath.Units(10),
		Junior: fpmath.Units(10),
	}, 1, genesis.Add(2*time.Hour))
	if err != vault.ErrWrongPhase {
		t.Errorf("junior during Claims: got %v, want ErrWrongPhase", err)
	}

	if _, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: fpmath.Units(10),
	}, 1, genesis.Add(2*time.Hour)); err != nil {
		t.Errorf("senior-only during Claims should settle: %v", err)
	}
}

func TestWithdrawal_EmergencyDayOneBlocksJunior(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.emergency.Activate(genesis)

	_, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Junior: fpmath.Units(10),
	}, 1, genesis.Add(time.Hour))
	if err != vault.ErrJuniorBlocked {
		t.Errorf("got %v, want ErrJuniorBlocked", err)
	}

	// Day two opens junior withdrawals.
	if _, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Junior: fpmath.Units(10),
	}, 1, genesis.Add(25*time.Hour)); err != nil {
		t.Errorf("junior on day two: %v", err)
	}
}

func TestWithdrawal_PreferredAssetDuringEmergency(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.emergency.Activate(genesis)

	s, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior:         fpmath.Units(50),
		PreferredAsset: "sUSDe",
	}, 1, genesis.Add(time.Hour))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(s.Payouts) != 1 || s.Payouts[0].AssetID != ledger.AssetSUSDE {
		t.Fatalf("expected a single sUSDe payout, got %+v", s.Payouts)
	}
	if s.Payouts[0].Amount.Cmp(fpmath.Units(50)) != 0 {
		t.Errorf("payout: got %s, want 50 units", s.Payouts[0].Amount)
	}
	if s.EmergencyDay != 1 {
		t.Errorf("emergency day: got %d, want 1", s.EmergencyDay)
	}
}

func TestWithdrawal_PreferredAssetInsufficientFails(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.emergency.Activate(genesis)

	// sUSDe holds 400 units; no partial fill from sDAI.
	f.tracker.SetBalance(ledger.NewHolderAccountKey(f.holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT), fpmath.Units(500))
	_, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior:         fpmath.Units(500),
		PreferredAsset: "sUSDe",
	}, 1, genesis.Add(time.Hour))
	if err != vault.ErrInsufficientLiquidity {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestWithdrawal_PreferredAssetIgnoredOutsideEmergency(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.forceTo(t, vault.PhaseFinalClaims, genesis.Add(time.Hour))

	s, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior:         fpmath.Units(50),
		Junior:         fpmath.Units(50),
		PreferredAsset: "sUSDe",
	}, 1, genesis.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(s.Payouts) != 2 {
		t.Errorf("expected proportional payouts, got %+v", s.Payouts)
	}
}

func TestWithdrawal_ValidatesHolderBalance(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.forceTo(t, vault.PhaseFinalClaims, genesis.Add(time.Hour))

	_, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: fpmath.Units(101),
	}, 1, genesis.Add(2*time.Hour))
	if err != vault.ErrInsufficientBalance {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestWithdrawal_RejectsZeroAndNegative(t *testing.T) {
	f := newWithdrawalFixture(t)

	if _, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{}, 1, genesis); err != vault.ErrZeroAmount {
		t.Errorf("zero request: got %v, want ErrZeroAmount", err)
	}
	if _, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: big.NewInt(-1),
	}, 1, genesis); err != vault.ErrZeroAmount {
		t.Errorf("negative request: got %v, want ErrZeroAmount", err)
	}
}

func TestWithdrawAll_EmergencyDayOneTakesSeniorOnly(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.emergency.Activate(genesis)

	s, err := f.engine.PrepareWithdrawAll(uuid.New(), f.holderID, "", 1, genesis.Add(time.Hour))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if s.SeniorBurned.Cmp(fpmath.Units(100)) != 0 {
		t.Errorf("senior burned: got %s, want 100 units", s.SeniorBurned)
	}
	if s.JuniorBurned.Sign() != 0 {
		t.Errorf("junior burned on day one: got %s, want 0", s.JuniorBurned)
	}
}

func TestCalculateWithdrawalAmounts_NoPhaseChecks(t *testing.T) {
	f := newWithdrawalFixture(t)

	// Simulation works during Deposit phase with unequal amounts.
	payouts, err := f.engine.CalculateWithdrawalAmounts(fpmath.Units(100), new(big.Int))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if got := payoutFor(payouts, ledger.AssetSDAI); got.Cmp(fpmath.Units(60)) != 0 {
		t.Errorf("sDAI share: got %s, want 60 units", got)
	}
	if got := payoutFor(payouts, ledger.AssetSUSDE); got.Cmp(fpmath.Units(40)) != 0 {
		t.Errorf("sUSDe share: got %s, want 40 units", got)
	}

	if _, err := f.engine.CalculateWithdrawalAmounts(fpmath.Units(5000), new(big.Int)); err != vault.ErrInsufficientLiquidity {
		t.Errorf("oversized simulation: got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestWithdrawal_SingleAssetVaultPaysFromThatAsset(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.forceTo(t, vault.PhaseFinalClaims, genesis.Add(time.Hour))

	// Drain sUSDe so all value must come from sDAI.
	f.tracker.SetBalance(ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSUSDE), new(big.Int))

	s, err := f.engine.PrepareWithdrawal(uuid.New(), f.holderID, vault.WithdrawalRequest{
		Senior: fpmath.Units(50),
		Junior: fpmath.Units(50),
	}, 1, genesis.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if got := payoutFor(s.Payouts, ledger.AssetSDAI); got.Cmp(fpmath.Units(100)) != 0 {
		t.Errorf("sDAI payout: got %s, want 100 units", got)
	}
	if got := payoutFor(s.Payouts, ledger.AssetSUSDE); got.Sign() != 0 {
		t.Errorf("sUSDe payout: got %s, want 0", got)
	}

	// Zero-amount payout legs are not journaled.
	for _, j := range s.Batch.Journals {
		if j.Amount.Sign() == 0 {
			t.Error("batch contains a zero-amount journal")
		}
	}
}
