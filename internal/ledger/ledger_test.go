package ledger_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"TrancheVault/internal/ledger"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	holderID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewHolderAccountKey(holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT)

	path := key.AccountPath()
	expected := "holder:550e8400-e29b-41d4-a716-446655440000:senior_token:SRT"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_VaultPath(t *testing.T) {
	key := ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI)

	path := key.AccountPath()
	if path != "vault:collateral:sDAI" {
		t.Errorf("got %q, want %q", path, "vault:collateral:sDAI")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetSUSDE)

	path := key.AccountPath()
	if path != "external:deposits:sUSDe" {
		t.Errorf("got %q, want %q", path, "external:deposits:sUSDe")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewHolderAccountKey(uuid.New(), ledger.SubTypeSeniorToken, ledger.AssetSRT),
		ledger.NewHolderAccountKey(uuid.New(), ledger.SubTypeJuniorToken, ledger.AssetJRT),
		ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI),
		ledger.NewVaultAccountKey(ledger.SubTypeSeniorIssuance, ledger.AssetSRT),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, ledger.AssetSUSDE),
	}

	for _, key := range keys {
		parsed, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Fatalf("parse %q: %v", key.AccountPath(), err)
		}
		if parsed != key {
			t.Errorf("round trip mismatch for %q", key.AccountPath())
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	bad := []string{
		"",
		"vault",
		"vault:collateral",
		"vault:collateral:DOGE",
		"holder:not-a-uuid:senior_token:SRT",
		"galaxy:collateral:sDAI",
	}
	for _, path := range bad {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("expected error for %q", path)
		}
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("sDAI")
	if !ok {
		t.Fatal("sDAI should be a known asset")
	}
	if id != ledger.AssetSDAI {
		t.Errorf("sDAI asset ID: got %d, want %d", id, ledger.AssetSDAI)
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

func TestIsCollateral(t *testing.T) {
	if !ledger.IsCollateral(ledger.AssetSDAI) || !ledger.IsCollateral(ledger.AssetSUSDE) {
		t.Error("stablecoins should be collateral")
	}
	if ledger.IsCollateral(ledger.AssetSRT) || ledger.IsCollateral(ledger.AssetJRT) {
		t.Error("risk tokens should not be collateral")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func amount(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	balance := bt.VaultCollateral(ledger.AssetSDAI)
	if balance.Sign() != 0 {
		t.Errorf("initial balance should be 0, got %s", balance)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	// Simulate collateral in: debit vault:collateral, credit external:deposits
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetSDAI),
		AssetID:       ledger.AssetSDAI,
		Amount:        amount(100),
	}

	bt.ApplyJournal(j)

	if got := bt.VaultCollateral(ledger.AssetSDAI); got.Cmp(amount(100)) != 0 {
		t.Errorf("vault collateral: got %s, want %s", got, amount(100))
	}
	external := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetSDAI))
	if external.Cmp(new(big.Int).Neg(amount(100))) != 0 {
		t.Errorf("external deposits: got %s, want %s", external, new(big.Int).Neg(amount(100)))
	}
}

func TestBalanceTracker_MintAndSupply(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	holderID := uuid.New()

	mint := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewHolderAccountKey(holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT),
		CreditAccount: ledger.NewVaultAccountKey(ledger.SubTypeSeniorIssuance, ledger.AssetSRT),
		AssetID:       ledger.AssetSRT,
		Amount:        amount(50),
		JournalType:   ledger.JournalTypeSeniorMint,
	}
	bt.ApplyJournal(mint)

	if got := bt.HolderSeniorBalance(holderID); got.Cmp(amount(50)) != 0 {
		t.Errorf("holder senior balance: got %s, want %s", got, amount(50))
	}
	if got := bt.SeniorSupply(); got.Cmp(amount(50)) != 0 {
		t.Errorf("senior supply: got %s, want %s", got, amount(50))
	}
}

func TestBalanceTracker_GetBalanceReturnsCopy(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	key := ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI)
	bt.SetBalance(key, amount(10))

	got := bt.GetBalance(key)
	got.Add(got, amount(999))

	if bt.GetBalance(key).Cmp(amount(10)) != 0 {
		t.Error("mutating a returned balance should not affect the tracker")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	key := ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSUSDE)
	bt.SetBalance(key, amount(7))

	snap := bt.Snapshot()
	snap[key].Add(snap[key], amount(1))

	if bt.GetBalance(key).Cmp(amount(7)) != 0 {
		t.Error("snapshot must be a deep copy")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_Validate_RejectsNonPositiveAmount(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetSDAI),
				AssetID:       ledger.AssetSDAI,
				Amount:        big.NewInt(0),
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero-amount journal should fail validation")
	}
}

func TestBatch_Validate_RejectsSelfTransfer(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  key,
				CreditAccount: key,
				AssetID:       ledger.AssetSDAI,
				Amount:        amount(1),
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer journal should fail validation")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	holderID := uuid.New()
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetSDAI),
				AssetID:       ledger.AssetSDAI,
				Amount:        amount(100),
			},
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewHolderAccountKey(holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT),
				CreditAccount: ledger.NewVaultAccountKey(ledger.SubTypeSeniorIssuance, ledger.AssetSRT),
				AssetID:       ledger.AssetSRT,
				Amount:        amount(50),
			},
		},
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance should be zero-sum: %v", err)
	}
	if err := v.ValidateCollateralNonNegative(); err != nil {
		t.Errorf("collateral should be non-negative: %v", err)
	}
	if err := v.ValidateSupplyConsistency(); err != nil {
		t.Errorf("supply should match held tokens: %v", err)
	}
}

func TestInvariantValidator_DetectsNegativeCollateral(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	bt.SetBalance(ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, ledger.AssetSDAI), big.NewInt(-1))

	if err := v.ValidateCollateralNonNegative(); err == nil {
		t.Error("negative collateral should be detected")
	}
}

func TestInvariantValidator_DetectsSupplyMismatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Holder holds tokens that were never issued.
	bt.SetBalance(ledger.NewHolderAccountKey(uuid.New(), ledger.SubTypeSeniorToken, ledger.AssetSRT), amount(5))

	if err := v.ValidateSupplyConsistency(); err == nil {
		t.Error("supply mismatch should be detected")
	}
}
