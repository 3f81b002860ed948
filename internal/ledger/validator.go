package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed before application
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total.Sign() != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total.String())
		}
	}

	return nil
}

// ValidateCollateralNonNegative checks vault collateral >= 0 for both assets
func (v *InvariantValidator) ValidateCollateralNonNegative() error {
	for _, assetID := range CollateralAssets() {
		key := NewVaultAccountKey(SubTypeVaultCollateral, assetID)
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSupplyConsistency checks that the sum of holder token balances
// equals the issued supply for both the senior and junior token.
func (v *InvariantValidator) ValidateSupplyConsistency() error {
	seniorHeld := v.tracker.SumHolderBalances(SubTypeSeniorToken, AssetSRT)
	seniorSupply := v.tracker.SeniorSupply()
	if seniorHeld.Cmp(seniorSupply) != 0 {
		return fmt.Errorf("senior supply mismatch: held=%s supply=%s", seniorHeld, seniorSupply)
	}

	juniorHeld := v.tracker.SumHolderBalances(SubTypeJuniorToken, AssetJRT)
	juniorSupply := v.tracker.JuniorSupply()
	if juniorHeld.Cmp(juniorSupply) != 0 {
		return fmt.Errorf("junior supply mismatch: held=%s supply=%s", juniorHeld, juniorSupply)
	}

	return nil
}
