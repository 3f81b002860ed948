package vault

import (
	"math/big"

	"TrancheVault/internal/fpmath"
	"TrancheVault/internal/ledger"
)

// DefaultMinDeposit is 10 whole tokens in base units.
var DefaultMinDeposit = fpmath.Units(10)

// AssetLedger validates collateral movements against the vault's holdings.
// It reads balances through the shared tracker; all writes go through
// journal batches applied by the engine.
type AssetLedger struct {
	tracker    *ledger.BalanceTracker
	minDeposit *big.Int
}

func NewAssetLedger(tracker *ledger.BalanceTracker, minDeposit *big.Int) *AssetLedger {
	if minDeposit == nil {
		minDeposit = DefaultMinDeposit
	}
	return &AssetLedger{
		tracker:    tracker,
		minDeposit: new(big.Int).Set(minDeposit),
	}
}

// ValidateDeposit checks asset support, the minimum, and even splitting.
func (al *AssetLedger) ValidateDeposit(asset string, amount *big.Int) error {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok || !ledger.IsCollateral(assetID) {
		return ErrUnsupportedAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if amount.Cmp(al.minDeposit) < 0 {
		return ErrBelowMinimum
	}
	if !fpmath.IsEven(amount) {
		return ErrUnevenAmount
	}
	return nil
}

// ValidateRelease checks that the vault holds enough of each payout asset.
func (al *AssetLedger) ValidateRelease(payouts map[ledger.AssetID]*big.Int) error {
	for assetID, amount := range payouts {
		if amount.Sign() == 0 {
			continue
		}
		if al.tracker.VaultCollateral(assetID).Cmp(amount) < 0 {
			return ErrInsufficientLiquidity
		}
	}
	return nil
}

// Balance returns the vault's holding of one collateral asset.
func (al *AssetLedger) Balance(assetID ledger.AssetID) *big.Int {
	return al.tracker.VaultCollateral(assetID)
}

// TotalCollateral sums vault holdings across all collateral assets.
func (al *AssetLedger) TotalCollateral() *big.Int {
	total := new(big.Int)
	for _, assetID := range ledger.CollateralAssets() {
		total.Add(total, al.tracker.VaultCollateral(assetID))
	}
	return total
}

// MinDeposit returns the configured deposit minimum.
func (al *AssetLedger) MinDeposit() *big.Int {
	return new(big.Int).Set(al.minDeposit)
}
