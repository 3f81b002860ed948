package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances.
// Not thread-safe; callers serialize access (the engine holds its own lock).
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) adjust(key AccountKey, delta *big.Int) {
	cur, ok := bt.balances[key]
	if !ok {
		cur = new(big.Int)
		bt.balances[key] = cur
	}
	cur.Add(cur, delta)
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.adjust(j.DebitAccount, j.Amount)
	bt.adjust(j.CreditAccount, new(big.Int).Neg(j.Amount))
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account.
// Callers may mutate the returned value freely.
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if cur, ok := bt.balances[key]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

// SetBalance overwrites an account balance (snapshot restore only).
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// === Domain queries ===

// VaultCollateral returns the vault's collateral balance for an asset.
func (bt *BalanceTracker) VaultCollateral(assetID AssetID) *big.Int {
	return bt.GetBalance(NewVaultAccountKey(SubTypeVaultCollateral, assetID))
}

// HolderSeniorBalance returns a holder's senior token balance.
func (bt *BalanceTracker) HolderSeniorBalance(holderID uuid.UUID) *big.Int {
	return bt.GetBalance(NewHolderAccountKey(holderID, SubTypeSeniorToken, AssetSRT))
}

// HolderJuniorBalance returns a holder's junior token balance.
func (bt *BalanceTracker) HolderJuniorBalance(holderID uuid.UUID) *big.Int {
	return bt.GetBalance(NewHolderAccountKey(holderID, SubTypeJuniorToken, AssetJRT))
}

// SeniorSupply returns total issued senior tokens. Mints debit holder
// accounts and credit the issuance account, so supply is the negated
// issuance balance.
func (bt *BalanceTracker) SeniorSupply() *big.Int {
	supply := bt.GetBalance(NewVaultAccountKey(SubTypeSeniorIssuance, AssetSRT))
	return supply.Neg(supply)
}

// JuniorSupply returns total issued junior tokens.
func (bt *BalanceTracker) JuniorSupply() *big.Int {
	supply := bt.GetBalance(NewVaultAccountKey(SubTypeJuniorIssuance, AssetJRT))
	return supply.Neg(supply)
}

// SumHolderBalances sums all holder accounts for a given token sub-type.
// Used by the invariant validator to confirm supply consistency.
func (bt *BalanceTracker) SumHolderBalances(subType AccountSubType, assetID AssetID) *big.Int {
	sum := new(big.Int)
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeHolder && key.SubType == subType && key.AssetID == assetID {
			sum.Add(sum, balance)
		}
	}
	return sum
}

// === Invariant Checks ===

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if cur, ok := bt.balances[key]; ok && cur.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), cur.String())
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (zero for a
// zero-sum ledger).
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		total, ok := totals[key.AssetID]
		if !ok {
			total = new(big.Int)
			totals[key.AssetID] = total
		}
		total.Add(total, balance)
	}

	return totals
}

// Snapshot returns a deep copy of all balances (for state hashing and
// snapshot persistence).
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
