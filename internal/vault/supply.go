package vault

import (
	"math/big"

	"github.com/google/uuid"

	"TrancheVault/internal/ledger"
)

// TokenSupplyTracker answers tranche token questions against the shared
// balance tracker: who holds what, and how much of each tranche exists.
type TokenSupplyTracker struct {
	tracker *ledger.BalanceTracker
}

func NewTokenSupplyTracker(tracker *ledger.BalanceTracker) *TokenSupplyTracker {
	return &TokenSupplyTracker{tracker: tracker}
}

// SeniorBalance returns a holder's senior tranche token balance.
func (ts *TokenSupplyTracker) SeniorBalance(holderID uuid.UUID) *big.Int {
	return ts.tracker.HolderSeniorBalance(holderID)
}

// JuniorBalance returns a holder's junior tranche token balance.
func (ts *TokenSupplyTracker) JuniorBalance(holderID uuid.UUID) *big.Int {
	return ts.tracker.HolderJuniorBalance(holderID)
}

// SeniorSupply returns total senior tranche tokens outstanding.
func (ts *TokenSupplyTracker) SeniorSupply() *big.Int {
	return ts.tracker.SeniorSupply()
}

// JuniorSupply returns total junior tranche tokens outstanding.
func (ts *TokenSupplyTracker) JuniorSupply() *big.Int {
	return ts.tracker.JuniorSupply()
}

// ValidateBurn checks the holder owns at least the tokens being burned.
func (ts *TokenSupplyTracker) ValidateBurn(holderID uuid.UUID, senior, junior *big.Int) error {
	if senior.Sign() > 0 && ts.SeniorBalance(holderID).Cmp(senior) < 0 {
		return ErrInsufficientBalance
	}
	if junior.Sign() > 0 && ts.JuniorBalance(holderID).Cmp(junior) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}
