package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// AssetPayout is one collateral leg of a settlement.
type AssetPayout struct {
	Asset  string
	Amount *big.Int // base units
}

// TokensWithdrawn records a normal-phase withdrawal: tranche tokens burned,
// collateral paid out pro rata across the vault's holdings.
type TokensWithdrawn struct {
	WithdrawalID uuid.UUID
	HolderID     uuid.UUID
	SeniorBurned *big.Int
	JuniorBurned *big.Int
	Payouts      []AssetPayout
	Cycle        int64
	Timestamp    time.Time
}

func (w *TokensWithdrawn) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *TokensWithdrawn) EventType() EventType {
	return EventTypeTokensWithdrawn
}

// EmergencyWithdrawal records a withdrawal settled under emergency rules,
// where a preferred collateral asset is honored and junior redemptions are
// blocked on day one.
type EmergencyWithdrawal struct {
	WithdrawalID   uuid.UUID
	HolderID       uuid.UUID
	SeniorBurned   *big.Int
	JuniorBurned   *big.Int
	PreferredAsset string
	Payouts        []AssetPayout
	EmergencyDay   int
	Cycle          int64
	Timestamp      time.Time
}

func (w *EmergencyWithdrawal) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *EmergencyWithdrawal) EventType() EventType {
	return EventTypeEmergencyWithdrawal
}
