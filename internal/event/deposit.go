package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// AssetDeposited records a paired deposit: collateral in, equal senior and
// junior tranche tokens minted to the depositor.
type AssetDeposited struct {
	DepositID  uuid.UUID
	HolderID   uuid.UUID
	Asset      string
	Amount     *big.Int // base units
	TokensEach *big.Int // senior and junior minted, Amount/2 each
	Cycle      int64
	Timestamp  time.Time
}

func (d *AssetDeposited) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *AssetDeposited) EventType() EventType {
	return EventTypeAssetDeposited
}
