package vault

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"TrancheVault/internal/fpmath"
	"TrancheVault/internal/ledger"
)

// DepositEngine converts incoming collateral into paired tranche token
// issuance. All state changes are expressed as journal batches; the engine
// facade applies them after validation.
type DepositEngine struct {
	assets *AssetLedger
	clock  *PhaseClock
}

func NewDepositEngine(assets *AssetLedger, clock *PhaseClock) *DepositEngine {
	return &DepositEngine{assets: assets, clock: clock}
}

// DepositResult describes a successful deposit before it is applied.
type DepositResult struct {
	AssetID    ledger.AssetID
	Amount     *big.Int
	TokensEach *big.Int
	Batch      *ledger.Batch
}

// PrepareDeposit validates a deposit and builds its journal batch:
// collateral into the vault, then equal senior and junior mints to the
// holder. Deposits are only accepted during the Deposit phase.
func (de *DepositEngine) PrepareDeposit(depositID, holderID uuid.UUID, asset string, amount *big.Int, sequence int64, now time.Time) (*DepositResult, error) {
	if de.clock.Phase() != PhaseDeposit {
		return nil, ErrWrongPhase
	}
	if err := de.assets.ValidateDeposit(asset, amount); err != nil {
		return nil, err
	}

	assetID, _ := ledger.GetAssetID(asset)
	tokensEach := fpmath.Half(amount)
	batchID := uuid.New()
	ts := now.UnixMicro()
	eventRef := depositID.String()

	batch := &ledger.Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: ts,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      eventRef,
				Sequence:      sequence,
				DebitAccount:  ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        new(big.Int).Set(amount),
				JournalType:   ledger.JournalTypeCollateralIn,
				Timestamp:     ts,
			},
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      eventRef,
				Sequence:      sequence,
				DebitAccount:  ledger.NewHolderAccountKey(holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT),
				CreditAccount: ledger.NewVaultAccountKey(ledger.SubTypeSeniorIssuance, ledger.AssetSRT),
				AssetID:       ledger.AssetSRT,
				Amount:        new(big.Int).Set(tokensEach),
				JournalType:   ledger.JournalTypeSeniorMint,
				Timestamp:     ts,
			},
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      eventRef,
				Sequence:      sequence,
				DebitAccount:  ledger.NewHolderAccountKey(holderID, ledger.SubTypeJuniorToken, ledger.AssetJRT),
				CreditAccount: ledger.NewVaultAccountKey(ledger.SubTypeJuniorIssuance, ledger.AssetJRT),
				AssetID:       ledger.AssetJRT,
				Amount:        new(big.Int).Set(tokensEach),
				JournalType:   ledger.JournalTypeJuniorMint,
				Timestamp:     ts,
			},
		},
	}

	return &DepositResult{
		AssetID:    assetID,
		Amount:     new(big.Int).Set(amount),
		TokensEach: tokensEach,
		Batch:      batch,
	}, nil
}
