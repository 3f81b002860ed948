package vault

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"TrancheVault/internal/fpmath"
	"TrancheVault/internal/ledger"
)

// WithdrawalRequest is the transient input to the withdrawal engine.
// PreferredAsset is only honored while emergency mode is active; in normal
// phases settlement is always proportional.
type WithdrawalRequest struct {
	Senior         *big.Int
	Junior         *big.Int
	PreferredAsset string
}

// Payout is one collateral leg of a settlement, in collateral asset order.
type Payout struct {
	AssetID ledger.AssetID
	Amount  *big.Int
}

// Settlement describes a validated withdrawal before it is applied.
type Settlement struct {
	SeniorBurned *big.Int
	JuniorBurned *big.Int
	Payouts      []Payout
	EmergencyDay int // 0 when settled under normal phase rules
	Batch        *ledger.Batch
}

// WithdrawalEngine burns tranche tokens and releases collateral under
// phase-dependent and emergency-dependent rules. Every successful request
// settles in full or fails with no mutation; there are no partial fills.
type WithdrawalEngine struct {
	assets    *AssetLedger
	supply    *TokenSupplyTracker
	clock     *PhaseClock
	emergency *EmergencyState
}

func NewWithdrawalEngine(assets *AssetLedger, supply *TokenSupplyTracker, clock *PhaseClock, emergency *EmergencyState) *WithdrawalEngine {
	return &WithdrawalEngine{
		assets:    assets,
		supply:    supply,
		clock:     clock,
		emergency: emergency,
	}
}

// PrepareWithdrawal validates a request against the active policy and
// builds the burn-and-payout journal batch.
//
// Policy precedence: emergency day one (senior only), emergency day two
// (all holders, senior settles first), Claims phase (senior only),
// FinalClaims (all holders), Deposit/Coverage (equal amounts required).
func (we *WithdrawalEngine) PrepareWithdrawal(withdrawalID, holderID uuid.UUID, req WithdrawalRequest, sequence int64, now time.Time) (*Settlement, error) {
	senior := normalize(req.Senior)
	junior := normalize(req.Junior)
	if senior.Sign() == 0 && junior.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if senior.Sign() < 0 || junior.Sign() < 0 {
		return nil, ErrZeroAmount
	}

	day := we.emergency.Day(now)
	switch {
	case day == 1:
		if junior.Sign() > 0 {
			return nil, ErrJuniorBlocked
		}
	case day == 2:
		// all holders may withdraw
	case we.clock.Phase() == PhaseClaims:
		if junior.Sign() > 0 {
			return nil, ErrWrongPhase
		}
	case we.clock.Phase() == PhaseFinalClaims:
		// all holders may withdraw
	default:
		// Deposit and Coverage require balanced redemption so normal-time
		// withdrawals cannot cash out only the protected tranche.
		if senior.Cmp(junior) != 0 {
			return nil, ErrUnequalWithdrawal
		}
	}

	if err := we.supply.ValidateBurn(holderID, senior, junior); err != nil {
		return nil, err
	}

	var payouts []Payout
	var err error
	if day > 0 && req.PreferredAsset != "" {
		payouts, err = we.settlePreferred(req.PreferredAsset, senior, junior)
	} else {
		payouts, err = we.settleProportional(senior, junior)
	}
	if err != nil {
		return nil, err
	}
	if err := we.assets.ValidateRelease(releaseByAsset(payouts)); err != nil {
		return nil, err
	}

	batch := we.buildBatch(withdrawalID, holderID, senior, junior, payouts, sequence, now)
	return &Settlement{
		SeniorBurned: senior,
		JuniorBurned: junior,
		Payouts:      payouts,
		EmergencyDay: day,
		Batch:        batch,
	}, nil
}

// PrepareWithdrawAll settles the holder's entire senior and junior balance
// through the same policy dispatch.
func (we *WithdrawalEngine) PrepareWithdrawAll(withdrawalID, holderID uuid.UUID, preferredAsset string, sequence int64, now time.Time) (*Settlement, error) {
	req := WithdrawalRequest{
		Senior:         we.supply.SeniorBalance(holderID),
		Junior:         we.supply.JuniorBalance(holderID),
		PreferredAsset: preferredAsset,
	}
	// Emergency day one takes the senior balance only rather than failing
	// on a junior balance the holder cannot touch yet.
	if we.emergency.Day(now) == 1 {
		req.Junior = new(big.Int)
	}
	return we.PrepareWithdrawal(withdrawalID, holderID, req, sequence, now)
}

// settlePreferred pays the full requested value from a single asset.
// Emergency-only. ValidateRelease fails the whole request when the asset
// cannot cover it rather than partially filling from other assets.
func (we *WithdrawalEngine) settlePreferred(asset string, senior, junior *big.Int) ([]Payout, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok || !ledger.IsCollateral(assetID) {
		return nil, ErrUnsupportedAsset
	}
	value := new(big.Int).Add(senior, junior)
	return []Payout{{AssetID: assetID, Amount: value}}, nil
}

// releaseByAsset collapses payouts into the per-asset form ValidateRelease
// checks against vault holdings.
func releaseByAsset(payouts []Payout) map[ledger.AssetID]*big.Int {
	release := make(map[ledger.AssetID]*big.Int, len(payouts))
	for _, p := range payouts {
		release[p.AssetID] = p.Amount
	}
	return release
}

// settleProportional splits the requested value across both collateral
// assets by their share of total holdings. Senior value settles before
// junior value against the running balances, so the ordering is observable
// when flooring leaves dust.
func (we *WithdrawalEngine) settleProportional(senior, junior *big.Int) ([]Payout, error) {
	collateral := ledger.CollateralAssets()
	balances := make([]*big.Int, len(collateral))
	for i, assetID := range collateral {
		balances[i] = we.assets.Balance(assetID)
	}
	total := we.assets.TotalCollateral()

	value := new(big.Int).Add(senior, junior)
	if value.Cmp(total) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	sums := make([]*big.Int, len(collateral))
	for i := range sums {
		sums[i] = new(big.Int)
	}
	for _, tranche := range []*big.Int{senior, junior} {
		if tranche.Sign() == 0 {
			continue
		}
		shares := make([]*big.Int, len(collateral))
		for i := range collateral {
			share := fpmath.ProportionalShare(tranche, balances[i], total)
			if share.Cmp(balances[i]) > 0 {
				share.Set(balances[i])
			}
			shares[i] = share
		}
		for i := range collateral {
			sums[i].Add(sums[i], shares[i])
			balances[i].Sub(balances[i], shares[i])
			total.Sub(total, shares[i])
		}
	}

	payouts := make([]Payout, 0, len(collateral))
	for i, assetID := range collateral {
		payouts = append(payouts, Payout{AssetID: assetID, Amount: sums[i]})
	}
	return payouts, nil
}

func (we *WithdrawalEngine) buildBatch(withdrawalID, holderID uuid.UUID, senior, junior *big.Int, payouts []Payout, sequence int64, now time.Time) *ledger.Batch {
	batchID := uuid.New()
	ts := now.UnixMicro()
	eventRef := withdrawalID.String()

	journals := make([]ledger.Journal, 0, 4)
	if senior.Sign() > 0 {
		journals = append(journals, ledger.Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      sequence,
			DebitAccount:  ledger.NewVaultAccountKey(ledger.SubTypeSeniorIssuance, ledger.AssetSRT),
			CreditAccount: ledger.NewHolderAccountKey(holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT),
			AssetID:       ledger.AssetSRT,
			Amount:        new(big.Int).Set(senior),
			JournalType:   ledger.JournalTypeSeniorBurn,
			Timestamp:     ts,
		})
	}
	if junior.Sign() > 0 {
		journals = append(journals, ledger.Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      sequence,
			DebitAccount:  ledger.NewVaultAccountKey(ledger.SubTypeJuniorIssuance, ledger.AssetJRT),
			CreditAccount: ledger.NewHolderAccountKey(holderID, ledger.SubTypeJuniorToken, ledger.AssetJRT),
			AssetID:       ledger.AssetJRT,
			Amount:        new(big.Int).Set(junior),
			JournalType:   ledger.JournalTypeJuniorBurn,
			Timestamp:     ts,
		})
	}
	for _, p := range payouts {
		if p.Amount.Sign() == 0 {
			continue
		}
		journals = append(journals, ledger.Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      sequence,
			DebitAccount:  ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, p.AssetID),
			CreditAccount: ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, p.AssetID),
			AssetID:       p.AssetID,
			Amount:        new(big.Int).Set(p.Amount),
			JournalType:   ledger.JournalTypeCollateralOut,
			Timestamp:     ts,
		})
	}

	return &ledger.Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: ts,
		Journals:  journals,
	}
}

// CalculateWithdrawalAmounts simulates a proportional settlement with no
// phase checks and no mutation.
func (we *WithdrawalEngine) CalculateWithdrawalAmounts(senior, junior *big.Int) ([]Payout, error) {
	return we.settleProportional(normalize(senior), normalize(junior))
}

func normalize(a *big.Int) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a)
}
