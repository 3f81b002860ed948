package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"TrancheVault/internal/ledger"
)

// QueryService provides read-only access to projection tables. Queries are
// served from PostgreSQL rather than the in-memory engine so they never
// contend with the single writer. All responses include as_of_sequence for
// freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetHolderBalances returns a holder's senior and junior token balances.
func (qs *QueryService) GetHolderBalances(
	ctx context.Context,
	holderID uuid.UUID,
) (*HolderBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	seniorKey := ledger.NewHolderAccountKey(holderID, ledger.SubTypeSeniorToken, ledger.AssetSRT)
	senior, err := qs.getProjectedBalance(ctx, seniorKey.AccountPath(), ledger.AssetSRT)
	if err != nil {
		return nil, err
	}

	juniorKey := ledger.NewHolderAccountKey(holderID, ledger.SubTypeJuniorToken, ledger.AssetJRT)
	junior, err := qs.getProjectedBalance(ctx, juniorKey.AccountPath(), ledger.AssetJRT)
	if err != nil {
		return nil, err
	}

	return &HolderBalanceResponse{
		HolderID:      holderID,
		SeniorBalance: senior,
		JuniorBalance: junior,
		AsOfSequence:  asOfSeq,
	}, nil
}

// GetVaultBalance returns the vault's collateral per asset plus outstanding
// token supply. Issuance accounts accumulate credits, so supply is the
// negated issuance balance.
func (qs *QueryService) GetVaultBalance(ctx context.Context) (*VaultBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &VaultBalanceResponse{
		Collateral:   make(map[string]string),
		AsOfSequence: asOfSeq,
	}

	total := "0"
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0)::text
		FROM projections.balances
		WHERE account_path LIKE 'vault:collateral:%'
	`).Scan(&total)
	if err != nil {
		return nil, err
	}
	resp.TotalCollateral = total

	for _, assetID := range ledger.CollateralAssets() {
		name, _ := ledger.GetAssetName(assetID)
		key := ledger.NewVaultAccountKey(ledger.SubTypeVaultCollateral, assetID)
		bal, err := qs.getProjectedBalance(ctx, key.AccountPath(), assetID)
		if err != nil {
			return nil, err
		}
		resp.Collateral[name] = bal
	}

	seniorKey := ledger.NewVaultAccountKey(ledger.SubTypeSeniorIssuance, ledger.AssetSRT)
	resp.SeniorSupply, err = qs.getNegatedBalance(ctx, seniorKey.AccountPath(), ledger.AssetSRT)
	if err != nil {
		return nil, err
	}

	juniorKey := ledger.NewVaultAccountKey(ledger.SubTypeJuniorIssuance, ledger.AssetJRT)
	resp.JuniorSupply, err = qs.getNegatedBalance(ctx, juniorKey.AccountPath(), ledger.AssetJRT)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// GetProtocolState returns the projected phase clock and emergency flag.
// Returns nil if the state row has not been seeded yet.
func (qs *QueryService) GetProtocolState(ctx context.Context) (*ProtocolStateResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp ProtocolStateResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT phase, cycle, phase_start_us, cycle_start_us,
		       emergency_active, emergency_entered_at_us
		FROM projections.vault_state
		WHERE id = 1
	`).Scan(
		&resp.Phase, &resp.Cycle, &resp.PhaseStartUs, &resp.CycleStartUs,
		&resp.EmergencyActive, &resp.EmergencyEnteredAtUs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetJournalHistory returns journal entries touching a holder's accounts,
// newest first, with cursor-based pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holderID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("holder:%s:%%", holderID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and the
// zero-sum invariant across projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Every debit has a matching credit, so per-asset sums must be zero.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::text AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total string
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(
	ctx context.Context,
	accountPath string,
	assetID ledger.AssetID,
) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, accountPath, uint16(assetID)).Scan(&balance)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	return balance, err
}

func (qs *QueryService) getNegatedBalance(
	ctx context.Context,
	accountPath string,
	assetID ledger.AssetID,
) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT (-balance)::text FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, accountPath, uint16(assetID)).Scan(&balance)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	return balance, err
}
