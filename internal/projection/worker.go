package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"TrancheVault/internal/observability"
)

// ProjectionOutput mirrors the data projections need from one applied
// event. The orchestrator bridges between vault.Output and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	Payload        []byte
	JournalEntries []JournalEntry
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
// Amount is a decimal base-unit string.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string
	JournalType   int32
}

// ProjectionWorker updates projection tables from applied events. The
// projection channel is non-blocking with drop; if projections fall
// behind they are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue; projections are eventually consistent and can
				// be rebuilt from the event log
			}
			pw.lastSeq = output.Sequence

			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.EventType).Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionLastSeq.Set(float64(output.Sequence))
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if err := pw.updateVaultStateProjection(ctx, tx, output); err != nil {
		return fmt.Errorf("vault state projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection applies one journal with the same sign
// convention as the in-memory tracker: debit increases, credit decreases.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, sequence int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, sequence); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -($3::numeric), $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, sequence); err != nil {
		return err
	}

	return nil
}

// vaultStatePayload is the subset of phase and emergency payload fields
// the projection cares about.
type vaultStatePayload struct {
	ToPhase   string    `json:"ToPhase"`
	Active    bool      `json:"Active"`
	Cycle     int64     `json:"Cycle"`
	Timestamp time.Time `json:"Timestamp"`
}

// updateVaultStateProjection keeps the singleton vault_state row current
// for phase, cycle, and emergency changes.
func (pw *ProjectionWorker) updateVaultStateProjection(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	switch output.EventType {
	case "PhaseTransitioned", "CycleStarted", "EmergencyModeToggled":
	default:
		return nil
	}

	var p vaultStatePayload
	if err := json.Unmarshal(output.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", output.EventType, err)
	}

	switch output.EventType {
	case "PhaseTransitioned":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.vault_state
			SET phase = $1, phase_start_us = $2, cycle = $3, as_of_sequence = $4, updated_at = NOW()
			WHERE id = 1
		`, p.ToPhase, p.Timestamp.UnixMicro(), p.Cycle, output.Sequence)
		return err

	case "CycleStarted":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.vault_state
			SET phase = 'Deposit', phase_start_us = $1, cycle_start_us = $1, cycle = $2,
			    emergency_active = FALSE, as_of_sequence = $3, updated_at = NOW()
			WHERE id = 1
		`, p.Timestamp.UnixMicro(), p.Cycle, output.Sequence)
		return err

	default: // EmergencyModeToggled
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.vault_state
			SET emergency_active = $1, emergency_entered_at_us = $2, as_of_sequence = $3, updated_at = NOW()
			WHERE id = 1
		`, p.Active, p.Timestamp.UnixMicro(), output.Sequence)
		return err
	}
}

// RebuildProjections rebuilds balance projections from the event log.
// The vault_state row is refreshed by the next phase or emergency event;
// recovery re-seeds it from the engine directly.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits add, credits subtract, matching the in-memory tracker.
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}

// SeedVaultState writes the singleton vault_state row. Called at startup
// after recovery so queries see the current phase before the next event.
func SeedVaultState(ctx context.Context, db *sql.DB, phase string, phaseStartUs, cycleStartUs, cycle int64, emergencyActive bool, emergencyEnteredAtUs int64, asOfSequence int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.vault_state
			(id, phase, phase_start_us, cycle_start_us, cycle, emergency_active, emergency_entered_at_us, as_of_sequence, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			phase = $1, phase_start_us = $2, cycle_start_us = $3, cycle = $4,
			emergency_active = $5, emergency_entered_at_us = $6, as_of_sequence = $7, updated_at = NOW()
	`, phase, phaseStartUs, cycleStartUs, cycle, emergencyActive, emergencyEnteredAtUs, asOfSequence)
	return err
}
