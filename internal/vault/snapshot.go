package vault

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"TrancheVault/internal/event"
	"TrancheVault/internal/ledger"
)

// SnapshotState captures the engine's full in-memory state for
// persistence. Recovery restores a snapshot and replays the event log
// tail past it.
type SnapshotState struct {
	Sequence  int64 // last applied sequence
	StateHash [32]byte
	Balances  map[ledger.AccountKey]*big.Int

	Phase      Phase
	PhaseStart time.Time
	CycleStart time.Time
	Cycle      int64

	EmergencyActive    bool
	EmergencyEnteredAt time.Time

	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return &SnapshotState{
		Sequence:           e.sequence - 1,
		StateHash:          e.hasher.GetPrevHash(),
		Balances:           e.tracker.Snapshot(),
		Phase:              e.clock.Phase(),
		PhaseStart:         e.clock.PhaseStart(),
		CycleStart:         e.clock.CycleStart(),
		Cycle:              e.clock.Cycle(),
		EmergencyActive:    e.emergency.Active(),
		EmergencyEnteredAt: e.emergency.EnteredAt(),
		IdempotencyKeys:    e.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot rebuilds in-memory state from a snapshot. Called
// once at startup before any operation runs.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		e.tracker.SetBalance(key, balance)
	}

	e.clock.Restore(snap.Phase, snap.PhaseStart, snap.CycleStart, snap.Cycle)
	if snap.EmergencyActive {
		e.emergency.Activate(snap.EmergencyEnteredAt)
	} else {
		e.emergency.Deactivate()
	}

	e.idempotency.WarmFromKeys(snap.IdempotencyKeys)
	e.updateStateGauges()
}

// WarmLRU loads recent idempotency keys after restart so redelivered
// commands dedup without hitting Postgres.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.WarmFromKeys(keys)
}

// ReplayEvent re-applies one logged event during recovery. Journals come
// from the journal table; clock and emergency state come from the decoded
// payload. The hash chain tip is taken from the stored envelope rather
// than recomputed.
func (e *Engine) ReplayEvent(env *event.EventEnvelope, journals []ledger.Journal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return fmt.Errorf("replay gap: have sequence %d, event is %d", e.sequence, env.Sequence)
	}

	for _, j := range journals {
		e.tracker.ApplyJournal(j)
	}

	switch env.EventType {
	case event.EventTypePhaseTransitioned:
		var p event.PhaseTransitioned
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode phase transition %d: %w", env.Sequence, err)
		}
		to, err := ParsePhase(p.ToPhase)
		if err != nil {
			return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
		}
		e.clock.Restore(to, p.Timestamp, e.clock.CycleStart(), p.Cycle)

	case event.EventTypeCycleStarted:
		var p event.CycleStarted
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode cycle start %d: %w", env.Sequence, err)
		}
		e.clock.Restore(PhaseDeposit, p.Timestamp, p.Timestamp, p.Cycle)
		e.emergency.Deactivate()

	case event.EventTypeEmergencyModeToggled:
		var p event.EmergencyModeToggled
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode emergency toggle %d: %w", env.Sequence, err)
		}
		if p.Active {
			e.emergency.Activate(p.Timestamp)
		} else {
			e.emergency.Deactivate()
		}
	}

	e.sequence = env.Sequence + 1
	e.hasher.SetPrevHash(env.StateHash)
	e.idempotency.MarkProcessed(commandNamespace, env.IdempotencyKey)

	if e.metrics != nil {
		e.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}
