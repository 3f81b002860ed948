package query

import "github.com/google/uuid"

// HolderBalanceResponse represents a holder's tranche token balances for API
// queries. Amounts are decimal strings in 18-decimal base units.
type HolderBalanceResponse struct {
	HolderID      uuid.UUID `json:"holder_id"`
	SeniorBalance string    `json:"senior_balance"`
	JuniorBalance string    `json:"junior_balance"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// VaultBalanceResponse represents the vault's collateral holdings and
// outstanding token supply.
type VaultBalanceResponse struct {
	Collateral      map[string]string `json:"collateral"`
	TotalCollateral string            `json:"total_collateral"`
	SeniorSupply    string            `json:"senior_supply"`
	JuniorSupply    string            `json:"junior_supply"`
	AsOfSequence    int64             `json:"as_of_sequence"`
}

// ProtocolStateResponse represents the projected phase clock and emergency
// flag, as of the last event the projection worker applied.
type ProtocolStateResponse struct {
	Phase                string `json:"phase"`
	Cycle                int64  `json:"cycle"`
	PhaseStartUs         int64  `json:"phase_start_us"`
	CycleStartUs         int64  `json:"cycle_start_us"`
	EmergencyActive      bool   `json:"emergency_active"`
	EmergencyEnteredAtUs int64  `json:"emergency_entered_at_us,omitempty"`
	AsOfSequence         int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
