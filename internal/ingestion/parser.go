package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"TrancheVault/internal/fpmath"
	"TrancheVault/internal/vault"
)

// CommandKind discriminates the tagged command variant. Commands are
// dispatched explicitly on this tag, never inferred at runtime.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandDeposit
	CommandWithdraw
	CommandWithdrawAll
	CommandEmergencyWithdraw
	CommandToggleEmergency
	CommandForcePhase
	CommandStartCycle
)

// Command is the tagged variant handed to the engine loop. Exactly one
// payload field is set, matching Kind.
type Command struct {
	Kind CommandKind

	Deposit           *vault.DepositCommand
	Withdraw          *vault.WithdrawCommand
	WithdrawAll       *vault.WithdrawAllCommand
	EmergencyWithdraw *vault.EmergencyWithdrawCommand
	Admin             *vault.AdminCommand
}

// CommandTypeForSubject maps a NATS subject to its command type string.
func CommandTypeForSubject(subject string) string {
	switch {
	case strings.HasSuffix(subject, ".deposit"):
		return "Deposit"
	case strings.HasSuffix(subject, ".withdraw"):
		return "Withdraw"
	case strings.HasSuffix(subject, ".withdraw_all"):
		return "WithdrawAll"
	case strings.HasSuffix(subject, ".emergency_withdraw"):
		return "EmergencyWithdraw"
	case strings.HasSuffix(subject, ".toggle_emergency"):
		return "ToggleEmergency"
	case strings.HasSuffix(subject, ".force_phase"):
		return "ForcePhase"
	case strings.HasSuffix(subject, ".start_cycle"):
		return "StartCycle"
	default:
		return ""
	}
}

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed Command. The observed receive time becomes the command's
// single time input; the engine never reads a clock itself.
func ParseRawCommand(raw RawCommand, commandType string) (Command, error) {
	switch commandType {
	case "Deposit":
		return parseDeposit(raw.Data, raw.Timestamp)
	case "Withdraw":
		return parseWithdraw(raw.Data, raw.Timestamp)
	case "WithdrawAll":
		return parseWithdrawAll(raw.Data, raw.Timestamp)
	case "EmergencyWithdraw":
		return parseEmergencyWithdraw(raw.Data, raw.Timestamp)
	case "ToggleEmergency":
		return parseAdmin(raw.Data, raw.Timestamp, CommandToggleEmergency)
	case "ForcePhase":
		return parseAdmin(raw.Data, raw.Timestamp, CommandForcePhase)
	case "StartCycle":
		return parseAdmin(raw.Data, raw.Timestamp, CommandStartCycle)
	default:
		return Command{}, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// decimal strings of 18-decimal base units.

type depositJSON struct {
	CommandID string `json:"command_id"`
	HolderID  string `json:"holder_id"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

func parseDeposit(data []byte, now time.Time) (Command, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("parse Deposit: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return Command{}, fmt.Errorf("parse command_id: %w", err)
	}
	holderID, err := uuid.Parse(j.HolderID)
	if err != nil {
		return Command{}, fmt.Errorf("parse holder_id: %w", err)
	}
	amount, err := fpmath.ParseAmount(j.Amount)
	if err != nil {
		return Command{}, fmt.Errorf("parse amount: %w", err)
	}

	return Command{
		Kind: CommandDeposit,
		Deposit: &vault.DepositCommand{
			CommandID: commandID,
			HolderID:  holderID,
			Asset:     j.Asset,
			Amount:    amount,
			Now:       now,
		},
	}, nil
}

type withdrawJSON struct {
	CommandID      string `json:"command_id"`
	HolderID       string `json:"holder_id"`
	SeniorAmount   string `json:"senior_amount"`
	JuniorAmount   string `json:"junior_amount"`
	PreferredAsset string `json:"preferred_asset,omitempty"`
}

func parseWithdraw(data []byte, now time.Time) (Command, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("parse Withdraw: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return Command{}, fmt.Errorf("parse command_id: %w", err)
	}
	holderID, err := uuid.Parse(j.HolderID)
	if err != nil {
		return Command{}, fmt.Errorf("parse holder_id: %w", err)
	}
	senior, err := fpmath.ParseAmount(orZero(j.SeniorAmount))
	if err != nil {
		return Command{}, fmt.Errorf("parse senior_amount: %w", err)
	}
	junior, err := fpmath.ParseAmount(orZero(j.JuniorAmount))
	if err != nil {
		return Command{}, fmt.Errorf("parse junior_amount: %w", err)
	}

	return Command{
		Kind: CommandWithdraw,
		Withdraw: &vault.WithdrawCommand{
			CommandID:      commandID,
			HolderID:       holderID,
			Senior:         senior,
			Junior:         junior,
			PreferredAsset: j.PreferredAsset,
			Now:            now,
		},
	}, nil
}

type withdrawAllJSON struct {
	CommandID      string `json:"command_id"`
	HolderID       string `json:"holder_id"`
	PreferredAsset string `json:"preferred_asset,omitempty"`
}

func parseWithdrawAll(data []byte, now time.Time) (Command, error) {
	var j withdrawAllJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("parse WithdrawAll: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return Command{}, fmt.Errorf("parse command_id: %w", err)
	}
	holderID, err := uuid.Parse(j.HolderID)
	if err != nil {
		return Command{}, fmt.Errorf("parse holder_id: %w", err)
	}

	return Command{
		Kind: CommandWithdrawAll,
		WithdrawAll: &vault.WithdrawAllCommand{
			CommandID:      commandID,
			HolderID:       holderID,
			PreferredAsset: j.PreferredAsset,
			Now:            now,
		},
	}, nil
}

type emergencyWithdrawJSON struct {
	CommandID      string `json:"command_id"`
	HolderID       string `json:"holder_id"`
	SeniorAmount   string `json:"senior_amount"`
	PreferredAsset string `json:"preferred_asset,omitempty"`
}

func parseEmergencyWithdraw(data []byte, now time.Time) (Command, error) {
	var j emergencyWithdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("parse EmergencyWithdraw: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return Command{}, fmt.Errorf("parse command_id: %w", err)
	}
	holderID, err := uuid.Parse(j.HolderID)
	if err != nil {
		return Command{}, fmt.Errorf("parse holder_id: %w", err)
	}
	senior, err := fpmath.ParseAmount(orZero(j.SeniorAmount))
	if err != nil {
		return Command{}, fmt.Errorf("parse senior_amount: %w", err)
	}

	return Command{
		Kind: CommandEmergencyWithdraw,
		EmergencyWithdraw: &vault.EmergencyWithdrawCommand{
			CommandID:      commandID,
			HolderID:       holderID,
			Senior:         senior,
			PreferredAsset: j.PreferredAsset,
			Now:            now,
		},
	}, nil
}

type adminJSON struct {
	CommandID string `json:"command_id"`
	AdminID   string `json:"admin_id"`
}

func parseAdmin(data []byte, now time.Time, kind CommandKind) (Command, error) {
	var j adminJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("parse admin command: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return Command{}, fmt.Errorf("parse command_id: %w", err)
	}
	adminID, err := uuid.Parse(j.AdminID)
	if err != nil {
		return Command{}, fmt.Errorf("parse admin_id: %w", err)
	}

	return Command{
		Kind: kind,
		Admin: &vault.AdminCommand{
			CommandID: commandID,
			AdminID:   adminID,
			Now:       now,
		},
	}, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
