package ingestion_test

import (
	"strings"
	"testing"
	"time"

	"TrancheVault/internal/fpmath"
	"TrancheVault/internal/ingestion"
)

var parseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func raw(json string) ingestion.RawCommand {
	return ingestion.RawCommand{Data: []byte(json), Timestamp: parseTime}
}

const (
	testCommandID = "11111111-2222-3333-4444-555555555555"
	testHolderID  = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
)

func TestParseDeposit(t *testing.T) {
	cmd, err := ingestion.ParseRawCommand(raw(`{
		"command_id": "`+testCommandID+`",
		"holder_id": "`+testHolderID+`",
		"asset": "sDAI",
		"amount": "100000000000000000000"
	}`), "Deposit")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cmd.Kind != ingestion.CommandDeposit {
		t.Errorf("kind: got %d, want CommandDeposit", cmd.Kind)
	}
	if cmd.Deposit == nil {
		t.Fatal("deposit payload not set")
	}
	if cmd.Deposit.CommandID.String() != testCommandID {
		t.Errorf("command_id: got %s", cmd.Deposit.CommandID)
	}
	if cmd.Deposit.Asset != "sDAI" {
		t.Errorf("asset: got %s", cmd.Deposit.Asset)
	}
	if cmd.Deposit.Amount.Cmp(fpmath.Units(100)) != 0 {
		t.Errorf("amount: got %s", cmd.Deposit.Amount)
	}
	if !cmd.Deposit.Now.Equal(parseTime) {
		t.Errorf("now: got %v, want the receive time", cmd.Deposit.Now)
	}
}

func TestParseWithdraw_OmittedAmountsDefaultToZero(t *testing.T) {
	cmd, err := ingestion.ParseRawCommand(raw(`{
		"command_id": "`+testCommandID+`",
		"holder_id": "`+testHolderID+`",
		"senior_amount": "30000000000000000000"
	}`), "Withdraw")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cmd.Withdraw.Senior.Cmp(fpmath.Units(30)) != 0 {
		t.Errorf("senior: got %s", cmd.Withdraw.Senior)
	}
	if cmd.Withdraw.Junior.Sign() != 0 {
		t.Errorf("junior should default to zero, got %s", cmd.Withdraw.Junior)
	}
	if cmd.Withdraw.PreferredAsset != "" {
		t.Errorf("preferred_asset should default to empty")
	}
}

func TestParseEmergencyWithdraw(t *testing.T) {
	cmd, err := ingestion.ParseRawCommand(raw(`{
		"command_id": "`+testCommandID+`",
		"holder_id": "`+testHolderID+`",
		"senior_amount": "10000000000000000000",
		"preferred_asset": "sUSDe"
	}`), "EmergencyWithdraw")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cmd.Kind != ingestion.CommandEmergencyWithdraw {
		t.Errorf("kind: got %d", cmd.Kind)
	}
	if cmd.EmergencyWithdraw.PreferredAsset != "sUSDe" {
		t.Errorf("preferred_asset: got %s", cmd.EmergencyWithdraw.PreferredAsset)
	}
}

func TestParseAdminCommands(t *testing.T) {
	body := `{
		"command_id": "` + testCommandID + `",
		"admin_id": "` + testHolderID + `"
	}`

	cases := []struct {
		commandType string
		kind        ingestion.CommandKind
	}{
		{"ToggleEmergency", ingestion.CommandToggleEmergency},
		{"ForcePhase", ingestion.CommandForcePhase},
		{"StartCycle", ingestion.CommandStartCycle},
	}
	for _, tc := range cases {
		cmd, err := ingestion.ParseRawCommand(raw(body), tc.commandType)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.commandType, err)
		}
		if cmd.Kind != tc.kind {
			t.Errorf("%s: got kind %d, want %d", tc.commandType, cmd.Kind, tc.kind)
		}
		if cmd.Admin == nil || cmd.Admin.AdminID.String() != testHolderID {
			t.Errorf("%s: admin payload not populated", tc.commandType)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		commandType string
		wantSubstr  string
	}{
		{"malformed json", `{`, "Deposit", "parse Deposit"},
		{"bad command id", `{"command_id": "nope", "holder_id": "` + testHolderID + `", "asset": "sDAI", "amount": "20"}`, "Deposit", "command_id"},
		{"bad holder id", `{"command_id": "` + testCommandID + `", "holder_id": "nope", "asset": "sDAI", "amount": "20"}`, "Deposit", "holder_id"},
		{"negative amount", `{"command_id": "` + testCommandID + `", "holder_id": "` + testHolderID + `", "asset": "sDAI", "amount": "-20"}`, "Deposit", "amount"},
		{"non-numeric amount", `{"command_id": "` + testCommandID + `", "holder_id": "` + testHolderID + `", "senior_amount": "abc"}`, "Withdraw", "senior_amount"},
		{"unknown type", `{}`, "Liquidate", "unknown command type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseRawCommand(raw(tc.body), tc.commandType)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSubstr) {
				t.Errorf("error %q does not mention %q", err, tc.wantSubstr)
			}
		})
	}
}

func TestCommandTypeForSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"vault.commands.deposit", "Deposit"},
		{"vault.commands.withdraw", "Withdraw"},
		{"vault.commands.withdraw_all", "WithdrawAll"},
		{"vault.commands.emergency_withdraw", "EmergencyWithdraw"},
		{"vault.commands.toggle_emergency", "ToggleEmergency"},
		{"vault.commands.force_phase", "ForcePhase"},
		{"vault.commands.start_cycle", "StartCycle"},
		{"vault.commands.liquidate", ""},
	}
	for _, tc := range cases {
		if got := ingestion.CommandTypeForSubject(tc.subject); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.subject, got, tc.want)
		}
	}
}
