package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"TrancheVault/internal/fpmath"
	"TrancheVault/internal/persistence"
	"TrancheVault/internal/projection"
	"TrancheVault/internal/query"
	"TrancheVault/internal/testutil"
	"TrancheVault/internal/vault"
)

// newTestServer builds a server around a fresh engine. The db is nil for
// tests that never touch the query service.
func newTestServer(db *sql.DB) *GRPCServer {
	outputs := make(chan vault.Output, 64)
	engine := vault.NewEngine(vault.Config{
		GenesisTime: time.Now(),
		Authorizer:  vault.NewStaticAuthorizer(nil),
	}, outputs, nil, nil, nil)

	deps := &ServerDeps{Engine: engine, StartTime: time.Now()}
	if db != nil {
		deps.DB = db
		deps.QueryService = query.NewQueryService(db)
	}
	return NewGRPCServer(":0", ":0", deps)
}

func TestHandleCommand_RejectsOversizedBody(t *testing.T) {
	s := newTestServer(nil)

	body := bytes.Repeat([]byte("a"), 1<<20+1)
	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.handleCommand("Deposit")(rr, req, nil)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleCommand_MalformedBody(t *testing.T) {
	s := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	s.handleCommand("Deposit")(rr, req, nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleCommand_DepositRoundTrip(t *testing.T) {
	s := newTestServer(nil)

	body := fmt.Sprintf(`{"command_id":%q,"holder_id":%q,"asset":"sDAI","amount":%q}`,
		uuid.New(), uuid.New(), fpmath.Units(100).String())
	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", bytes.NewReader([]byte(body)))
	rr := httptest.NewRecorder()
	s.handleCommand("Deposit")(rr, req, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got := resp["tokens_each"]; got != fpmath.Units(50).String() {
		t.Errorf("tokens_each: got %v, want %s", got, fpmath.Units(50))
	}
}

func TestHandlePhase_IncludesClockStarts(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cycleStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	phaseStart := cycleStart.Add(48 * time.Hour)
	if err := projection.SeedVaultState(ctx, db, "Coverage",
		phaseStart.UnixMicro(), cycleStart.UnixMicro(), 3, false, 0, 7); err != nil {
		t.Fatalf("seed vault state: %v", err)
	}

	s := newTestServer(db)
	req := httptest.NewRequest(http.MethodGet, "/v1/phase", nil)
	rr := httptest.NewRecorder()
	s.handlePhase(rr, req, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// Live clock: the engine was just constructed, so Deposit with the
	// full window ahead.
	if got := resp["phase"]; got != "Deposit" {
		t.Errorf("phase: got %v, want Deposit", got)
	}
	if _, ok := resp["phase_start"]; !ok {
		t.Error("phase_start missing")
	}
	if got, ok := resp["time_remaining_secs"].(float64); !ok || got <= 0 {
		t.Errorf("time_remaining_secs: got %v, want > 0", resp["time_remaining_secs"])
	}

	// Projected clock from the vault_state row.
	if got := resp["cycle"]; got != float64(3) {
		t.Errorf("cycle: got %v, want 3", got)
	}
	if got := resp["cycle_start"]; got != "2025-06-01T00:00:00Z" {
		t.Errorf("cycle_start: got %v, want 2025-06-01T00:00:00Z", got)
	}
	if got := resp["projected_phase"]; got != "Coverage" {
		t.Errorf("projected_phase: got %v, want Coverage", got)
	}
	if got := resp["projected_phase_start"]; got != "2025-06-03T00:00:00Z" {
		t.Errorf("projected_phase_start: got %v, want 2025-06-03T00:00:00Z", got)
	}
}
