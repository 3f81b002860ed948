package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"TrancheVault/internal/fpmath"
	"TrancheVault/internal/ingestion"
	"TrancheVault/internal/ledger"
	"TrancheVault/internal/observability"
	"TrancheVault/internal/projection"
	"TrancheVault/internal/query"
	"TrancheVault/internal/vault"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON mux. The gRPC side
// carries health and reflection; command and query traffic is served as
// HTTP/JSON on the gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	deps          *ServerDeps
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the API handlers.
type ServerDeps struct {
	DB            *sql.DB
	Engine        *vault.Engine
	QueryService  *query.QueryService
	SnapshotFunc  func(ctx context.Context) (int64, error)
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewGRPCServer creates a new gRPC server with health and reflection
// registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		deps:          deps,
		healthChecker: deps.HealthChecker,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON API (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux := runtime.NewServeMux()

	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP API listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *GRPCServer) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"POST", "/v1/deposit", s.handleCommand("Deposit")},
		{"POST", "/v1/withdraw", s.handleCommand("Withdraw")},
		{"POST", "/v1/withdraw-all", s.handleCommand("WithdrawAll")},
		{"POST", "/v1/emergency-withdraw", s.handleCommand("EmergencyWithdraw")},
		{"POST", "/v1/admin/toggle-emergency", s.handleCommand("ToggleEmergency")},
		{"POST", "/v1/admin/force-phase", s.handleCommand("ForcePhase")},
		{"POST", "/v1/admin/start-cycle", s.handleCommand("StartCycle")},

		{"GET", "/v1/status", s.handleStatus},
		{"GET", "/v1/phase", s.handlePhase},
		{"GET", "/v1/balances/{holder_id}", s.handleBalances},
		{"GET", "/v1/journal/{holder_id}", s.handleJournal},
		{"GET", "/v1/vault", s.handleVault},
		{"GET", "/v1/simulate-withdrawal", s.handleSimulate},

		{"POST", "/v1/admin/snapshot", s.handleSnapshot},
		{"POST", "/v1/admin/rebuild-projections", s.handleRebuild},
		{"GET", "/v1/admin/verify-integrity", s.handleVerifyIntegrity},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("%s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// ============================================================================
// Command handlers
// ============================================================================

// handleCommand parses the JSON body with the same parser the NATS consumer
// uses and applies the command synchronously. The receive time becomes the
// command's single time input.
func (s *GRPCServer) handleCommand(commandType string) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
			return
		}

		raw := ingestion.RawCommand{Data: body, Timestamp: time.Now()}
		cmd, err := ingestion.ParseRawCommand(raw, commandType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		resp, err := s.dispatch(cmd)
		if err != nil {
			writeRejection(w, err)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *GRPCServer) dispatch(cmd ingestion.Command) (interface{}, error) {
	switch cmd.Kind {
	case ingestion.CommandDeposit:
		receipt, err := s.deps.Engine.Deposit(*cmd.Deposit)
		if err != nil {
			return nil, err
		}
		return depositResponse(receipt), nil

	case ingestion.CommandWithdraw:
		receipt, err := s.deps.Engine.Withdraw(*cmd.Withdraw)
		if err != nil {
			return nil, err
		}
		return withdrawalResponse(receipt), nil

	case ingestion.CommandWithdrawAll:
		receipt, err := s.deps.Engine.WithdrawAll(*cmd.WithdrawAll)
		if err != nil {
			return nil, err
		}
		return withdrawalResponse(receipt), nil

	case ingestion.CommandEmergencyWithdraw:
		receipt, err := s.deps.Engine.EmergencyWithdraw(*cmd.EmergencyWithdraw)
		if err != nil {
			return nil, err
		}
		return withdrawalResponse(receipt), nil

	case ingestion.CommandToggleEmergency:
		receipt, err := s.deps.Engine.ToggleEmergencyMode(*cmd.Admin)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"sequence": receipt.Sequence,
			"active":   receipt.Active,
		}, nil

	case ingestion.CommandForcePhase:
		receipt, err := s.deps.Engine.ForcePhaseTransition(*cmd.Admin)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"sequence":   receipt.Sequence,
			"from_phase": receipt.From.String(),
			"to_phase":   receipt.To.String(),
		}, nil

	case ingestion.CommandStartCycle:
		receipt, err := s.deps.Engine.StartNewCycle(*cmd.Admin)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"sequence": receipt.Sequence,
			"cycle":    receipt.Cycle,
		}, nil
	}

	return nil, fmt.Errorf("unknown command kind %d", cmd.Kind)
}

func depositResponse(r *vault.DepositReceipt) map[string]interface{} {
	return map[string]interface{}{
		"sequence":    r.Sequence,
		"tokens_each": fpmath.FormatAmount(r.TokensEach),
		"state_hash":  hex.EncodeToString(r.StateHash[:]),
	}
}

func withdrawalResponse(r *vault.WithdrawalReceipt) map[string]interface{} {
	payouts := make([]map[string]string, 0, len(r.Payouts))
	for _, p := range r.Payouts {
		name, _ := ledger.GetAssetName(p.AssetID)
		payouts = append(payouts, map[string]string{
			"asset":  name,
			"amount": fpmath.FormatAmount(p.Amount),
		})
	}
	resp := map[string]interface{}{
		"sequence":      r.Sequence,
		"senior_burned": fpmath.FormatAmount(r.SeniorBurned),
		"junior_burned": fpmath.FormatAmount(r.JuniorBurned),
		"payouts":       payouts,
		"state_hash":    hex.EncodeToString(r.StateHash[:]),
	}
	if r.EmergencyDay > 0 {
		resp["emergency_day"] = r.EmergencyDay
	}
	return resp
}

// ============================================================================
// Query handlers
// ============================================================================

func (s *GRPCServer) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	status := s.deps.Engine.GetProtocolStatus(time.Now())

	collateral := make(map[string]string, len(status.Collateral))
	for asset, amount := range status.Collateral {
		collateral[asset] = fpmath.FormatAmount(amount)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":               status.Phase.String(),
		"phase_start":         status.PhaseStart.UTC().Format(time.RFC3339),
		"cycle_start":         status.CycleStart.UTC().Format(time.RFC3339),
		"time_remaining_secs": int64(status.TimeRemaining.Seconds()),
		"cycle":               status.Cycle,
		"emergency_active":    status.EmergencyActive,
		"emergency_day":       status.EmergencyDay,
		"collateral":          collateral,
		"senior_supply":       fpmath.FormatAmount(status.SeniorSupply),
		"junior_supply":       fpmath.FormatAmount(status.JuniorSupply),
		"min_deposit":         fpmath.FormatAmount(status.MinDeposit),
		"sequence":            status.Sequence,
		"state_hash":          hex.EncodeToString(status.StateHash[:]),
	})
}

// handlePhase serves the phase clock: the engine's lazily evaluated phase
// and time remaining, plus the projected phase and cycle start instants.
func (s *GRPCServer) handlePhase(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	now := time.Now()
	resp := map[string]interface{}{
		"phase":               s.deps.Engine.GetCurrentPhase(now).String(),
		"phase_start":         s.deps.Engine.GetPhaseStart(now).UTC().Format(time.RFC3339),
		"time_remaining_secs": int64(s.deps.Engine.GetTimeRemaining(now).Seconds()),
	}

	state, err := s.deps.QueryService.GetProtocolState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if state != nil {
		resp["cycle"] = state.Cycle
		resp["cycle_start"] = time.UnixMicro(state.CycleStartUs).UTC().Format(time.RFC3339)
		resp["projected_phase"] = state.Phase
		resp["projected_phase_start"] = time.UnixMicro(state.PhaseStartUs).UTC().Format(time.RFC3339)
		resp["as_of_sequence"] = state.AsOfSequence
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *GRPCServer) handleBalances(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	holderID, err := uuid.Parse(pathParams["holder_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid holder_id: %v", err))
		return
	}

	resp, err := s.deps.QueryService.GetHolderBalances(r.Context(), holderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *GRPCServer) handleJournal(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	holderID, err := uuid.Parse(pathParams["holder_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid holder_id: %v", err))
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
		if limit <= 0 || limit > 500 {
			limit = 100
		}
	}

	var afterSeq *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		var seq int64
		if _, err := fmt.Sscanf(v, "%d", &seq); err == nil && seq > 0 {
			afterSeq = &seq
		}
	}

	entries, err := s.deps.QueryService.GetJournalHistory(r.Context(), holderID, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (s *GRPCServer) handleVault(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.QueryService.GetVaultBalance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *GRPCServer) handleSimulate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	senior, err := fpmath.ParseAmount(orZero(r.URL.Query().Get("senior")))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid senior: %v", err))
		return
	}
	junior, err := fpmath.ParseAmount(orZero(r.URL.Query().Get("junior")))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid junior: %v", err))
		return
	}

	payouts, err := s.deps.Engine.CalculateWithdrawalAmounts(senior, junior)
	if err != nil {
		writeRejection(w, err)
		return
	}

	out := make([]map[string]string, 0, len(payouts))
	for _, p := range payouts {
		name, _ := ledger.GetAssetName(p.AssetID)
		out = append(out, map[string]string{
			"asset":  name,
			"amount": fpmath.FormatAmount(p.Amount),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": out})
}

// ============================================================================
// Admin handlers
// ============================================================================

func (s *GRPCServer) handleSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.SnapshotFunc == nil {
		writeError(w, http.StatusNotImplemented, "snapshots not configured")
		return
	}
	seq, err := s.deps.SnapshotFunc(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": seq})
}

func (s *GRPCServer) handleRebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("rebuild failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"started": true})
}

func (s *GRPCServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrDuplicateCommand):
		return http.StatusConflict
	case errors.Is(err, vault.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrWrongPhase),
		errors.Is(err, vault.ErrJuniorBlocked),
		errors.Is(err, vault.ErrInsufficientLiquidity),
		errors.Is(err, vault.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, vault.ErrUnsupportedAsset),
		errors.Is(err, vault.ErrBelowMinimum),
		errors.Is(err, vault.ErrUnevenAmount),
		errors.Is(err, vault.ErrUnequalWithdrawal),
		errors.Is(err, vault.ErrZeroAmount):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRejection maps an engine error to an HTTP status plus the stable
// rejection code clients switch on.
func writeRejection(w http.ResponseWriter, err error) {
	code := vault.RejectionCode(err)
	if errors.Is(err, vault.ErrDuplicateCommand) {
		code = "duplicate_command"
	}
	writeJSON(w, httpStatusFor(err), map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
