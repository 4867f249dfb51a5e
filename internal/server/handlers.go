package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Anyawb/lendrisk/internal/access"
	"github.com/Anyawb/lendrisk/internal/batch"
	"github.com/Anyawb/lendrisk/internal/engine"
	"github.com/Anyawb/lendrisk/internal/event"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/oracle"
	"github.com/Anyawb/lendrisk/internal/risk"
)

// callerHeader carries the caller identity for privileged endpoints. The
// services do the actual role checks; the header only states who is asking.
const callerHeader = "X-Caller-Account"

type handler struct {
	deps *Deps
}

// emit hands an administrative event to the persistence worker without
// blocking the request. A full or nil channel drops the event.
func (h *handler) emit(ev event.Event) {
	if h.deps.Events == nil {
		return
	}
	select {
	case h.deps.Events <- ev:
	default:
	}
}

// ErrorResponse is the uniform error body for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ============================================================================
// Liquidations
// ============================================================================

type liquidateRequest struct {
	Account         string `json:"account"`
	CollateralAsset string `json:"collateral_asset"`
	DebtAsset       string `json:"debt_asset"`
	SeizeAmount     int64  `json:"seize_amount"`
	ReduceAmount    int64  `json:"reduce_amount"`
}

func (h *handler) liquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}

	var body liquidateRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toEngine(caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.deps.Engine.Liquidate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handler) batchLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}

	var body struct {
		Entries []liquidateRequest `json:"entries"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	reqs := make([]engine.Request, len(body.Entries))
	for i, entry := range body.Entries {
		req, err := entry.toEngine(caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, "entry "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		reqs[i] = req
	}

	receipt, err := h.deps.Engine.BatchLiquidate(r.Context(), reqs)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	type entryResult struct {
		Index   int             `json:"index"`
		Receipt *engine.Receipt `json:"receipt,omitempty"`
		Error   string          `json:"error,omitempty"`
	}
	out := struct {
		Succeeded int           `json:"succeeded"`
		Failed    int           `json:"failed"`
		Entries   []entryResult `json:"entries"`
	}{
		Succeeded: receipt.Report.Succeeded(),
		Failed:    receipt.Report.Failed(),
	}
	for _, res := range receipt.Report.Results {
		entry := entryResult{Index: res.Index}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		} else {
			entry.Receipt = receipt.Receipts[res.Index]
		}
		out.Entries = append(out.Entries, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (b liquidateRequest) toEngine(caller uuid.UUID) (engine.Request, error) {
	account, err := uuid.Parse(b.Account)
	if err != nil {
		return engine.Request{}, errors.New("invalid account: " + err.Error())
	}
	return engine.Request{
		Liquidator:      caller,
		Account:         account,
		CollateralAsset: b.CollateralAsset,
		DebtAsset:       b.DebtAsset,
		SeizeAmount:     b.SeizeAmount,
		ReduceAmount:    b.ReduceAmount,
	}, nil
}

// ============================================================================
// Risk reads
// ============================================================================

func (h *handler) healthFactor(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAccount(w, r)
	if !ok {
		return
	}
	hf, err := h.deps.Assessor.HealthFactor(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":       account,
		"health_factor": hf,
		"no_debt":       hf == risk.HealthFactorMax,
	})
}

func (h *handler) riskScore(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAccount(w, r)
	if !ok {
		return
	}
	score, err := h.deps.Assessor.RiskScore(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "risk_score": score})
}

func (h *handler) liquidatable(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAccount(w, r)
	if !ok {
		return
	}
	liq, err := h.deps.Assessor.IsLiquidatable(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "liquidatable": liq})
}

func (h *handler) batchHealthFactor(w http.ResponseWriter, r *http.Request) {
	accounts, ok := bodyAccounts(w, r)
	if !ok {
		return
	}
	values, err := h.deps.Assessor.BatchHealthFactor(r.Context(), accounts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"health_factors": values})
}

func (h *handler) batchRiskScore(w http.ResponseWriter, r *http.Request) {
	accounts, ok := bodyAccounts(w, r)
	if !ok {
		return
	}
	values, err := h.deps.Assessor.BatchRiskScore(r.Context(), accounts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"risk_scores": values})
}

func bodyAccounts(w http.ResponseWriter, r *http.Request) ([]uuid.UUID, bool) {
	var body struct {
		Accounts []string `json:"accounts"`
	}
	if !decodeBody(w, r, &body) {
		return nil, false
	}
	accounts := make([]uuid.UUID, len(body.Accounts))
	for i, raw := range body.Accounts {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "account "+strconv.Itoa(i)+": "+err.Error())
			return nil, false
		}
		accounts[i] = id
	}
	return accounts, true
}

// ============================================================================
// Oracle
// ============================================================================

func (h *handler) feedHealth(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	feed, ok := h.priceFeed(w, r)
	if !ok {
		return
	}
	healthy, status := h.deps.Oracle.CheckFeedHealth(r.Context(), feed, asset, h.deps.OracleCfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":   asset,
		"healthy": healthy,
		"status":  status,
	})
}

func (h *handler) valueOf(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	feed, ok := h.priceFeed(w, r)
	if !ok {
		return
	}
	result, err := h.deps.Oracle.ValueOf(r.Context(), feed, asset, amount, h.deps.OracleCfg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":  asset,
		"amount": amount,
		"value":  result.Value,
		"price":  result.Price,
		"tier":   result.Tier.String(),
	})
}

func (h *handler) priceFeed(w http.ResponseWriter, r *http.Request) (ledger.PriceFeed, bool) {
	addr, err := h.deps.Resolver.Lookup(r.Context(), ledger.ModulePriceFeed)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	feed, err := h.deps.Directory.PriceFeed(addr)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return feed, true
}

// ============================================================================
// Module cache admin
// ============================================================================

func (h *handler) moduleEntry(w http.ResponseWriter, r *http.Request) {
	key := ledger.ModuleKey(mux.Vars(r)["key"])
	addr, resolvedAt, ok := h.deps.Resolver.Entry(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no cache entry for key "+string(key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":         key,
		"address":     addr,
		"resolved_at": resolvedAt,
	})
}

func (h *handler) setModule(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	key := ledger.ModuleKey(mux.Vars(r)["key"])
	if err := h.deps.Resolver.Set(caller, key, body.Address); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "address": body.Address})
}

func (h *handler) batchSetModules(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		Keys      []string `json:"keys"`
		Addresses []string `json:"addresses"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	keys := make([]ledger.ModuleKey, len(body.Keys))
	for i, k := range body.Keys {
		keys[i] = ledger.ModuleKey(k)
	}
	if err := h.deps.Resolver.BatchSet(caller, keys, body.Addresses); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(keys)})
}

func (h *handler) removeModule(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	key := ledger.ModuleKey(mux.Vars(r)["key"])
	if err := h.deps.Resolver.Remove(caller, key); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "removed": true})
}

// ============================================================================
// Roles
// ============================================================================

type roleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
}

func (h *handler) grantRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, func(caller uuid.UUID, role access.Role, account uuid.UUID) error {
		err := h.deps.Controller.Grant(caller, role, account)
		if err == nil && h.deps.Metrics != nil {
			h.deps.Metrics.RoleGrants.WithLabelValues(string(role)).Inc()
		}
		return err
	})
}

func (h *handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, func(caller uuid.UUID, role access.Role, account uuid.UUID) error {
		err := h.deps.Controller.Revoke(caller, role, account)
		if err == nil && h.deps.Metrics != nil {
			h.deps.Metrics.RoleRevocations.WithLabelValues(string(role)).Inc()
		}
		return err
	})
}

func (h *handler) renounceRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, h.deps.Controller.Renounce)
}

func (h *handler) roleChange(w http.ResponseWriter, r *http.Request, op func(uuid.UUID, access.Role, uuid.UUID) error) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body roleRequest
	if !decodeBody(w, r, &body) {
		return
	}
	account, err := uuid.Parse(body.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account: "+err.Error())
		return
	}
	if err := op(caller, access.Role(body.Role), account); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": body.Role, "account": account})
}

func (h *handler) roleMembers(w http.ResponseWriter, r *http.Request) {
	role := access.Role(mux.Vars(r)["role"])
	count := h.deps.Controller.MemberCount(role)
	members := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		member, err := h.deps.Controller.MemberAt(role, i)
		if err != nil {
			break
		}
		members = append(members, member)
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "members": members})
}

func (h *handler) setKeeper(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		Keeper string `json:"keeper"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	keeper, err := uuid.Parse(body.Keeper)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keeper: "+err.Error())
		return
	}
	oldKeeper := h.deps.Controller.Keeper()
	if err := h.deps.Controller.SetKeeper(caller, keeper); err != nil {
		writeServiceError(w, err)
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.KeeperRotations.Inc()
	}
	h.emit(&event.KeeperRotated{
		OldKeeper: oldKeeper,
		NewKeeper: keeper,
		Timestamp: time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"keeper": keeper})
}

// ============================================================================
// Parameters
// ============================================================================

func (h *handler) params(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bonus_rate_bps":        h.deps.Engine.BonusRateBps(),
		"liquidation_threshold": h.deps.Assessor.Threshold(),
		"resolver_max_age":      h.deps.Resolver.MaxAge().String(),
	})
}

func (h *handler) setBonusRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		RateBps int64 `json:"rate_bps"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.deps.Engine.SetBonusRate(caller, body.RateBps); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bonus_rate_bps": body.RateBps})
}

func (h *handler) setThreshold(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		Threshold int64 `json:"threshold"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	old := h.deps.Assessor.Threshold()
	if err := h.deps.Assessor.SetThreshold(caller, body.Threshold); err != nil {
		writeServiceError(w, err)
		return
	}
	h.emit(&event.ParamUpdated{
		Name:      "liquidation_threshold",
		OldValue:  old,
		NewValue:  body.Threshold,
		UpdatedBy: caller,
		Timestamp: time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"liquidation_threshold": body.Threshold})
}

func (h *handler) setResolverMaxAge(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		MaxAge string `json:"max_age"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	maxAge, err := time.ParseDuration(body.MaxAge)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid max_age: "+err.Error())
		return
	}
	old := h.deps.Resolver.MaxAge()
	if err := h.deps.Resolver.SetMaxAge(caller, maxAge); err != nil {
		writeServiceError(w, err)
		return
	}
	h.emit(&event.ParamUpdated{
		Name:      "resolver_max_age_ms",
		OldValue:  old.Milliseconds(),
		NewValue:  maxAge.Milliseconds(),
		UpdatedBy: caller,
		Timestamp: time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"resolver_max_age": maxAge.String()})
}

// ============================================================================
// History reads
// ============================================================================

func (h *handler) recentLiquidations(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Query.RecentLiquidations(r.Context(), queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"liquidations": records})
}

func (h *handler) accountLiquidations(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAccount(w, r)
	if !ok {
		return
	}
	records, err := h.deps.Query.AccountLiquidations(r.Context(), account, queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "liquidations": records})
}

func (h *handler) recentDiagnostics(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Query.RecentDiagnostics(r.Context(), queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diagnostics": records})
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

// ============================================================================
// Helpers
// ============================================================================

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, callerHeader+" header is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid "+callerHeader+": "+err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func pathAccount(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["account"]
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account: "+err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps service sentinels onto HTTP status codes so the
// API reports rejections distinctly from faults.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrMissingRole),
		errors.Is(err, access.ErrUnauthorizedOperation):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrInvalidAccount),
		errors.Is(err, risk.ErrInvalidAccount),
		errors.Is(err, engine.ErrZeroAddress),
		errors.Is(err, engine.ErrAmountIsZero),
		errors.Is(err, engine.ErrInvalidBonusRate),
		errors.Is(err, batch.ErrArrayLengthMismatch),
		errors.Is(err, batch.ErrBatchTooLarge),
		errors.Is(err, batch.ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrRoleAlreadyGranted),
		errors.Is(err, access.ErrRoleNotGranted),
		errors.Is(err, engine.ErrPositionHealthy),
		errors.Is(err, ledger.ErrInsufficientCollateral),
		errors.Is(err, ledger.ErrInsufficientDebt):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrModuleNotRegistered),
		errors.Is(err, ledger.ErrUnknownModuleAddress):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, oracle.ErrPriceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
