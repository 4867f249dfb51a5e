package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service provides read-only access to the liquidation history tables.
// Queries are side-effect-free and never touch the live ledger modules.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LiquidationRecord is one executed liquidation as persisted.
type LiquidationRecord struct {
	LiquidationID   uuid.UUID `json:"liquidation_id"`
	Account         uuid.UUID `json:"account"`
	Liquidator      uuid.UUID `json:"liquidator"`
	CollateralAsset string    `json:"collateral_asset"`
	DebtAsset       string    `json:"debt_asset"`
	SeizedAmount    int64     `json:"seized_amount"`
	ReducedAmount   int64     `json:"reduced_amount"`
	Bonus           int64     `json:"bonus"`
	CacheSynced     bool      `json:"cache_synced"`
	Timestamp       time.Time `json:"timestamp"`
}

// DiagnosticRecord is one persisted diagnostic event.
type DiagnosticRecord struct {
	EventType string    `json:"event_type"`
	RefKey    string    `json:"ref_key"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentLiquidations returns the most recent liquidations, newest first.
func (s *Service) RecentLiquidations(ctx context.Context, limit int) ([]LiquidationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT liquidation_id, account, liquidator, collateral_asset, debt_asset,
		       seized_amount, reduced_amount, bonus, cache_synced, ts
		FROM lend_history.liquidations
		ORDER BY ts DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query liquidations: %w", err)
	}
	defer rows.Close()

	return scanLiquidations(rows)
}

// AccountLiquidations returns the liquidation history for one account,
// newest first.
func (s *Service) AccountLiquidations(ctx context.Context, account uuid.UUID, limit int) ([]LiquidationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT liquidation_id, account, liquidator, collateral_asset, debt_asset,
		       seized_amount, reduced_amount, bonus, cache_synced, ts
		FROM lend_history.liquidations
		WHERE account = $1
		ORDER BY ts DESC
		LIMIT $2`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query account liquidations: %w", err)
	}
	defer rows.Close()

	return scanLiquidations(rows)
}

// RecentDiagnostics returns the most recent diagnostic events.
func (s *Service) RecentDiagnostics(ctx context.Context, limit int) ([]DiagnosticRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, ref_key, detail, ts
		FROM lend_history.diagnostics
		ORDER BY ts DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []DiagnosticRecord
	for rows.Next() {
		var rec DiagnosticRecord
		if err := rows.Scan(&rec.EventType, &rec.RefKey, &rec.Detail, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanLiquidations(rows *sql.Rows) ([]LiquidationRecord, error) {
	var out []LiquidationRecord
	for rows.Next() {
		var rec LiquidationRecord
		if err := rows.Scan(
			&rec.LiquidationID, &rec.Account, &rec.Liquidator,
			&rec.CollateralAsset, &rec.DebtAsset,
			&rec.SeizedAmount, &rec.ReducedAmount, &rec.Bonus,
			&rec.CacheSynced, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan liquidation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
