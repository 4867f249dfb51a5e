package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// HistoryWriter writes liquidation history and diagnostic rows to Postgres
// using multi-row INSERT. The history table is an audit projection: the
// ledger modules remain the source of truth.
type HistoryWriter struct {
	db *sql.DB
}

// LiquidationRow represents a row in lend_history.liquidations
type LiquidationRow struct {
	LiquidationID   string
	Account         string
	Liquidator      string
	CollateralAsset string
	DebtAsset       string
	SeizedAmount    int64
	ReducedAmount   int64
	Bonus           int64
	CacheSynced     bool
	Timestamp       time.Time
}

// DiagnosticRow represents a row in lend_history.diagnostics
type DiagnosticRow struct {
	EventType string
	RefKey    string
	Detail    string
	Timestamp time.Time
}

func NewHistoryWriter(db *sql.DB) *HistoryWriter {
	return &HistoryWriter{db: db}
}

// WriteLiquidationBatch writes a batch of liquidation rows.
func (w *HistoryWriter) WriteLiquidationBatch(ctx context.Context, rows []LiquidationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO lend_history.liquidations
		(liquidation_id, account, liquidator, collateral_asset, debt_asset, seized_amount, reduced_amount, bonus, cache_synced, ts)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*10)

	for i, r := range rows {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			r.LiquidationID, r.Account, r.Liquidator, r.CollateralAsset, r.DebtAsset,
			r.SeizedAmount, r.ReducedAmount, r.Bonus, r.CacheSynced, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (liquidation_id) DO NOTHING" // Idempotent writes

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// WriteDiagnosticBatch writes a batch of diagnostic rows.
func (w *HistoryWriter) WriteDiagnosticBatch(ctx context.Context, rows []DiagnosticRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO lend_history.diagnostics
		(event_type, ref_key, detail, ts)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*4)

	for i, r := range rows {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4,
		))
		args = append(args, r.EventType, r.RefKey, r.Detail, r.Timestamp)
	}

	query += strings.Join(values, ", ")

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}
