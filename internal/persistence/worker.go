package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Anyawb/lendrisk/internal/event"
	"github.com/Anyawb/lendrisk/internal/observability"
)

// Worker drains the engine's event channel and batch-writes history rows
// to Postgres. It runs independently from the liquidation path: the engine
// uses non-blocking sends, so persistence lag can drop notifications but
// never stalls or fails a liquidation.
type Worker struct {
	writer       *HistoryWriter
	inputChan    <-chan event.Event
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan event.Event,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewHistoryWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run starts the worker loop. It batches incoming events and flushes
// either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	liqBatch := make([]LiquidationRow, 0, w.batchSize)
	diagBatch := make([]DiagnosticRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(liqBatch) > 0 || len(diagBatch) > 0 {
				if err := w.flush(context.Background(), liqBatch, diagBatch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case evt, ok := <-w.inputChan:
			if !ok {
				if len(liqBatch) > 0 || len(diagBatch) > 0 {
					if err := w.flush(context.Background(), liqBatch, diagBatch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			liqBatch, diagBatch = w.append(liqBatch, diagBatch, evt)

			if len(liqBatch)+len(diagBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, liqBatch, diagBatch); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				liqBatch = liqBatch[:0]
				diagBatch = diagBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(liqBatch)+len(diagBatch) > 0 {
				if err := w.flushWithRetry(ctx, liqBatch, diagBatch); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				liqBatch = liqBatch[:0]
				diagBatch = diagBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *Worker) append(liq []LiquidationRow, diag []DiagnosticRow, evt event.Event) ([]LiquidationRow, []DiagnosticRow) {
	switch e := evt.(type) {
	case *event.LiquidationExecuted:
		liq = append(liq, LiquidationRow{
			LiquidationID:   e.LiquidationID.String(),
			Account:         e.Account.String(),
			Liquidator:      e.Liquidator.String(),
			CollateralAsset: e.CollateralAsset,
			DebtAsset:       e.DebtAsset,
			SeizedAmount:    e.SeizedAmount,
			ReducedAmount:   e.ReducedAmount,
			Bonus:           e.Bonus,
			CacheSynced:     e.CacheSynced,
			Timestamp:       e.Timestamp,
		})

	case *event.CacheUpdateFailed:
		diag = append(diag, DiagnosticRow{
			EventType: e.EventType().String(),
			RefKey:    e.LiquidationID.String(),
			Detail:    e.Reason,
			Timestamp: e.Timestamp,
		})

	case *event.KeeperRotated:
		diag = append(diag, DiagnosticRow{
			EventType: e.EventType().String(),
			RefKey:    e.NewKeeper.String(),
			Detail:    fmt.Sprintf("old_keeper=%s", e.OldKeeper),
			Timestamp: e.Timestamp,
		})

	case *event.ParamUpdated:
		diag = append(diag, DiagnosticRow{
			EventType: e.EventType().String(),
			RefKey:    e.Name,
			Detail:    fmt.Sprintf("old=%d new=%d by=%s", e.OldValue, e.NewValue, e.UpdatedBy),
			Timestamp: e.Timestamp,
		})

	default:
		diag = append(diag, DiagnosticRow{
			EventType: evt.EventType().String(),
			RefKey:    evt.IdempotencyKey(),
			Timestamp: time.Now(),
		})
	}
	return liq, diag
}

// flushWithRetry attempts to flush with exponential backoff. History rows
// are retried until the write succeeds or the context is cancelled.
func (w *Worker) flushWithRetry(ctx context.Context, liq []LiquidationRow, diag []DiagnosticRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("rows", len(liq)+len(diag)).Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, liq, diag); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("write").Inc()
			}
			continue
		}
		return nil
	}
}

func (w *Worker) flush(ctx context.Context, liq []LiquidationRow, diag []DiagnosticRow) error {
	start := time.Now()

	if err := w.writer.WriteLiquidationBatch(ctx, liq); err != nil {
		return fmt.Errorf("write liquidations: %w", err)
	}
	if err := w.writer.WriteDiagnosticBatch(ctx, diag); err != nil {
		return fmt.Errorf("write diagnostics: %w", err)
	}

	if w.metrics != nil {
		w.metrics.PersistRowsWritten.Add(float64(len(liq) + len(diag)))
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	}
	return nil
}
