package viewsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/Anyawb/lendrisk/internal/ledger"
)

// Pusher is the JetStream-backed view cache client. Downstream read-side
// consumers subscribe to lend.view.liquidations.{collateral_asset}.
// Callers treat every push as best-effort; an error here never unwinds a
// committed liquidation.
type Pusher struct {
	js      jetstream.JetStream
	timeout time.Duration
	log     zerolog.Logger
}

// pushPayload is the wire form of one liquidation delta.
type pushPayload struct {
	Account         string    `json:"account"`
	CollateralAsset string    `json:"collateral_asset"`
	DebtAsset       string    `json:"debt_asset"`
	SeizedAmount    int64     `json:"seized_amount"`
	ReducedAmount   int64     `json:"reduced_amount"`
	Liquidator      string    `json:"liquidator"`
	Bonus           int64     `json:"bonus"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewPusher(js jetstream.JetStream, timeout time.Duration, log zerolog.Logger) *Pusher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Pusher{js: js, timeout: timeout, log: log}
}

func (p *Pusher) PushLiquidationUpdate(ctx context.Context, upd ledger.LiquidationUpdate) error {
	data, err := json.Marshal(toPayload(upd))
	if err != nil {
		return fmt.Errorf("marshal liquidation update: %w", err)
	}

	subject := fmt.Sprintf("lend.view.liquidations.%s", upd.CollateralAsset)
	return p.publish(ctx, subject, data)
}

func (p *Pusher) PushBatchLiquidationUpdate(ctx context.Context, upds []ledger.LiquidationUpdate) error {
	payloads := make([]pushPayload, len(upds))
	for i, upd := range upds {
		payloads[i] = toPayload(upd)
	}
	data, err := json.Marshal(struct {
		Count   int           `json:"count"`
		Updates []pushPayload `json:"updates"`
	}{Count: len(payloads), Updates: payloads})
	if err != nil {
		return fmt.Errorf("marshal batch update: %w", err)
	}

	return p.publish(ctx, "lend.view.liquidations.batch", data)
}

func (p *Pusher) publish(ctx context.Context, subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("view push failed")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func toPayload(upd ledger.LiquidationUpdate) pushPayload {
	return pushPayload{
		Account:         upd.Account.String(),
		CollateralAsset: upd.CollateralAsset,
		DebtAsset:       upd.DebtAsset,
		SeizedAmount:    upd.SeizedAmount,
		ReducedAmount:   upd.ReducedAmount,
		Liquidator:      upd.Liquidator.String(),
		Bonus:           upd.Bonus,
		Timestamp:       upd.Timestamp,
	}
}
