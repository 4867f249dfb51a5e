package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeLiquidationExecuted
	TypeCacheUpdateFailed
	TypeKeeperRotated
	TypeParamUpdated
)

func (t Type) String() string {
	switch t {
	case TypeLiquidationExecuted:
		return "LiquidationExecuted"
	case TypeCacheUpdateFailed:
		return "CacheUpdateFailed"
	case TypeKeeperRotated:
		return "KeeperRotated"
	case TypeParamUpdated:
		return "ParamUpdated"
	default:
		return "Unknown"
	}
}

// Event is the interface all notification payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() Type
}

// LiquidationExecuted is emitted when a liquidation reaches Completed.
type LiquidationExecuted struct {
	LiquidationID   uuid.UUID
	Account         uuid.UUID
	Liquidator      uuid.UUID
	CollateralAsset string
	DebtAsset       string
	SeizedAmount    int64
	ReducedAmount   int64
	Bonus           int64
	CacheSynced     bool
	Timestamp       time.Time
}

func (e *LiquidationExecuted) IdempotencyKey() string {
	return e.LiquidationID.String()
}

func (e *LiquidationExecuted) EventType() Type {
	return TypeLiquidationExecuted
}

// CacheUpdateFailed is the diagnostic signal for a failed best-effort push.
// It never aborts the liquidation that produced it.
type CacheUpdateFailed struct {
	LiquidationID uuid.UUID
	Reason        string
	Timestamp     time.Time
}

func (e *CacheUpdateFailed) IdempotencyKey() string {
	return fmt.Sprintf("%s:cache_failed", e.LiquidationID)
}

func (e *CacheUpdateFailed) EventType() Type {
	return TypeCacheUpdateFailed
}

// KeeperRotated is emitted when SetKeeper moves the liquidator role.
type KeeperRotated struct {
	OldKeeper uuid.UUID
	NewKeeper uuid.UUID
	Timestamp time.Time
}

func (e *KeeperRotated) IdempotencyKey() string {
	return fmt.Sprintf("keeper:%s:%d", e.NewKeeper, e.Timestamp.UnixNano())
}

func (e *KeeperRotated) EventType() Type {
	return TypeKeeperRotated
}

// ParamUpdated records an administrator changing a runtime parameter.
type ParamUpdated struct {
	Name      string
	OldValue  int64
	NewValue  int64
	UpdatedBy uuid.UUID
	Timestamp time.Time
}

func (e *ParamUpdated) IdempotencyKey() string {
	return fmt.Sprintf("param:%s:%d", e.Name, e.Timestamp.UnixNano())
}

func (e *ParamUpdated) EventType() Type {
	return TypeParamUpdated
}
