// Package notify emits settlement and risk events to the external
// notification dispatcher. Delivery (channels, quiet hours, opt-outs) is not
// the ledger's concern; it only publishes.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeSettledEvent is emitted after a settlement commits
type TradeSettledEvent struct {
	TradeID     uuid.UUID       `json:"trade_id"`
	AccountID   uuid.UUID       `json:"account_id"`
	SymbolCode  string          `json:"symbol_code"`
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Commission  decimal.Decimal `json:"commission"`
	SettledAt   time.Time       `json:"settled_at"`
}

// AlertEvent is emitted when a risk rule triggers
type AlertEvent struct {
	AlertID        uuid.UUID       `json:"alert_id"`
	AccountID      uuid.UUID       `json:"account_id"`
	RuleType       string          `json:"rule_type"`
	Level          string          `json:"level"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	ThresholdValue decimal.Decimal `json:"threshold_value"`
	TriggeredAt    time.Time       `json:"triggered_at"`
}

// Publisher defines the outbound event operations
type Publisher interface {
	TradeSettled(ctx context.Context, event *TradeSettledEvent) error
	AlertRaised(ctx context.Context, event *AlertEvent) error
	Close() error
}
