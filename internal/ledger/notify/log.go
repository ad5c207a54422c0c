package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher is a Publisher that writes events to the structured log.
// Used for single-process deployments and tests where no broker exists.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-backed publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) TradeSettled(ctx context.Context, event *TradeSettledEvent) error {
	p.logger.Info("trade settled",
		zap.String("trade_id", event.TradeID.String()),
		zap.String("account_id", event.AccountID.String()),
		zap.String("symbol", event.SymbolCode),
		zap.String("side", event.Side),
		zap.String("quantity", event.Quantity.String()),
		zap.String("realized_pnl", event.RealizedPnL.String()),
		zap.String("commission", event.Commission.String()))
	return nil
}

func (p *LogPublisher) AlertRaised(ctx context.Context, event *AlertEvent) error {
	p.logger.Warn("risk alert raised",
		zap.String("alert_id", event.AlertID.String()),
		zap.String("account_id", event.AccountID.String()),
		zap.String("rule_type", event.RuleType),
		zap.String("level", event.Level),
		zap.String("current_value", event.CurrentValue.String()),
		zap.String("threshold_value", event.ThresholdValue.String()))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
