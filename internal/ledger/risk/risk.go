// Package risk evaluates per-account risk rules and maintains the daily risk
// snapshot. Evaluation runs inside the settlement transaction after each fill
// and in its own short transaction during the periodic sweep, so alerts
// always reflect committed post-settlement state.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantlog/tradeledger/internal/ledger"
	"github.com/quantlog/tradeledger/internal/ledger/model"
	"github.com/quantlog/tradeledger/internal/ledger/notify"
	"github.com/quantlog/tradeledger/pkg/metrics"
)

var hundred = decimal.NewFromInt(100)

// streakScanLimit bounds how far back the consecutive win/loss scan reads
const streakScanLimit = 100

// Engine evaluates risk rules against account state
type Engine struct {
	db        *gorm.DB
	publisher notify.Publisher
	cooldown  time.Duration
	logger    *zap.Logger
}

// NewEngine creates a risk engine. cooldown is the alert de-duplication
// window for repeated triggers of the same rule.
func NewEngine(db *gorm.DB, publisher notify.Publisher, cooldown time.Duration, logger *zap.Logger) *Engine {
	return &Engine{db: db, publisher: publisher, cooldown: cooldown, logger: logger}
}

// EvaluateRisk evaluates all enabled rules for one account in its own
// transaction and publishes any new alerts after commit.
func (e *Engine) EvaluateRisk(ctx context.Context, accountID uuid.UUID) (*model.RiskSnapshot, []model.RiskAlert, error) {
	var (
		snapshot *model.RiskSnapshot
		alerts   []model.RiskAlert
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account model.Account
		if err := tx.Where("id = ?", accountID).First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
			}
			return err
		}
		var err error
		snapshot, alerts, err = e.EvaluateTx(tx, &account, nil, time.Now())
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	e.PublishAlerts(ctx, alerts)
	return snapshot, alerts, nil
}

// Sweep evaluates every active account. Each account runs in its own short
// transaction; one failing account does not stop the sweep.
func (e *Engine) Sweep(ctx context.Context) error {
	var accounts []model.Account
	if err := e.db.WithContext(ctx).
		Where("status = ?", model.AccountStatusActive).
		Find(&accounts).Error; err != nil {
		return fmt.Errorf("failed to list active accounts: %w", err)
	}

	var failed int
	for _, account := range accounts {
		if _, _, err := e.EvaluateRisk(ctx, account.ID); err != nil {
			failed++
			e.logger.Error("risk sweep failed for account",
				zap.String("account_id", account.ID.String()),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("risk sweep: %d of %d accounts failed", failed, len(accounts))
	}
	return nil
}

// EvaluateTx evaluates rules inside an already open transaction.
// justSettled, when non-nil, is the trade whose settlement triggered the
// evaluation; single_trade_loss rules check it directly. The caller publishes
// the returned alerts after its transaction commits.
func (e *Engine) EvaluateTx(tx *gorm.DB, account *model.Account, justSettled *model.TradeLog, now time.Time) (*model.RiskSnapshot, []model.RiskAlert, error) {
	snapshot, err := e.buildSnapshot(tx, account, now)
	if err != nil {
		return nil, nil, err
	}

	var rules []model.RiskRule
	if err := tx.
		Where("account_id = ? AND enabled = ?", account.ID, true).
		Order("rule_type asc, level desc").
		Find(&rules).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load risk rules: %w", err)
	}

	var alerts []model.RiskAlert
	for i := range rules {
		rule := &rules[i]
		current, ok := e.currentValue(tx, account, snapshot, rule, justSettled)
		if !ok {
			continue
		}
		threshold := rule.Threshold(account)
		if !threshold.IsPositive() || current.LessThan(threshold) {
			continue
		}
		alert, err := e.raiseAlert(tx, account, rule, current, threshold, now)
		if err != nil {
			return nil, nil, err
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	var activeCount int64
	if err := tx.Model(&model.RiskAlert{}).
		Where("account_id = ? AND status = ?", account.ID, model.AlertStatusActive).
		Count(&activeCount).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to count active alerts: %w", err)
	}
	snapshot.ActiveAlertsCount = int(activeCount)
	snapshot.CalculateRiskScore()

	if err := tx.Save(snapshot).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to save risk snapshot: %w", err)
	}
	return snapshot, alerts, nil
}

// currentValue computes the measured value for one rule. The second return is
// false when the rule has nothing to measure right now.
func (e *Engine) currentValue(tx *gorm.DB, account *model.Account, snapshot *model.RiskSnapshot, rule *model.RiskRule, justSettled *model.TradeLog) (decimal.Decimal, bool) {
	switch rule.RuleType {
	case model.RuleDailyLossLimit:
		if snapshot.DailyPnL.IsNegative() {
			return snapshot.DailyPnL.Abs(), true
		}
		return decimal.Zero, true

	case model.RuleSingleTradeLoss:
		trade := justSettled
		if trade == nil {
			trade = e.latestFilledTrade(tx, account.ID)
		}
		if trade == nil || !trade.RealizedPnL.IsNegative() {
			return decimal.Zero, false
		}
		return trade.RealizedPnL.Abs(), true

	case model.RuleMaxDrawdown:
		return snapshot.CurrentDrawdownPercent, true

	case model.RuleMaxPositionRatio:
		return snapshot.PositionRatio, true

	case model.RuleConsecutiveLosses:
		return decimal.NewFromInt(int64(snapshot.ConsecutiveLosses)), true

	case model.RuleDailyTradeLimit:
		return decimal.NewFromInt(int64(snapshot.DailyTradeCount)), true
	}
	return decimal.Zero, false
}

func (e *Engine) latestFilledTrade(tx *gorm.DB, accountID uuid.UUID) *model.TradeLog {
	var trade model.TradeLog
	err := tx.
		Where("account_id = ? AND status = ?", accountID, model.TradeStatusFilled).
		Order("trade_time desc, created_at desc").
		First(&trade).Error
	if err != nil {
		return nil
	}
	return &trade
}

// raiseAlert creates an alert unless an active one for the same rule was
// created within the cool-down window.
func (e *Engine) raiseAlert(tx *gorm.DB, account *model.Account, rule *model.RiskRule, current, threshold decimal.Decimal, now time.Time) (*model.RiskAlert, error) {
	var recent int64
	err := tx.Model(&model.RiskAlert{}).
		Where("account_id = ? AND rule_id = ? AND status = ? AND triggered_at > ?",
			account.ID, rule.ID, model.AlertStatusActive, now.Add(-e.cooldown)).
		Count(&recent).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check alert cooldown: %w", err)
	}
	if recent > 0 {
		return nil, nil
	}

	alert := model.RiskAlert{
		ID:             uuid.New(),
		AccountID:      account.ID,
		RuleID:         rule.ID,
		AlertType:      rule.RuleType,
		Level:          rule.Level,
		Title:          alertTitle(rule.RuleType),
		Message:        fmt.Sprintf("%s: current %s crossed threshold %s", alertTitle(rule.RuleType), current, threshold),
		CurrentValue:   current.Round(2),
		ThresholdValue: threshold.Round(2),
		Status:         model.AlertStatusActive,
		TriggeredAt:    now,
	}
	if err := tx.Create(&alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create risk alert: %w", err)
	}

	metrics.RiskAlertsRaised.WithLabelValues(rule.RuleType).Inc()
	e.logger.Warn("risk rule triggered",
		zap.String("account_id", account.ID.String()),
		zap.String("rule_type", rule.RuleType),
		zap.String("level", rule.Level),
		zap.String("current", current.String()),
		zap.String("threshold", threshold.String()))
	return &alert, nil
}

func alertTitle(ruleType string) string {
	switch ruleType {
	case model.RuleDailyLossLimit:
		return "Daily loss limit exceeded"
	case model.RuleSingleTradeLoss:
		return "Single trade loss limit exceeded"
	case model.RuleMaxDrawdown:
		return "Maximum drawdown exceeded"
	case model.RuleMaxPositionRatio:
		return "Position exposure limit exceeded"
	case model.RuleConsecutiveLosses:
		return "Consecutive loss streak"
	case model.RuleDailyTradeLimit:
		return "Daily trade limit exceeded"
	}
	return "Risk rule triggered"
}

// PublishAlerts emits AlertRaised events. Publish failures are logged, not
// returned; the alerts are already committed.
func (e *Engine) PublishAlerts(ctx context.Context, alerts []model.RiskAlert) {
	for i := range alerts {
		alert := &alerts[i]
		event := &notify.AlertEvent{
			AlertID:        alert.ID,
			AccountID:      alert.AccountID,
			RuleType:       alert.AlertType,
			Level:          alert.Level,
			Title:          alert.Title,
			Message:        alert.Message,
			CurrentValue:   alert.CurrentValue,
			ThresholdValue: alert.ThresholdValue,
			TriggeredAt:    alert.TriggeredAt,
		}
		if err := e.publisher.AlertRaised(ctx, event); err != nil {
			e.logger.Error("failed to publish alert event",
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err))
		}
	}
}
