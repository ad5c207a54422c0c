package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for risk rules, alerts and derived risk levels
const (
	// Rule types
	RuleDailyLossLimit    = "daily_loss_limit"
	RuleSingleTradeLoss   = "single_trade_loss"
	RuleMaxDrawdown       = "max_drawdown"
	RuleMaxPositionRatio  = "max_position_ratio"
	RuleConsecutiveLosses = "consecutive_losses"
	RuleDailyTradeLimit   = "daily_trade_limit"

	// Rule actions; only "alert" is acted on by the engine
	RuleActionAlert  = "alert"
	RuleActionBlock  = "block"
	RuleActionReduce = "reduce"

	// Rule / alert severities
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"

	// Alert statuses
	AlertStatusActive       = "active"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
	AlertStatusIgnored      = "ignored"

	// Derived risk levels
	RiskLevelSafe     = "safe"
	RiskLevelWarning  = "warning"
	RiskLevelDanger   = "danger"
	RiskLevelCritical = "critical"
)

// LossRule reports whether a rule type measures a loss magnitude, which is
// compared on absolute values when checking against its threshold.
func LossRule(ruleType string) bool {
	switch ruleType {
	case RuleDailyLossLimit, RuleSingleTradeLoss, RuleMaxDrawdown:
		return true
	}
	return false
}

// RiskRule is a per-account risk limit. The threshold is either an absolute
// value or a percentage of the account's balance basis.
type RiskRule struct {
	ID               uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	AccountID        uuid.UUID       `json:"account_id" gorm:"type:uuid;uniqueIndex:idx_rules_account_type_level" validate:"required"`
	RuleType         string          `json:"rule_type" gorm:"uniqueIndex:idx_rules_account_type_level" validate:"required,oneof=daily_loss_limit single_trade_loss max_drawdown max_position_ratio consecutive_losses daily_trade_limit"`
	Level            string          `json:"level" gorm:"uniqueIndex:idx_rules_account_type_level;default:warning" validate:"required,oneof=info warning critical"`
	ThresholdValue   decimal.Decimal `json:"threshold_value" gorm:"type:decimal(15,2)"`
	ThresholdPercent decimal.Decimal `json:"threshold_percent" gorm:"type:decimal(10,2)"`
	Action           string          `json:"action" gorm:"default:alert" validate:"required,oneof=alert block reduce"`
	Enabled          bool            `json:"enabled" gorm:"default:true"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Threshold resolves the effective threshold for the rule. Percentage
// thresholds use the initial balance as basis so a drawdown does not shrink
// the limit; accounts without one fall back to the current balance.
func (r *RiskRule) Threshold(account *Account) decimal.Decimal {
	if r.ThresholdPercent.IsPositive() && LossRule(r.RuleType) {
		basis := account.InitialBalance
		if !basis.IsPositive() {
			basis = account.CurrentBalance
		}
		return basis.Mul(r.ThresholdPercent).Div(decimal.NewFromInt(100))
	}
	return r.ThresholdValue
}

// RiskAlert records one rule trigger. Immutable once created; status moves
// active -> acknowledged/resolved/ignored.
type RiskAlert struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	AccountID      uuid.UUID       `json:"account_id" gorm:"type:uuid;index" validate:"required"`
	RuleID         uuid.UUID       `json:"rule_id" gorm:"type:uuid;index" validate:"required"`
	AlertType      string          `json:"alert_type"`
	Level          string          `json:"level"`
	Title          string          `json:"title" validate:"omitempty,max=200"`
	Message        string          `json:"message" gorm:"type:text"`
	CurrentValue   decimal.Decimal `json:"current_value" gorm:"type:decimal(15,2)"`
	ThresholdValue decimal.Decimal `json:"threshold_value" gorm:"type:decimal(15,2)"`
	Status         string          `json:"status" gorm:"default:active" validate:"required,oneof=active acknowledged resolved ignored"`
	TriggeredAt    time.Time       `json:"triggered_at" gorm:"index"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at"`
	ResolvedAt     *time.Time      `json:"resolved_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RiskSnapshot is the one-per-account-day risk state, updated in place as new
// data arrives during the day.
type RiskSnapshot struct {
	ID                     uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	AccountID              uuid.UUID       `json:"account_id" gorm:"type:uuid;uniqueIndex:idx_snapshots_account_date" validate:"required"`
	SnapshotDate           time.Time       `json:"snapshot_date" gorm:"type:date;uniqueIndex:idx_snapshots_account_date"`
	DailyPnL               decimal.Decimal `json:"daily_pnl" gorm:"column:daily_pnl;type:decimal(15,2)"`
	DailyPnLPercent        decimal.Decimal `json:"daily_pnl_percent" gorm:"column:daily_pnl_percent;type:decimal(10,2)"`
	DailyTradeCount        int             `json:"daily_trade_count"`
	DailyWinCount          int             `json:"daily_win_count"`
	DailyLossCount         int             `json:"daily_loss_count"`
	ConsecutiveWins        int             `json:"consecutive_wins"`
	ConsecutiveLosses      int             `json:"consecutive_losses"`
	PeakBalance            decimal.Decimal `json:"peak_balance" gorm:"type:decimal(15,2)"`
	CurrentDrawdown        decimal.Decimal `json:"current_drawdown" gorm:"type:decimal(15,2)"`
	CurrentDrawdownPercent decimal.Decimal `json:"current_drawdown_percent" gorm:"type:decimal(10,2)"`
	MaxDrawdown            decimal.Decimal `json:"max_drawdown" gorm:"type:decimal(15,2)"`
	MaxDrawdownPercent     decimal.Decimal `json:"max_drawdown_percent" gorm:"type:decimal(10,2)"`
	TotalPositionValue     decimal.Decimal `json:"total_position_value" gorm:"type:decimal(15,2)"`
	PositionRatio          decimal.Decimal `json:"position_ratio" gorm:"type:decimal(10,2)"`
	ActiveAlertsCount      int             `json:"active_alerts_count"`
	RiskScore              int             `json:"risk_score"`
	RiskLevel              string          `json:"risk_level" gorm:"default:safe"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// CalculateRiskScore derives the 0-100 risk score (higher = riskier) from the
// snapshot's drawdown, streak, daily P&L and position exposure, then maps it
// to a risk level. Each contribution is additive and the total is capped.
func (s *RiskSnapshot) CalculateRiskScore() {
	score := 0

	dd := s.CurrentDrawdownPercent
	switch {
	case dd.GreaterThanOrEqual(decimal.NewFromInt(20)):
		score += 40
	case dd.GreaterThanOrEqual(decimal.NewFromInt(10)):
		score += 30
	case dd.GreaterThanOrEqual(decimal.NewFromInt(5)):
		score += 20
	case dd.GreaterThanOrEqual(decimal.NewFromInt(2)):
		score += 10
	}

	switch {
	case s.ConsecutiveLosses >= 5:
		score += 30
	case s.ConsecutiveLosses >= 3:
		score += 20
	case s.ConsecutiveLosses >= 2:
		score += 10
	}

	pnl := s.DailyPnLPercent
	switch {
	case pnl.LessThanOrEqual(decimal.NewFromInt(-5)):
		score += 20
	case pnl.LessThanOrEqual(decimal.NewFromInt(-3)):
		score += 15
	case pnl.LessThanOrEqual(decimal.NewFromInt(-1)):
		score += 10
	}

	ratio := s.PositionRatio
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(90)):
		score += 10
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(70)):
		score += 5
	}

	if score > 100 {
		score = 100
	}
	s.RiskScore = score

	switch {
	case score >= 80:
		s.RiskLevel = RiskLevelCritical
	case score >= 60:
		s.RiskLevel = RiskLevelDanger
	case score >= 40:
		s.RiskLevel = RiskLevelWarning
	default:
		s.RiskLevel = RiskLevelSafe
	}
}
