package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyReport aggregates one account-day of filled trades. It is recomputed
// from scratch whenever a trade lands on that day, never patched
// incrementally, so it stays correct under edits.
type DailyReport struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	AccountID       uuid.UUID       `json:"account_id" gorm:"type:uuid;uniqueIndex:idx_daily_account_date" validate:"required"`
	ReportDate      time.Time       `json:"report_date" gorm:"type:date;uniqueIndex:idx_daily_account_date"`
	StartingBalance decimal.Decimal `json:"starting_balance" gorm:"type:decimal(15,2)"`
	EndingBalance   decimal.Decimal `json:"ending_balance" gorm:"type:decimal(15,2)"`
	NetDeposit      decimal.Decimal `json:"net_deposit" gorm:"type:decimal(15,2)"`
	ProfitLoss      decimal.Decimal `json:"profit_loss" gorm:"type:decimal(15,2)"`
	ProfitLossRatio decimal.Decimal `json:"profit_loss_ratio" gorm:"type:decimal(10,2)"`
	TradeCount      int             `json:"trade_count"`
	WinCount        int             `json:"win_count"`
	LossCount       int             `json:"loss_count"`
	WinRate         decimal.Decimal `json:"win_rate" gorm:"type:decimal(5,2)"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown" gorm:"type:decimal(10,2)"`
	Commission      decimal.Decimal `json:"commission" gorm:"type:decimal(10,2)"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MonthlyReport aggregates one account-month from its daily reports
type MonthlyReport struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	AccountID       uuid.UUID       `json:"account_id" gorm:"type:uuid;uniqueIndex:idx_monthly_account_period" validate:"required"`
	Year            int             `json:"year" gorm:"uniqueIndex:idx_monthly_account_period"`
	Month           int             `json:"month" gorm:"uniqueIndex:idx_monthly_account_period"`
	StartingBalance decimal.Decimal `json:"starting_balance" gorm:"type:decimal(15,2)"`
	EndingBalance   decimal.Decimal `json:"ending_balance" gorm:"type:decimal(15,2)"`
	NetDeposit      decimal.Decimal `json:"net_deposit" gorm:"type:decimal(15,2)"`
	ProfitLoss      decimal.Decimal `json:"profit_loss" gorm:"type:decimal(15,2)"`
	ProfitLossRatio decimal.Decimal `json:"profit_loss_ratio" gorm:"type:decimal(10,2)"`
	TradeCount      int             `json:"trade_count"`
	WinRate         decimal.Decimal `json:"win_rate" gorm:"type:decimal(5,2)"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown" gorm:"type:decimal(10,2)"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DateOf normalizes a timestamp to its UTC calendar day. Report and snapshot
// dates are always stored in this form so unique keys compare cleanly.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
