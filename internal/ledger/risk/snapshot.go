package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quantlog/tradeledger/internal/ledger/model"
)

// buildSnapshot loads or creates the account-day snapshot and refreshes every
// derived field from current state. The risk score is set later, after rule
// evaluation fixes the active alert count.
func (e *Engine) buildSnapshot(tx *gorm.DB, account *model.Account, now time.Time) (*model.RiskSnapshot, error) {
	date := model.DateOf(now)

	snapshot := model.RiskSnapshot{AccountID: account.ID, SnapshotDate: date}
	var existing model.RiskSnapshot
	err := tx.Where("account_id = ? AND snapshot_date = ?", account.ID, date).First(&existing).Error
	switch {
	case err == nil:
		snapshot.ID = existing.ID
		snapshot.CreatedAt = existing.CreatedAt
		snapshot.PeakBalance = existing.PeakBalance
		snapshot.MaxDrawdown = existing.MaxDrawdown
		snapshot.MaxDrawdownPercent = existing.MaxDrawdownPercent
	case errors.Is(err, gorm.ErrRecordNotFound):
		snapshot.ID = uuid.New()
		snapshot.PeakBalance = e.carriedPeak(tx, account, date)
	default:
		return nil, fmt.Errorf("failed to load risk snapshot: %w", err)
	}

	if err := e.fillDaily(tx, account, &snapshot, date); err != nil {
		return nil, err
	}
	if err := e.fillStreaks(tx, account, &snapshot); err != nil {
		return nil, err
	}
	e.fillDrawdown(account, &snapshot)
	if err := e.fillExposure(tx, account, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// carriedPeak seeds a fresh day's peak from the last snapshot before it, so
// drawdown is measured against the all-time high, not just today's.
func (e *Engine) carriedPeak(tx *gorm.DB, account *model.Account, date time.Time) decimal.Decimal {
	var prev model.RiskSnapshot
	err := tx.
		Where("account_id = ? AND snapshot_date < ?", account.ID, date).
		Order("snapshot_date desc").
		First(&prev).Error
	if err == nil && prev.PeakBalance.IsPositive() {
		return prev.PeakBalance
	}
	return decimal.Max(account.InitialBalance, account.CurrentBalance)
}

func (e *Engine) fillDaily(tx *gorm.DB, account *model.Account, snapshot *model.RiskSnapshot, date time.Time) error {
	var trades []model.TradeLog
	if err := tx.
		Where("account_id = ? AND status = ? AND trade_time >= ? AND trade_time < ?",
			account.ID, model.TradeStatusFilled, date, date.AddDate(0, 0, 1)).
		Find(&trades).Error; err != nil {
		return fmt.Errorf("failed to load daily trades: %w", err)
	}

	pnl := decimal.Zero
	wins, losses := 0, 0
	for _, trade := range trades {
		pnl = pnl.Add(trade.RealizedPnL)
		if trade.RealizedPnL.IsPositive() {
			wins++
		} else if trade.RealizedPnL.IsNegative() {
			losses++
		}
	}

	snapshot.DailyPnL = pnl.Round(2)
	snapshot.DailyTradeCount = len(trades)
	snapshot.DailyWinCount = wins
	snapshot.DailyLossCount = losses

	basis := account.InitialBalance
	if !basis.IsPositive() {
		basis = account.CurrentBalance
	}
	if basis.IsPositive() {
		snapshot.DailyPnLPercent = pnl.Div(basis).Mul(hundred).Round(2)
	} else {
		snapshot.DailyPnLPercent = decimal.Zero
	}
	return nil
}

// fillStreaks counts the win/loss streak ending at the most recent decided
// trade. Trades with zero realized P&L (pure opens) do not decide an outcome
// and are skipped.
func (e *Engine) fillStreaks(tx *gorm.DB, account *model.Account, snapshot *model.RiskSnapshot) error {
	var trades []model.TradeLog
	if err := tx.
		Select("realized_pnl").
		Where("account_id = ? AND status = ?", account.ID, model.TradeStatusFilled).
		Order("trade_time desc, created_at desc").
		Limit(streakScanLimit).
		Find(&trades).Error; err != nil {
		return fmt.Errorf("failed to load trade history: %w", err)
	}

	wins, losses := 0, 0
	for _, trade := range trades {
		if trade.RealizedPnL.IsZero() {
			continue
		}
		if trade.RealizedPnL.IsPositive() {
			if losses > 0 {
				break
			}
			wins++
		} else {
			if wins > 0 {
				break
			}
			losses++
		}
	}
	snapshot.ConsecutiveWins = wins
	snapshot.ConsecutiveLosses = losses
	return nil
}

func (e *Engine) fillDrawdown(account *model.Account, snapshot *model.RiskSnapshot) {
	if account.CurrentBalance.GreaterThan(snapshot.PeakBalance) {
		snapshot.PeakBalance = account.CurrentBalance
	}

	dd := snapshot.PeakBalance.Sub(account.CurrentBalance)
	if dd.IsNegative() {
		dd = decimal.Zero
	}
	snapshot.CurrentDrawdown = dd.Round(2)
	if snapshot.PeakBalance.IsPositive() {
		snapshot.CurrentDrawdownPercent = dd.Div(snapshot.PeakBalance).Mul(hundred).Round(2)
	} else {
		snapshot.CurrentDrawdownPercent = decimal.Zero
	}

	if snapshot.CurrentDrawdown.GreaterThan(snapshot.MaxDrawdown) {
		snapshot.MaxDrawdown = snapshot.CurrentDrawdown
		snapshot.MaxDrawdownPercent = snapshot.CurrentDrawdownPercent
	}
}

func (e *Engine) fillExposure(tx *gorm.DB, account *model.Account, snapshot *model.RiskSnapshot) error {
	var positions []model.Position
	if err := tx.Where("account_id = ?", account.ID).Find(&positions).Error; err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}

	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue.Abs())
	}
	snapshot.TotalPositionValue = total.Round(2)

	if account.CurrentBalance.IsPositive() {
		snapshot.PositionRatio = total.Div(account.CurrentBalance).Mul(hundred).Round(2)
	} else {
		snapshot.PositionRatio = decimal.Zero
	}
	return nil
}
