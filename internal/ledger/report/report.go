// Package report maintains the daily and monthly performance rollups. Daily
// reports are recomputed from scratch from the filled trades of the day, so a
// second recompute over the same trade set reproduces the exact same fields.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantlog/tradeledger/internal/calendar"
	"github.com/quantlog/tradeledger/internal/ledger"
	"github.com/quantlog/tradeledger/internal/ledger/model"
)

var hundred = decimal.NewFromInt(100)

// Service computes performance rollups
type Service struct {
	db       *gorm.DB
	calendar *calendar.Service
	logger   *zap.Logger
}

// NewService creates a report service
func NewService(db *gorm.DB, cal *calendar.Service, logger *zap.Logger) *Service {
	return &Service{db: db, calendar: cal, logger: logger}
}

// ReportDate resolves the calendar day a fill is attributed to. A fill
// landing on a day the calendar explicitly marks non-trading rolls forward to
// the next day without such a mark; days the calendar knows nothing about
// keep the fill. A week of marked holidays gives up and uses the own date.
func (s *Service) ReportDate(ctx context.Context, tradeTime time.Time) time.Time {
	date := model.DateOf(tradeTime)
	for i := 0; i < 7; i++ {
		candidate := date.AddDate(0, 0, i)
		trading, known := s.calendar.Lookup(ctx, candidate)
		if !known || trading {
			return candidate
		}
	}
	return date
}

// RecomputeDailyReport rebuilds the daily report for one account-day inside
// its own transaction.
func (s *Service) RecomputeDailyReport(ctx context.Context, accountID uuid.UUID, date time.Time) (*model.DailyReport, error) {
	var result *model.DailyReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account model.Account
		if err := tx.Where("id = ?", accountID).First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
			}
			return err
		}
		report, err := s.RecomputeDailyTx(tx, &account, date)
		if err != nil {
			return err
		}
		result = report
		return nil
	})
	return result, err
}

// RecomputeDailyTx rebuilds the daily report for one account-day inside an
// already open transaction. The settlement pipeline calls this so the report
// commits or rolls back together with the trade.
func (s *Service) RecomputeDailyTx(tx *gorm.DB, account *model.Account, date time.Time) (*model.DailyReport, error) {
	date = model.DateOf(date)
	dayStart := date
	dayEnd := date.AddDate(0, 0, 1)

	// Holiday fills roll forward onto this report, so the scan starts a week
	// back and filters on attributed date.
	var candidates []model.TradeLog
	if err := tx.
		Where("account_id = ? AND status = ? AND trade_time >= ? AND trade_time < ?",
			account.ID, model.TradeStatusFilled, dayStart.AddDate(0, 0, -7), dayEnd).
		Order("trade_time asc, created_at asc").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades for report: %w", err)
	}
	trades := candidates[:0]
	for _, trade := range candidates {
		if s.ReportDate(tx.Statement.Context, trade.TradeTime).Equal(date) {
			trades = append(trades, trade)
		}
	}

	report := model.DailyReport{
		AccountID:  account.ID,
		ReportDate: date,
	}

	var existing model.DailyReport
	err := tx.Where("account_id = ? AND report_date = ?", account.ID, date).First(&existing).Error
	switch {
	case err == nil:
		report.ID = existing.ID
		report.CreatedAt = existing.CreatedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
		report.ID = uuid.New()
	default:
		return nil, fmt.Errorf("failed to load daily report: %w", err)
	}

	report.StartingBalance = s.startingBalance(tx, account, date)
	report.NetDeposit = s.netDeposit(tx, account.ID, dayStart, dayEnd)

	aggregate(&report, trades)

	report.EndingBalance = report.StartingBalance.
		Add(report.ProfitLoss).
		Sub(report.Commission).
		Add(report.NetDeposit)

	if report.StartingBalance.IsPositive() {
		report.ProfitLossRatio = report.ProfitLoss.Div(report.StartingBalance).Mul(hundred).Round(2)
	} else {
		report.ProfitLossRatio = decimal.Zero
	}

	if err := tx.Save(&report).Error; err != nil {
		return nil, fmt.Errorf("failed to save daily report: %w", err)
	}

	s.logger.Debug("daily report recomputed",
		zap.String("account_id", account.ID.String()),
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("trade_count", report.TradeCount),
		zap.String("profit_loss", report.ProfitLoss.String()))
	return &report, nil
}

// startingBalance is the prior day's ending balance, or the account's initial
// balance when no earlier report exists.
func (s *Service) startingBalance(tx *gorm.DB, account *model.Account, date time.Time) decimal.Decimal {
	var prev model.DailyReport
	err := tx.
		Where("account_id = ? AND report_date < ?", account.ID, date).
		Order("report_date desc").
		First(&prev).Error
	if err == nil {
		return prev.EndingBalance
	}
	return account.InitialBalance
}

func (s *Service) netDeposit(tx *gorm.DB, accountID uuid.UUID, from, to time.Time) decimal.Decimal {
	var txns []model.AccountTransaction
	if err := tx.
		Where("account_id = ? AND type IN ? AND transaction_time >= ? AND transaction_time < ?",
			accountID, []string{model.TxnTypeDeposit, model.TxnTypeWithdraw}, from, to).
		Find(&txns).Error; err != nil {
		return decimal.Zero
	}
	net := decimal.Zero
	for _, t := range txns {
		net = net.Add(t.Amount)
	}
	return net
}

// aggregate fills the trade-derived fields of a daily report, including the
// intraday max drawdown over the running equity after each fill.
func aggregate(report *model.DailyReport, trades []model.TradeLog) {
	pnl := decimal.Zero
	commission := decimal.Zero
	wins, losses := 0, 0

	running := report.StartingBalance
	peak := running
	maxDD := decimal.Zero

	for _, trade := range trades {
		pnl = pnl.Add(trade.RealizedPnL)
		commission = commission.Add(trade.Commission)

		if trade.RealizedPnL.IsPositive() {
			wins++
		} else if trade.RealizedPnL.IsNegative() {
			losses++
		}

		running = running.Add(trade.RealizedPnL).Sub(trade.Commission)
		if running.GreaterThan(peak) {
			peak = running
		}
		if peak.IsPositive() {
			dd := peak.Sub(running).Div(peak).Mul(hundred)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	report.TradeCount = len(trades)
	report.WinCount = wins
	report.LossCount = losses
	report.ProfitLoss = pnl.Round(2)
	report.Commission = commission.Round(2)
	report.MaxDrawdown = maxDD.Round(2)

	decided := wins + losses
	if decided > 0 {
		report.WinRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(decided))).Mul(hundred).Round(2)
	} else {
		report.WinRate = decimal.Zero
	}
}

// RecomputeMonthlyReport rolls the month's daily reports up into one monthly
// report. Missing daily reports simply contribute nothing.
func (s *Service) RecomputeMonthlyReport(ctx context.Context, accountID uuid.UUID, year int, month time.Month) (*model.MonthlyReport, error) {
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var result *model.MonthlyReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account model.Account
		if err := tx.Where("id = ?", accountID).First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
			}
			return err
		}

		var dailies []model.DailyReport
		if err := tx.
			Where("account_id = ? AND report_date >= ? AND report_date < ?", accountID, monthStart, monthEnd).
			Order("report_date asc").
			Find(&dailies).Error; err != nil {
			return fmt.Errorf("failed to load daily reports: %w", err)
		}

		report := model.MonthlyReport{
			AccountID: accountID,
			Year:      year,
			Month:     int(month),
		}

		var existing model.MonthlyReport
		err := tx.Where("account_id = ? AND year = ? AND month = ?", accountID, year, int(month)).
			First(&existing).Error
		switch {
		case err == nil:
			report.ID = existing.ID
			report.CreatedAt = existing.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			report.ID = uuid.New()
		default:
			return fmt.Errorf("failed to load monthly report: %w", err)
		}

		rollup(&report, &account, dailies)

		if err := tx.Save(&report).Error; err != nil {
			return fmt.Errorf("failed to save monthly report: %w", err)
		}
		result = &report
		return nil
	})
	return result, err
}

func rollup(report *model.MonthlyReport, account *model.Account, dailies []model.DailyReport) {
	if len(dailies) == 0 {
		report.StartingBalance = account.InitialBalance
		report.EndingBalance = account.InitialBalance
		report.NetDeposit = decimal.Zero
		report.ProfitLoss = decimal.Zero
		report.ProfitLossRatio = decimal.Zero
		report.WinRate = decimal.Zero
		report.MaxDrawdown = decimal.Zero
		report.TradeCount = 0
		return
	}

	report.StartingBalance = dailies[0].StartingBalance
	report.EndingBalance = dailies[len(dailies)-1].EndingBalance

	pnl := decimal.Zero
	deposits := decimal.Zero
	maxDD := decimal.Zero
	trades, wins, losses := 0, 0, 0
	for _, d := range dailies {
		pnl = pnl.Add(d.ProfitLoss)
		deposits = deposits.Add(d.NetDeposit)
		trades += d.TradeCount
		wins += d.WinCount
		losses += d.LossCount
		if d.MaxDrawdown.GreaterThan(maxDD) {
			maxDD = d.MaxDrawdown
		}
	}

	report.ProfitLoss = pnl.Round(2)
	report.NetDeposit = deposits.Round(2)
	report.TradeCount = trades
	report.MaxDrawdown = maxDD

	if report.StartingBalance.IsPositive() {
		report.ProfitLossRatio = pnl.Div(report.StartingBalance).Mul(hundred).Round(2)
	} else {
		report.ProfitLossRatio = decimal.Zero
	}
	if decided := wins + losses; decided > 0 {
		report.WinRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(decided))).Mul(hundred).Round(2)
	} else {
		report.WinRate = decimal.Zero
	}
}
