// Package settlement implements the trade settlement pipeline: validate the
// fill, lock the account then the position, apply the position transition,
// append balance transactions, refresh the daily report and run the risk
// engine. Everything between lock and report commits in one transaction; a
// failure at any step rolls the whole settlement back.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quantlog/tradeledger/internal/ledger"
	"github.com/quantlog/tradeledger/internal/ledger/model"
	"github.com/quantlog/tradeledger/internal/ledger/notify"
	"github.com/quantlog/tradeledger/internal/ledger/position"
	"github.com/quantlog/tradeledger/internal/ledger/report"
	"github.com/quantlog/tradeledger/internal/ledger/risk"
	"github.com/quantlog/tradeledger/pkg/metrics"
)

// Result is the outcome of one settlement
type Result struct {
	Trade        *model.TradeLog
	Position     *model.Position
	Transactions []model.AccountTransaction
	DailyReport  *model.DailyReport
	Snapshot     *model.RiskSnapshot
	Alerts       []model.RiskAlert
}

// Service runs the settlement pipeline
type Service struct {
	db          *gorm.DB
	validate    *validator.Validate
	reports     *report.Service
	risk        *risk.Engine
	publisher   notify.Publisher
	maxNotional decimal.Decimal
	logger      *zap.Logger
}

// NewService creates a settlement service. maxNotional caps every
// intermediate notional value during settlement.
func NewService(db *gorm.DB, reports *report.Service, riskEngine *risk.Engine, publisher notify.Publisher, maxNotional decimal.Decimal, logger *zap.Logger) *Service {
	return &Service{
		db:          db,
		validate:    validator.New(),
		reports:     reports,
		risk:        riskEngine,
		publisher:   publisher,
		maxNotional: maxNotional,
		logger:      logger,
	}
}

// SettleTrade settles one pending trade, transitioning it to filled. It is
// the single mutation path for account and position state. Safe to call from
// concurrent goroutines; row locks serialize settlements per account.
func (s *Service) SettleTrade(ctx context.Context, tradeID uuid.UUID) (*Result, error) {
	started := time.Now()

	var result *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.settleTx(tx, tradeID)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, s.txOptions())
	if err != nil {
		err = mapRetryable(err)
		metrics.SettlementFailures.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	metrics.SettlementsProcessed.WithLabelValues(result.Trade.Side).Inc()
	metrics.SettlementLatency.Observe(time.Since(started).Seconds())

	s.publishSettled(ctx, result)
	s.risk.PublishAlerts(ctx, result.Alerts)

	s.logger.Info("trade settled",
		zap.String("trade_id", result.Trade.ID.String()),
		zap.String("account_id", result.Trade.AccountID.String()),
		zap.String("side", result.Trade.Side),
		zap.String("realized_pnl", result.Trade.RealizedPnL.String()),
		zap.String("commission", result.Trade.Commission.String()))
	return result, nil
}

func (s *Service) settleTx(tx *gorm.DB, tradeID uuid.UUID) (*Result, error) {
	var trade model.TradeLog
	if err := tx.Where("id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: trade %s not found", ledger.ErrValidation, tradeID)
		}
		return nil, err
	}
	if trade.SettledAt != nil || trade.Status == model.TradeStatusFilled {
		return nil, fmt.Errorf("%w: trade %s", ledger.ErrAlreadySettled, trade.ID)
	}
	if err := s.validateTrade(&trade); err != nil {
		return nil, err
	}

	// Lock order is fixed: account first, then position. Two settlements on
	// the same account serialize here instead of deadlocking.
	account, err := s.lockAccount(tx, trade.AccountID)
	if err != nil {
		return nil, err
	}

	var symbol model.Symbol
	if err := tx.Where("id = ?", trade.SymbolID).First(&symbol).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrSymbolNotFound, trade.SymbolID)
		}
		return nil, err
	}

	pos, err := s.lockPosition(tx, trade.AccountID, trade.SymbolID)
	if err != nil {
		return nil, err
	}

	if !trade.ExecutedPrice.IsPositive() {
		trade.ExecutedPrice = trade.Price
	}
	if trade.Commission.IsZero() {
		trade.Commission = symbol.CalculateCommission(trade.ExecutedPrice, trade.Quantity).Round(2)
	}

	change, err := position.Apply(&symbol, pos.Quantity, pos.AvgPrice, trade.Side,
		trade.Quantity, trade.ExecutedPrice, s.maxNotional)
	if err != nil {
		return nil, err
	}
	if change.Clamped {
		s.logger.Warn("sell clamped to flat on non-shortable instrument",
			zap.String("trade_id", trade.ID.String()),
			zap.String("symbol", symbol.Code))
	}

	pos.Quantity = change.Quantity
	pos.AvgPrice = change.AvgPrice
	position.MarkToMarket(&symbol, pos, trade.ExecutedPrice)
	if err := tx.Save(pos).Error; err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	now := time.Now()
	trade.Status = model.TradeStatusFilled
	trade.RealizedPnL = change.RealizedPnL
	trade.SettledAt = &now
	if err := tx.Save(&trade).Error; err != nil {
		return nil, fmt.Errorf("failed to save trade: %w", err)
	}

	txns, err := s.appendTradeTransactions(tx, account, &trade, now)
	if err != nil {
		return nil, err
	}

	account.AvailableBalance = account.CurrentBalance
	if err := tx.Save(account).Error; err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	if err := s.checkConsistency(tx, account, pos); err != nil {
		return nil, err
	}

	reportDate := s.reports.ReportDate(tx.Statement.Context, trade.TradeTime)
	daily, err := s.reports.RecomputeDailyTx(tx, account, reportDate)
	if err != nil {
		return nil, err
	}

	snapshot, alerts, err := s.risk.EvaluateTx(tx, account, &trade, now)
	if err != nil {
		return nil, err
	}

	return &Result{
		Trade:        &trade,
		Position:     pos,
		Transactions: txns,
		DailyReport:  daily,
		Snapshot:     snapshot,
		Alerts:       alerts,
	}, nil
}

func (s *Service) validateTrade(trade *model.TradeLog) error {
	if err := s.validate.Struct(trade); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrValidation, err)
	}
	if !trade.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ledger.ErrValidation, trade.Quantity)
	}
	if !trade.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ledger.ErrValidation, trade.Price)
	}
	return nil
}

func (s *Service) lockAccount(tx *gorm.DB, accountID uuid.UUID) (*model.Account, error) {
	var account model.Account
	if err := lockForUpdate(tx).Where("id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
		}
		return nil, err
	}
	if account.Status != model.AccountStatusActive {
		return nil, fmt.Errorf("%w: account %s is %s", ledger.ErrAccountNotActive, account.ID, account.Status)
	}
	return &account, nil
}

// lockPosition locks the (account, symbol) position row, creating it lazily
// on the first trade of the pair.
func (s *Service) lockPosition(tx *gorm.DB, accountID, symbolID uuid.UUID) (*model.Position, error) {
	var pos model.Position
	err := lockForUpdate(tx).
		Where("account_id = ? AND symbol_id = ?", accountID, symbolID).
		First(&pos).Error
	if err == nil {
		return &pos, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	pos = model.Position{
		ID:        uuid.New(),
		AccountID: accountID,
		SymbolID:  symbolID,
		Quantity:  decimal.Zero,
		AvgPrice:  decimal.Zero,
	}
	if err := tx.Create(&pos).Error; err != nil {
		return nil, fmt.Errorf("failed to create position: %w", err)
	}
	return &pos, nil
}

// appendTradeTransactions writes the realized P&L entry (when non-zero) and
// the commission entry, chaining each against the balance at that instant.
func (s *Service) appendTradeTransactions(tx *gorm.DB, account *model.Account, trade *model.TradeLog, now time.Time) ([]model.AccountTransaction, error) {
	var txns []model.AccountTransaction

	if !trade.RealizedPnL.IsZero() {
		txnType := model.TxnTypeTradeProfit
		if trade.RealizedPnL.IsNegative() {
			txnType = model.TxnTypeTradeLoss
		}
		entry, err := appendTransaction(tx, account, txnType, trade.RealizedPnL,
			&trade.ID, "realized P&L for order "+trade.OrderID, now)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *entry)
	}

	if trade.Commission.IsPositive() {
		entry, err := appendTransaction(tx, account, model.TxnTypeCommission, trade.Commission.Neg(),
			&trade.ID, "commission for order "+trade.OrderID, now)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *entry)
	}

	return txns, nil
}

// appendTransaction writes one chained ledger entry and moves the account's
// current balance. The caller holds the account row lock.
func appendTransaction(tx *gorm.DB, account *model.Account, txnType string, amount decimal.Decimal, tradeID *uuid.UUID, description string, now time.Time) (*model.AccountTransaction, error) {
	entry := model.AccountTransaction{
		ID:              uuid.New(),
		AccountID:       account.ID,
		Type:            txnType,
		Amount:          amount.Round(2),
		BalanceBefore:   account.CurrentBalance,
		BalanceAfter:    account.CurrentBalance.Add(amount.Round(2)),
		TradeLogID:      tradeID,
		Description:     description,
		TransactionTime: now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}
	account.CurrentBalance = entry.BalanceAfter
	return &entry, nil
}

// checkConsistency verifies the balance identity and the position sign
// invariant after the update. A violation aborts the settlement.
func (s *Service) checkConsistency(tx *gorm.DB, account *model.Account, pos *model.Position) error {
	type sumRow struct {
		Total decimal.Decimal
	}
	var row sumRow
	if err := tx.Model(&model.AccountTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("account_id = ?", account.ID).
		Scan(&row).Error; err != nil {
		return fmt.Errorf("failed to verify balance identity: %w", err)
	}
	expected := account.InitialBalance.Add(row.Total)
	if !expected.Equal(account.CurrentBalance) {
		return fmt.Errorf("%w: balance %s does not match initial + transactions %s",
			ledger.ErrConsistency, account.CurrentBalance, expected)
	}

	if pos.Quantity.IsZero() && !pos.AvgPrice.IsZero() {
		return fmt.Errorf("%w: flat position %s has avg price %s",
			ledger.ErrConsistency, pos.ID, pos.AvgPrice)
	}
	return nil
}

func (s *Service) publishSettled(ctx context.Context, result *Result) {
	event := &notify.TradeSettledEvent{
		TradeID:     result.Trade.ID,
		AccountID:   result.Trade.AccountID,
		Side:        result.Trade.Side,
		Quantity:    result.Trade.Quantity,
		Price:       result.Trade.ExecutedPrice,
		RealizedPnL: result.Trade.RealizedPnL,
		Commission:  result.Trade.Commission,
		SettledAt:   *result.Trade.SettledAt,
	}
	if err := s.publisher.TradeSettled(ctx, event); err != nil {
		s.logger.Error("failed to publish settlement event",
			zap.String("trade_id", result.Trade.ID.String()),
			zap.Error(err))
	}
}

// txOptions requests serializable isolation on postgres. sqlite runs on a
// single write connection and serializes writers itself.
func (s *Service) txOptions() *sql.TxOptions {
	if s.db.Dialector.Name() == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return &sql.TxOptions{}
}

// lockForUpdate adds a row lock on dialects that support it
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// mapRetryable converts database lock and serialization failures into the
// retryable contention error.
func mapRetryable(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "lock wait timeout") ||
		strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", ledger.ErrLockContention, err)
	}
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return "validation"
	case errors.Is(err, ledger.ErrNotionalLimit):
		return "notional_limit"
	case errors.Is(err, ledger.ErrLockContention):
		return "lock_contention"
	case errors.Is(err, ledger.ErrConsistency):
		return "consistency"
	case errors.Is(err, ledger.ErrAlreadySettled):
		return "already_settled"
	default:
		return "other"
	}
}
