package settlement

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
	"github.com/quantlog/tradeledger/internal/ledger/position"
)

// Deposit credits cash to an account as a chained ledger entry
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*model.AccountTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive, got %s", ledger.ErrValidation, amount)
	}
	return s.cashMovement(ctx, accountID, model.TxnTypeDeposit, amount, description)
}

// Withdraw debits cash from an account. Withdrawals beyond the available
// balance are rejected.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*model.AccountTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive, got %s", ledger.ErrValidation, amount)
	}
	return s.cashMovement(ctx, accountID, model.TxnTypeWithdraw, amount.Neg(), description)
}

func (s *Service) cashMovement(ctx context.Context, accountID uuid.UUID, txnType string, amount decimal.Decimal, description string) (*model.AccountTransaction, error) {
	var entry *model.AccountTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if amount.IsNegative() && account.AvailableBalance.LessThan(amount.Abs()) {
			return fmt.Errorf("%w: available %s, requested %s",
				ledger.ErrInsufficientFunds, account.AvailableBalance, amount.Abs())
		}

		entry, err = appendTransaction(tx, account, txnType, amount, nil, description, time.Now())
		if err != nil {
			return err
		}
		account.AvailableBalance = account.CurrentBalance
		if err := tx.Save(account).Error; err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}

		// Cash moves shift the day's net deposit, so the report follows.
		_, err = s.reports.RecomputeDailyTx(tx, account, model.DateOf(entry.TransactionTime))
		return err
	}, s.txOptions())
	if err != nil {
		return nil, mapRetryable(err)
	}

	s.logger.Info("cash movement recorded",
		zap.String("account_id", accountID.String()),
		zap.String("type", txnType),
		zap.String("amount", amount.String()))
	return entry, nil
}

// MarkPrice re-marks every open position on a symbol to a new current price.
// Only derived fields move; balances and cost basis are untouched.
func (s *Service) MarkPrice(ctx context.Context, symbolCode string, price decimal.Decimal) (int, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: mark price must be positive, got %s", ledger.ErrValidation, price)
	}

	var updated int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var symbol model.Symbol
		if err := tx.Where("code = ?", symbolCode).First(&symbol).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ledger.ErrSymbolNotFound, symbolCode)
			}
			return err
		}

		var positions []model.Position
		if err := tx.Where("symbol_id = ? AND quantity <> 0", symbol.ID).Find(&positions).Error; err != nil {
			return fmt.Errorf("failed to load positions: %w", err)
		}
		for i := range positions {
			position.MarkToMarket(&symbol, &positions[i], price)
			if err := tx.Save(&positions[i]).Error; err != nil {
				return fmt.Errorf("failed to save position: %w", err)
			}
		}
		updated = len(positions)
		return nil
	})
	if err != nil {
		return 0, mapRetryable(err)
	}
	return updated, nil
}

// RebuildPositions replays every filled trade of an account in time order and
// rewrites its positions from scratch. Used to repair drift after manual
// trade edits; balances and transactions are not touched.
func (s *Service) RebuildPositions(ctx context.Context, accountID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(tx, accountID)
		if err != nil {
			return err
		}

		var trades []model.TradeLog
		if err := tx.
			Where("account_id = ? AND status = ?", account.ID, model.TradeStatusFilled).
			Order("trade_time asc, created_at asc").
			Find(&trades).Error; err != nil {
			return fmt.Errorf("failed to load trades: %w", err)
		}

		symbols := make(map[uuid.UUID]*model.Symbol)
		type state struct {
			quantity decimal.Decimal
			avgPrice decimal.Decimal
			price    decimal.Decimal
		}
		states := make(map[uuid.UUID]*state)

		for i := range trades {
			trade := &trades[i]
			symbol, ok := symbols[trade.SymbolID]
			if !ok {
				var sym model.Symbol
				if err := tx.Where("id = ?", trade.SymbolID).First(&sym).Error; err != nil {
					return fmt.Errorf("%w: %s", ledger.ErrSymbolNotFound, trade.SymbolID)
				}
				symbol = &sym
				symbols[trade.SymbolID] = symbol
			}

			st, ok := states[trade.SymbolID]
			if !ok {
				st = &state{quantity: decimal.Zero, avgPrice: decimal.Zero}
				states[trade.SymbolID] = st
			}

			change, err := position.Apply(symbol, st.quantity, st.avgPrice, trade.Side,
				trade.Quantity, trade.FillPrice(), s.maxNotional)
			if err != nil {
				return fmt.Errorf("replay of trade %s failed: %w", trade.ID, err)
			}
			st.quantity = change.Quantity
			st.avgPrice = change.AvgPrice
			st.price = trade.FillPrice()
		}

		for symbolID, st := range states {
			pos, err := s.lockPosition(tx, account.ID, symbolID)
			if err != nil {
				return err
			}
			pos.Quantity = st.quantity
			pos.AvgPrice = st.avgPrice
			markPrice := pos.CurrentPrice
			if !markPrice.IsPositive() {
				markPrice = st.price
			}
			position.MarkToMarket(symbols[symbolID], pos, markPrice)
			if err := tx.Save(pos).Error; err != nil {
				return fmt.Errorf("failed to save position: %w", err)
			}
		}
		return nil
	}, s.txOptions())
	if err != nil {
		return mapRetryable(err)
	}

	s.logger.Info("positions rebuilt from trade history",
		zap.String("account_id", accountID.String()))
	return nil
}
