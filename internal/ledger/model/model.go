// Package model defines the persistent data model of the trade ledger engine.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for account types, statuses, trade sides and transaction types
const (
	// Account types
	AccountTypeStock   = "stock"
	AccountTypeFutures = "futures"
	AccountTypeForex   = "forex"
	AccountTypeCrypto  = "crypto"
	AccountTypeOptions = "options"

	// Account statuses
	AccountStatusActive   = "active"
	AccountStatusInactive = "inactive"
	AccountStatusFrozen   = "frozen"
	AccountStatusClosed   = "closed"

	// Symbol types
	SymbolTypeStock     = "stock"
	SymbolTypeFutures   = "futures"
	SymbolTypeForex     = "forex"
	SymbolTypeCrypto    = "crypto"
	SymbolTypeIndex     = "index"
	SymbolTypeCommodity = "commodity"
	SymbolTypeBond      = "bond"
	SymbolTypeETF       = "etf"

	// Trade sides
	SideBuy  = "buy"
	SideSell = "sell"

	// Trade statuses; pending -> filled is the only transition that
	// triggers settlement, and it fires exactly once.
	TradeStatusPending         = "pending"
	TradeStatusFilled          = "filled"
	TradeStatusPartiallyFilled = "partially_filled"
	TradeStatusCancelled       = "cancelled"
	TradeStatusRejected        = "rejected"

	// Transaction types
	TxnTypeDeposit     = "deposit"
	TxnTypeWithdraw    = "withdraw"
	TxnTypeTradeProfit = "trade_profit"
	TxnTypeTradeLoss   = "trade_loss"
	TxnTypeCommission  = "commission"
	TxnTypeDividend    = "dividend"
	TxnTypeInterest    = "interest"
	TxnTypeAdjustment  = "adjustment"
)

// Account represents a trading account owned by a user. CurrentBalance only
// changes through an AccountTransaction append; settlement never edits it
// directly.
type Account struct {
	ID               uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	OwnerID          uuid.UUID       `json:"owner_id" gorm:"type:uuid;index" validate:"required"`
	Name             string          `json:"name" gorm:"uniqueIndex" validate:"required,max=100"`
	AccountType      string          `json:"account_type" validate:"required,oneof=stock futures forex crypto options"`
	Broker           string          `json:"broker" validate:"omitempty,max=100"`
	InitialBalance   decimal.Decimal `json:"initial_balance" gorm:"type:decimal(15,2)"`
	CurrentBalance   decimal.Decimal `json:"current_balance" gorm:"type:decimal(15,2)"`
	AvailableBalance decimal.Decimal `json:"available_balance" gorm:"type:decimal(15,2)"`
	Status           string          `json:"status" gorm:"default:active" validate:"required,oneof=active inactive frozen closed"`
	Notes            string          `json:"notes" gorm:"type:text"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TotalProfitLoss returns the lifetime P&L of the account
func (a *Account) TotalProfitLoss() decimal.Decimal {
	return a.CurrentBalance.Sub(a.InitialBalance)
}

// ProfitLossRatio returns lifetime P&L as a percentage of the initial balance
func (a *Account) ProfitLossRatio() decimal.Decimal {
	if a.InitialBalance.IsPositive() {
		return a.TotalProfitLoss().Div(a.InitialBalance).Mul(decimal.NewFromInt(100))
	}
	return decimal.Zero
}

// Symbol represents a tradable instrument. Immutable during a settlement.
type Symbol struct {
	ID                    uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	Code                  string          `json:"code" gorm:"uniqueIndex" validate:"required,max=50"`
	Name                  string          `json:"name" validate:"required,max=100"`
	SymbolType            string          `json:"symbol_type" validate:"required,oneof=stock futures forex crypto index commodity bond etf"`
	Exchange              string          `json:"exchange" validate:"omitempty,max=100"`
	Currency              string          `json:"currency" gorm:"default:USD" validate:"required,max=10"`
	ContractSize          decimal.Decimal `json:"contract_size" gorm:"type:decimal(15,4);default:1"`
	MinimumTick           decimal.Decimal `json:"minimum_tick" gorm:"type:decimal(10,4);default:0.01"`
	MarginRate            decimal.Decimal `json:"margin_rate" gorm:"type:decimal(10,4)"`
	CommissionRate        decimal.Decimal `json:"commission_rate" gorm:"type:decimal(10,6)"`
	CommissionPerContract decimal.Decimal `json:"commission_per_contract" gorm:"type:decimal(10,2)"`
	IsActive              bool            `json:"is_active" gorm:"default:true"`
	Description           string          `json:"description" gorm:"type:text"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Leveraged reports whether the contract multiplier applies to notional and P&L
func (s *Symbol) Leveraged() bool {
	return s.SymbolType == SymbolTypeFutures || s.SymbolType == SymbolTypeIndex
}

// Shortable reports whether the instrument may carry a negative position
func (s *Symbol) Shortable() bool {
	switch s.SymbolType {
	case SymbolTypeFutures, SymbolTypeForex, SymbolTypeCrypto:
		return true
	}
	return false
}

// Multiplier returns the contract multiplier applied to notional and P&L:
// the contract size for futures/index instruments, 1 for everything else.
func (s *Symbol) Multiplier() decimal.Decimal {
	if s.Leveraged() {
		return s.ContractSize
	}
	return decimal.NewFromInt(1)
}

// CalculateProfitLoss computes the P&L of moving a quantity from entry to
// exit price, applying the contract multiplier for futures/index instruments.
func (s *Symbol) CalculateProfitLoss(entryPrice, exitPrice, quantity decimal.Decimal) decimal.Decimal {
	return exitPrice.Sub(entryPrice).Mul(s.Multiplier()).Mul(quantity)
}

// CalculateCommission computes the fee for a fill of the given price and
// quantity. Rate-based commission applies to contract value for futures/index
// and to traded value otherwise; per-contract commission is per unit for
// futures/index and a flat charge otherwise. Deterministic, no side effects.
func (s *Symbol) CalculateCommission(price, quantity decimal.Decimal) decimal.Decimal {
	commission := decimal.Zero

	if s.CommissionRate.IsPositive() {
		if s.Leveraged() {
			contractValue := price.Mul(s.ContractSize).Mul(quantity)
			commission = commission.Add(contractValue.Mul(s.CommissionRate))
		} else {
			commission = commission.Add(price.Mul(quantity).Mul(s.CommissionRate))
		}
	}

	if s.CommissionPerContract.IsPositive() {
		if s.Leveraged() {
			commission = commission.Add(s.CommissionPerContract.Mul(quantity))
		} else {
			commission = commission.Add(s.CommissionPerContract)
		}
	}

	return commission
}

// TradeLog represents a single fill. Once settled it is logically immutable.
type TradeLog struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	AccountID     uuid.UUID       `json:"account_id" gorm:"type:uuid;index:idx_trades_account_time" validate:"required"`
	SymbolID      uuid.UUID       `json:"symbol_id" gorm:"type:uuid;index" validate:"required"`
	OrderID       string          `json:"order_id" gorm:"uniqueIndex" validate:"required,max=100"`
	Side          string          `json:"side" validate:"required,oneof=buy sell"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:decimal(15,4)" validate:"required"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(15,4)" validate:"required"`
	ExecutedPrice decimal.Decimal `json:"executed_price" gorm:"type:decimal(15,4)"`
	Status        string          `json:"status" gorm:"default:pending" validate:"required,oneof=pending filled partially_filled cancelled rejected"`
	Commission    decimal.Decimal `json:"commission" gorm:"type:decimal(10,2)"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" gorm:"column:realized_pnl;type:decimal(15,2)"`
	TradeTime     time.Time       `json:"trade_time" gorm:"index:idx_trades_account_time"`
	Notes         string          `json:"notes" gorm:"type:text"`
	SettledAt     *time.Time      `json:"settled_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TotalAmount returns quantity * price for the trade
func (t *TradeLog) TotalAmount() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// FillPrice returns the executed price, falling back to the order price
func (t *TradeLog) FillPrice() decimal.Decimal {
	if t.ExecutedPrice.IsPositive() {
		return t.ExecutedPrice
	}
	return t.Price
}

// AccountTransaction is an append-only ledger entry against an account
// balance. Invariant: BalanceAfter = BalanceBefore + Amount, and each entry's
// BalanceBefore equals the account balance immediately prior.
type AccountTransaction struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	AccountID       uuid.UUID       `json:"account_id" gorm:"type:uuid;index:idx_txns_account_time" validate:"required"`
	Type            string          `json:"type" validate:"required,oneof=deposit withdraw trade_profit trade_loss commission dividend interest adjustment"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(15,2)"`
	BalanceBefore   decimal.Decimal `json:"balance_before" gorm:"type:decimal(15,2)"`
	BalanceAfter    decimal.Decimal `json:"balance_after" gorm:"type:decimal(15,2)"`
	TradeLogID      *uuid.UUID      `json:"trade_log_id" gorm:"type:uuid;index" validate:"omitempty"`
	Description     string          `json:"description" validate:"omitempty,max=200"`
	TransactionTime time.Time       `json:"transaction_time" gorm:"index:idx_txns_account_time"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Position represents the net holding of one (account, symbol) pair.
// Quantity is signed: positive long, negative short, zero flat. Created
// lazily on first trade and never deleted, only zeroed.
type Position struct {
	ID                 uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	AccountID          uuid.UUID       `json:"account_id" gorm:"type:uuid;uniqueIndex:idx_positions_account_symbol" validate:"required"`
	SymbolID           uuid.UUID       `json:"symbol_id" gorm:"type:uuid;uniqueIndex:idx_positions_account_symbol" validate:"required"`
	Quantity           decimal.Decimal `json:"quantity" gorm:"type:decimal(15,4)"`
	AvgPrice           decimal.Decimal `json:"avg_price" gorm:"type:decimal(15,4)"`
	CurrentPrice       decimal.Decimal `json:"current_price" gorm:"type:decimal(15,4)"`
	MarketValue        decimal.Decimal `json:"market_value" gorm:"type:decimal(15,2)"`
	UnrealizedPnL      decimal.Decimal `json:"unrealized_pnl" gorm:"column:unrealized_pnl;type:decimal(15,2)"`
	UnrealizedPnLRatio decimal.Decimal `json:"unrealized_pnl_ratio" gorm:"column:unrealized_pnl_ratio;type:decimal(10,2)"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Flat reports whether the position holds no quantity
func (p *Position) Flat() bool {
	return p.Quantity.IsZero()
}
