package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ModelTestSuite struct {
	suite.Suite
}

func TestModelSuite(t *testing.T) {
	suite.Run(t, new(ModelTestSuite))
}

func (suite *ModelTestSuite) TestSymbolClassification() {
	suite.Run("Shortable", func() {
		for symbolType, want := range map[string]bool{
			SymbolTypeStock:   false,
			SymbolTypeETF:     false,
			SymbolTypeBond:    false,
			SymbolTypeFutures: true,
			SymbolTypeForex:   true,
			SymbolTypeCrypto:  true,
		} {
			sym := Symbol{SymbolType: symbolType}
			suite.Equal(want, sym.Shortable(), symbolType)
		}
	})

	suite.Run("Multiplier", func() {
		futures := Symbol{SymbolType: SymbolTypeFutures, ContractSize: decimal.NewFromInt(50)}
		suite.Equal("50", futures.Multiplier().String())

		stock := Symbol{SymbolType: SymbolTypeStock, ContractSize: decimal.NewFromInt(50)}
		suite.Equal("1", stock.Multiplier().String())
	})
}

func (suite *ModelTestSuite) TestCalculateCommission() {
	suite.Run("RateOnTradedValue", func() {
		sym := Symbol{
			SymbolType:     SymbolTypeStock,
			ContractSize:   decimal.NewFromInt(1),
			CommissionRate: decimal.RequireFromString("0.001"),
		}
		// 100 * 10.00 * 0.001
		fee := sym.CalculateCommission(decimal.RequireFromString("10.00"), decimal.NewFromInt(100))
		suite.Equal("1", fee.String())
	})

	suite.Run("RateOnContractValue", func() {
		sym := Symbol{
			SymbolType:     SymbolTypeFutures,
			ContractSize:   decimal.NewFromInt(10),
			CommissionRate: decimal.RequireFromString("0.0001"),
		}
		// 4000 * 10 * 2 * 0.0001
		fee := sym.CalculateCommission(decimal.NewFromInt(4000), decimal.NewFromInt(2))
		suite.Equal("8", fee.String())
	})

	suite.Run("PerContract", func() {
		futures := Symbol{
			SymbolType:            SymbolTypeFutures,
			ContractSize:          decimal.NewFromInt(10),
			CommissionPerContract: decimal.RequireFromString("1.50"),
		}
		suite.Equal("4.5", futures.CalculateCommission(decimal.NewFromInt(100), decimal.NewFromInt(3)).String())

		stock := Symbol{
			SymbolType:            SymbolTypeStock,
			ContractSize:          decimal.NewFromInt(1),
			CommissionPerContract: decimal.RequireFromString("1.50"),
		}
		// Flat charge regardless of quantity.
		suite.Equal("1.5", stock.CalculateCommission(decimal.NewFromInt(100), decimal.NewFromInt(3)).String())
	})

	suite.Run("BothComponents", func() {
		sym := Symbol{
			SymbolType:            SymbolTypeStock,
			ContractSize:          decimal.NewFromInt(1),
			CommissionRate:        decimal.RequireFromString("0.001"),
			CommissionPerContract: decimal.RequireFromString("0.50"),
		}
		fee := sym.CalculateCommission(decimal.NewFromInt(10), decimal.NewFromInt(100))
		suite.Equal("1.5", fee.String())
	})

	suite.Run("ZeroConfigZeroFee", func() {
		sym := Symbol{SymbolType: SymbolTypeStock, ContractSize: decimal.NewFromInt(1)}
		suite.True(sym.CalculateCommission(decimal.NewFromInt(10), decimal.NewFromInt(100)).IsZero())
	})
}

func (suite *ModelTestSuite) TestCalculateProfitLoss() {
	futures := Symbol{SymbolType: SymbolTypeFutures, ContractSize: decimal.NewFromInt(50)}
	pnl := futures.CalculateProfitLoss(
		decimal.NewFromInt(4000), decimal.NewFromInt(4010), decimal.NewFromInt(2))
	suite.Equal("1000", pnl.String())

	stock := Symbol{SymbolType: SymbolTypeStock, ContractSize: decimal.NewFromInt(1)}
	pnl = stock.CalculateProfitLoss(
		decimal.NewFromInt(10), decimal.NewFromInt(8), decimal.NewFromInt(5))
	suite.Equal("-10", pnl.String())
}

func (suite *ModelTestSuite) TestAccountProfitLoss() {
	account := Account{
		InitialBalance: decimal.NewFromInt(10000),
		CurrentBalance: decimal.NewFromInt(11500),
	}
	suite.Equal("1500", account.TotalProfitLoss().String())
	suite.Equal("15", account.ProfitLossRatio().String())

	empty := Account{CurrentBalance: decimal.NewFromInt(500)}
	suite.True(empty.ProfitLossRatio().IsZero())
}

func (suite *ModelTestSuite) TestTradeLogFillPrice() {
	trade := TradeLog{
		Price:         decimal.NewFromInt(10),
		ExecutedPrice: decimal.NewFromInt(11),
	}
	suite.Equal("11", trade.FillPrice().String())

	trade.ExecutedPrice = decimal.Zero
	suite.Equal("10", trade.FillPrice().String())
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	stamp := time.Date(2026, 3, 14, 2, 30, 0, 0, loc) // 2026-03-13 17:30 UTC

	date := DateOf(stamp)
	assert.Equal(t, "2026-03-13", date.Format("2006-01-02"))
	assert.Equal(t, time.UTC, date.Location())
	assert.True(t, date.Equal(DateOf(date)))
}
