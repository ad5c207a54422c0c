package report

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/quantlog/tradeledger/internal/calendar"
	"github.com/quantlog/tradeledger/internal/database"
	"github.com/quantlog/tradeledger/internal/ledger/model"
)

type ReportTestSuite struct {
	suite.Suite
	ctx     context.Context
	db      *gorm.DB
	logger  *zap.Logger
	cal     *calendar.Service
	service *Service
	account *model.Account
	symbol  *model.Symbol
}

func TestReportSuite(t *testing.T) {
	suite.Run(t, new(ReportTestSuite))
}

func (suite *ReportTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.logger = zaptest.NewLogger(suite.T())

	db, err := database.NewSQLiteDB("file::memory:")
	suite.Require().NoError(err)
	suite.Require().NoError(model.AutoMigrate(db))
	suite.db = db

	suite.cal = calendar.NewService(calendar.NewMemoryCache(), time.Hour, suite.logger)
	suite.service = NewService(db, suite.cal, suite.logger)

	balance := decimal.NewFromInt(10000)
	suite.account = &model.Account{
		ID:               uuid.New(),
		OwnerID:          uuid.New(),
		Name:             "report-test",
		AccountType:      model.AccountTypeStock,
		InitialBalance:   balance,
		CurrentBalance:   balance,
		AvailableBalance: balance,
		Status:           model.AccountStatusActive,
	}
	suite.Require().NoError(db.Create(suite.account).Error)

	suite.symbol = &model.Symbol{
		ID:           uuid.New(),
		Code:         "AAPL",
		Name:         "Apple",
		SymbolType:   model.SymbolTypeStock,
		Currency:     "USD",
		ContractSize: decimal.NewFromInt(1),
		IsActive:     true,
	}
	suite.Require().NoError(db.Create(suite.symbol).Error)
}

// insertFilled writes an already settled trade directly
func (suite *ReportTestSuite) insertFilled(at time.Time, realized, commission string) {
	settled := at
	trade := &model.TradeLog{
		ID:          uuid.New(),
		AccountID:   suite.account.ID,
		SymbolID:    suite.symbol.ID,
		OrderID:     "ord-" + uuid.NewString(),
		Side:        model.SideSell,
		Quantity:    decimal.NewFromInt(10),
		Price:       decimal.NewFromInt(10),
		Status:      model.TradeStatusFilled,
		RealizedPnL: decimal.RequireFromString(realized),
		Commission:  decimal.RequireFromString(commission),
		TradeTime:   at,
		SettledAt:   &settled,
	}
	suite.Require().NoError(suite.db.Create(trade).Error)
}

func (suite *ReportTestSuite) TestDailyAggregation() {
	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	suite.insertFilled(day.Add(10*time.Hour), "100", "1.00")
	suite.insertFilled(day.Add(11*time.Hour), "-40", "1.00")
	suite.insertFilled(day.Add(12*time.Hour), "0", "1.00")

	daily, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, day)
	suite.Require().NoError(err)

	suite.Equal(3, daily.TradeCount)
	suite.Equal(1, daily.WinCount)
	suite.Equal(1, daily.LossCount)
	suite.Equal("50", daily.WinRate.String())
	suite.Equal("60", daily.ProfitLoss.String())
	suite.Equal("3", daily.Commission.String())
	suite.Equal("10000", daily.StartingBalance.String())
	suite.Equal("10057", daily.EndingBalance.String())
	suite.Equal("0.6", daily.ProfitLossRatio.String())
}

func (suite *ReportTestSuite) TestDailyReproducibility() {
	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	suite.insertFilled(day.Add(10*time.Hour), "123.45", "2.50")
	suite.insertFilled(day.Add(11*time.Hour), "-67.89", "2.50")

	first, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, day)
	suite.Require().NoError(err)
	second, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, day)
	suite.Require().NoError(err)

	suite.Equal(first.ID, second.ID)
	suite.Equal(first.StartingBalance.String(), second.StartingBalance.String())
	suite.Equal(first.EndingBalance.String(), second.EndingBalance.String())
	suite.Equal(first.ProfitLoss.String(), second.ProfitLoss.String())
	suite.Equal(first.ProfitLossRatio.String(), second.ProfitLossRatio.String())
	suite.Equal(first.Commission.String(), second.Commission.String())
	suite.Equal(first.WinRate.String(), second.WinRate.String())
	suite.Equal(first.MaxDrawdown.String(), second.MaxDrawdown.String())
	suite.Equal(first.TradeCount, second.TradeCount)

	var count int64
	suite.db.Model(&model.DailyReport{}).Where("account_id = ?", suite.account.ID).Count(&count)
	suite.Equal(int64(1), count)
}

func (suite *ReportTestSuite) TestStartingBalanceCarriesForward() {
	day1 := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	suite.insertFilled(day1.Add(10*time.Hour), "500", "0")
	suite.insertFilled(day2.Add(10*time.Hour), "-100", "0")

	first, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, day1)
	suite.Require().NoError(err)
	suite.Equal("10500", first.EndingBalance.String())

	second, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, day2)
	suite.Require().NoError(err)
	suite.Equal("10500", second.StartingBalance.String())
	suite.Equal("10400", second.EndingBalance.String())
}

func (suite *ReportTestSuite) TestIntradayMaxDrawdown() {
	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	suite.insertFilled(day.Add(10*time.Hour), "1000", "0")
	suite.insertFilled(day.Add(11*time.Hour), "-2200", "0")
	suite.insertFilled(day.Add(12*time.Hour), "500", "0")

	daily, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, day)
	suite.Require().NoError(err)

	// Peak 11000 after the first fill, trough 8800: 20% off the peak.
	suite.Equal("20", daily.MaxDrawdown.String())
}

func (suite *ReportTestSuite) TestHolidayFillRollsForward() {
	holiday := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	nextDay := holiday.AddDate(0, 0, 1)
	suite.Require().NoError(suite.cal.MarkTradingDay(suite.ctx, holiday, false))

	suite.insertFilled(holiday.Add(10*time.Hour), "250", "0")

	onHoliday, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, holiday)
	suite.Require().NoError(err)
	suite.Equal(0, onHoliday.TradeCount)

	rolled, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, nextDay)
	suite.Require().NoError(err)
	suite.Equal(1, rolled.TradeCount)
	suite.Equal("250", rolled.ProfitLoss.String())
}

func (suite *ReportTestSuite) TestMonthlyRollup() {
	day1 := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC)
	suite.insertFilled(day1.Add(10*time.Hour), "500", "1.00")
	suite.insertFilled(day2.Add(10*time.Hour), "-200", "1.00")
	suite.insertFilled(day2.Add(11*time.Hour), "300", "1.00")

	_, err := suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, day1)
	suite.Require().NoError(err)
	_, err = suite.service.RecomputeDailyReport(suite.ctx, suite.account.ID, day2)
	suite.Require().NoError(err)

	monthly, err := suite.service.RecomputeMonthlyReport(suite.ctx, suite.account.ID, 2026, time.August)
	suite.Require().NoError(err)

	suite.Equal(2026, monthly.Year)
	suite.Equal(8, monthly.Month)
	suite.Equal(3, monthly.TradeCount)
	suite.Equal("600", monthly.ProfitLoss.String())
	suite.Equal("10000", monthly.StartingBalance.String())
	suite.Equal("10597", monthly.EndingBalance.String())
	// 2 wins out of 3 decided trades.
	suite.Equal("66.67", monthly.WinRate.String())
}

func (suite *ReportTestSuite) TestEmptyMonth() {
	monthly, err := suite.service.RecomputeMonthlyReport(suite.ctx, suite.account.ID, 2026, time.January)
	suite.Require().NoError(err)
	suite.Equal(0, monthly.TradeCount)
	suite.Equal("10000", monthly.StartingBalance.String())
	suite.Equal("10000", monthly.EndingBalance.String())
}
