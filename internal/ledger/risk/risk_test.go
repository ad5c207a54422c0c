package risk

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

	"github.com/quantlog/tradeledger/internal/database"
	"github.com/quantlog/tradeledger/internal/ledger/model"
	"github.com/quantlog/tradeledger/internal/ledger/notify"
)

type capturePublisher struct {
	alerts []*notify.AlertEvent
}

func (p *capturePublisher) TradeSettled(ctx context.Context, event *notify.TradeSettledEvent) error {
	return nil
}

func (p *capturePublisher) AlertRaised(ctx context.Context, event *notify.AlertEvent) error {
	p.alerts = append(p.alerts, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type RiskTestSuite struct {
	suite.Suite
	ctx       context.Context
	db        *gorm.DB
	logger    *zap.Logger
	publisher *capturePublisher
	engine    *Engine
	account   *model.Account
	symbol    *model.Symbol
}

func TestRiskSuite(t *testing.T) {
	suite.Run(t, new(RiskTestSuite))
}

func (suite *RiskTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.logger = zaptest.NewLogger(suite.T())

	db, err := database.NewSQLiteDB("file::memory:")
	suite.Require().NoError(err)
	suite.Require().NoError(model.AutoMigrate(db))
	suite.db = db

	suite.publisher = &capturePublisher{}
	suite.engine = NewEngine(db, suite.publisher, time.Hour, suite.logger)

	suite.account = &model.Account{
		ID:               uuid.New(),
		OwnerID:          uuid.New(),
		Name:             "risk-test",
		AccountType:      model.AccountTypeStock,
		InitialBalance:   decimal.NewFromInt(10000),
		CurrentBalance:   decimal.NewFromInt(10000),
		AvailableBalance: decimal.NewFromInt(10000),
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

func (suite *RiskTestSuite) setBalance(balance string) {
	amount := decimal.RequireFromString(balance)
	suite.Require().NoError(suite.db.Model(suite.account).
		Updates(map[string]interface{}{"current_balance": amount, "available_balance": amount}).Error)
	suite.account.CurrentBalance = amount
	suite.account.AvailableBalance = amount
}

func (suite *RiskTestSuite) addRule(ruleType, level string, thresholdValue, thresholdPercent string) *model.RiskRule {
	rule := &model.RiskRule{
		ID:               uuid.New(),
		AccountID:        suite.account.ID,
		RuleType:         ruleType,
		Level:            level,
		ThresholdValue:   decimal.RequireFromString(thresholdValue),
		ThresholdPercent: decimal.RequireFromString(thresholdPercent),
		Action:           model.RuleActionAlert,
		Enabled:          true,
	}
	suite.Require().NoError(suite.db.Create(rule).Error)
	return rule
}

func (suite *RiskTestSuite) insertFilled(at time.Time, realized string) {
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
		TradeTime:   at,
		SettledAt:   &settled,
	}
	suite.Require().NoError(suite.db.Create(trade).Error)
}

func (suite *RiskTestSuite) activeAlertCount() int64 {
	var count int64
	suite.db.Model(&model.RiskAlert{}).
		Where("account_id = ? AND status = ?", suite.account.ID, model.AlertStatusActive).
		Count(&count)
	return count
}

func (suite *RiskTestSuite) TestDailyLossAlert() {
	suite.addRule(model.RuleDailyLossLimit, model.LevelWarning, "0", "5")
	suite.insertFilled(time.Now().UTC(), "-600")
	suite.setBalance("9400")

	snapshot, alerts, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)

	suite.Require().Len(alerts, 1)
	suite.Equal(model.RuleDailyLossLimit, alerts[0].AlertType)
	suite.Equal("600", alerts[0].CurrentValue.String())
	suite.Equal("500", alerts[0].ThresholdValue.String())
	suite.Equal("-600", snapshot.DailyPnL.String())
	suite.Equal("-6", snapshot.DailyPnLPercent.String())
	suite.Len(suite.publisher.alerts, 1)
}

func (suite *RiskTestSuite) TestAlertDeduplicatedWithinCooldown() {
	suite.addRule(model.RuleDailyLossLimit, model.LevelWarning, "0", "5")
	suite.insertFilled(time.Now().UTC(), "-600")
	suite.setBalance("9400")

	_, first, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)
	suite.Len(first, 1)

	_, second, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)
	suite.Empty(second)

	suite.Equal(int64(1), suite.activeAlertCount())
}

func (suite *RiskTestSuite) TestAlertFiresAgainAfterCooldown() {
	rule := suite.addRule(model.RuleDailyLossLimit, model.LevelWarning, "0", "5")
	suite.insertFilled(time.Now().UTC(), "-600")
	suite.setBalance("9400")

	_, first, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)
	suite.Require().Len(first, 1)

	// Age the existing alert past the cool-down window.
	stale := time.Now().Add(-2 * time.Hour)
	suite.Require().NoError(suite.db.Model(&model.RiskAlert{}).
		Where("rule_id = ?", rule.ID).
		Update("triggered_at", stale).Error)

	_, second, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)
	suite.Len(second, 1)
	suite.Equal(int64(2), suite.activeAlertCount())
}

func (suite *RiskTestSuite) TestDailyTradeLimit() {
	suite.addRule(model.RuleDailyTradeLimit, model.LevelInfo, "3", "0")
	now := time.Now().UTC()
	suite.insertFilled(now.Add(-3*time.Minute), "0")
	suite.insertFilled(now.Add(-2*time.Minute), "0")

	_, alerts, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)
	suite.Empty(alerts)

	suite.insertFilled(now.Add(-time.Minute), "0")
	snapshot, alerts, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)
	suite.Require().Len(alerts, 1)
	suite.Equal(model.RuleDailyTradeLimit, alerts[0].AlertType)
	suite.Equal(3, snapshot.DailyTradeCount)
}

func (suite *RiskTestSuite) TestConsecutiveLossStreak() {
	suite.addRule(model.RuleConsecutiveLosses, model.LevelWarning, "3", "0")
	now := time.Now().UTC()
	suite.insertFilled(now.Add(-4*time.Minute), "50")
	suite.insertFilled(now.Add(-3*time.Minute), "-10")
	suite.insertFilled(now.Add(-2*time.Minute), "0") // open, does not decide
	suite.insertFilled(now.Add(-90*time.Second), "-20")
	suite.insertFilled(now.Add(-time.Minute), "-30")

	snapshot, alerts, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)

	suite.Equal(3, snapshot.ConsecutiveLosses)
	suite.Equal(0, snapshot.ConsecutiveWins)
	suite.Require().Len(alerts, 1)
	suite.Equal(model.RuleConsecutiveLosses, alerts[0].AlertType)
}

func (suite *RiskTestSuite) TestDrawdownSnapshotAndAlert() {
	suite.addRule(model.RuleMaxDrawdown, model.LevelCritical, "10", "0")
	suite.setBalance("8800")

	snapshot, alerts, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)

	suite.Equal("10000", snapshot.PeakBalance.String())
	suite.Equal("1200", snapshot.CurrentDrawdown.String())
	suite.Equal("12", snapshot.CurrentDrawdownPercent.String())
	suite.Equal("1200", snapshot.MaxDrawdown.String())
	suite.Require().Len(alerts, 1)
	suite.Equal(model.RuleMaxDrawdown, alerts[0].AlertType)

	// Drawdown >= 10% alone scores 30: warning is not yet reached.
	suite.Equal(30, snapshot.RiskScore)
	suite.Equal(model.RiskLevelSafe, snapshot.RiskLevel)
}

func (suite *RiskTestSuite) TestPositionRatioAlert() {
	suite.addRule(model.RuleMaxPositionRatio, model.LevelWarning, "90", "0")
	position := &model.Position{
		ID:          uuid.New(),
		AccountID:   suite.account.ID,
		SymbolID:    suite.symbol.ID,
		Quantity:    decimal.NewFromInt(100),
		AvgPrice:    decimal.NewFromInt(95),
		MarketValue: decimal.NewFromInt(9500),
	}
	suite.Require().NoError(suite.db.Create(position).Error)

	snapshot, alerts, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)

	suite.Equal("9500", snapshot.TotalPositionValue.String())
	suite.Equal("95", snapshot.PositionRatio.String())
	suite.Require().Len(alerts, 1)
	suite.Equal(model.RuleMaxPositionRatio, alerts[0].AlertType)
}

func (suite *RiskTestSuite) TestDisabledRuleIgnored() {
	rule := suite.addRule(model.RuleDailyLossLimit, model.LevelWarning, "0", "5")
	suite.Require().NoError(suite.db.Model(rule).Update("enabled", false).Error)
	suite.insertFilled(time.Now().UTC(), "-600")
	suite.setBalance("9400")

	_, alerts, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)
	suite.Empty(alerts)
}

func (suite *RiskTestSuite) TestSnapshotUpsertedPerDay() {
	_, _, err := suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)
	_, _, err = suite.engine.EvaluateRisk(suite.ctx, suite.account.ID)
	suite.Require().NoError(err)

	var count int64
	suite.db.Model(&model.RiskSnapshot{}).Where("account_id = ?", suite.account.ID).Count(&count)
	suite.Equal(int64(1), count)
}

func (suite *RiskTestSuite) TestSweepSkipsInactiveAccounts() {
	inactive := &model.Account{
		ID:             uuid.New(),
		OwnerID:        uuid.New(),
		Name:           "closed-account",
		AccountType:    model.AccountTypeStock,
		InitialBalance: decimal.NewFromInt(1000),
		CurrentBalance: decimal.NewFromInt(1000),
		Status:         model.AccountStatusClosed,
	}
	suite.Require().NoError(suite.db.Create(inactive).Error)

	suite.Require().NoError(suite.engine.Sweep(suite.ctx))

	var count int64
	suite.db.Model(&model.RiskSnapshot{}).Count(&count)
	suite.Equal(int64(1), count)

	suite.db.Model(&model.RiskSnapshot{}).Where("account_id = ?", suite.account.ID).Count(&count)
	suite.Equal(int64(1), count)
}
