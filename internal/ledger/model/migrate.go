package model

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the ledger schema
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Account{},
		&Symbol{},
		&TradeLog{},
		&AccountTransaction{},
		&Position{},
		&DailyReport{},
		&MonthlyReport{},
		&RiskRule{},
		&RiskAlert{},
		&RiskSnapshot{},
	); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}
