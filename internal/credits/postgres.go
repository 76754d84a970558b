package credits

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Account is the persistent per-host credit balance.
type Account struct {
	HostID  string `gorm:"primaryKey;column:host_id"`
	Credits int    `gorm:"column:credits;not null"`
}

func (Account) TableName() string { return "ai_credit_accounts" }

// PostgresGate backs the credit gate with a postgres ledger. Deduction is a
// single transaction: either the full AI count is charged or nothing is.
type PostgresGate struct {
	db *gorm.DB
	// DefaultCredits seeds an account row created on first authorization.
	DefaultCredits int
}

func OpenPostgres(dsn string, defaultCredits int) (*PostgresGate, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open credit ledger: %w", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("migrate credit ledger: %w", err)
	}
	return &PostgresGate{db: db, DefaultCredits: defaultCredits}, nil
}

func (g *PostgresGate) Authorize(ctx context.Context, hostID string, aiCount int) (Result, error) {
	if aiCount <= 0 {
		return Result{OK: true}, nil
	}

	var result Result
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct Account
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&acct, "host_id = ?", hostID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			acct = Account{HostID: hostID, Credits: g.DefaultCredits}
			if err := tx.Create(&acct).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if acct.Credits < aiCount {
			result = Result{
				OK:        false,
				Remaining: acct.Credits,
				Message:   fmt.Sprintf("AI玩家额度不足，当前剩余 %d 人次", acct.Credits),
			}
			return nil
		}

		acct.Credits -= aiCount
		if err := tx.Model(&Account{}).Where("host_id = ?", hostID).
			Update("credits", acct.Credits).Error; err != nil {
			return err
		}
		result = Result{
			OK:        true,
			Consumed:  aiCount,
			Remaining: acct.Credits,
			Message:   fmt.Sprintf("已消耗 %d 人次AI额度，剩余 %d 人次", aiCount, acct.Credits),
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("authorize ai credits: %w", err)
	}
	return result, nil
}
