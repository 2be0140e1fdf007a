package database

import (
	"gorm.io/gorm"

	"github.com/supergidii/Loans/models"
)

// Models lists every table owned by the service.
func Models() []interface{} {
	return []interface{}{
		&models.Investor{},
		&models.Investment{},
		&models.Pairing{},
		&models.ReferralEarning{},
		&models.InvestmentSale{},
	}
}

// Migrate runs AutoMigrate for all models inside a transaction where the
// driver supports transactional DDL.
func Migrate(db *gorm.DB) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := tx.AutoMigrate(Models()...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}
