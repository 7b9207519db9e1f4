package database

import (
	"fmt"

	"github.com/dealpoint/commission-api/internal/database/migrations"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "commission.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations in order
	if err := migrations.AddPaymentSchedule(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddPaymentSplits(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
