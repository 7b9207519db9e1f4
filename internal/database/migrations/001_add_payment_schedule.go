package migrations

import (
	"github.com/dealpoint/commission-api/internal/types"
	"gorm.io/gorm"
)

// AddPaymentSchedule creates the deal and payment tables plus the indexes
// the schedule synchronizer leans on.
func AddPaymentSchedule(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Deal{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.Payment{}); err != nil {
		return err
	}

	// Raw SQL for index creation to control the index shapes
	indexes := []string{
		// Schedule reads always filter by deal and order by sequence
		`CREATE INDEX IF NOT EXISTS idx_payments_deal_id
		 ON payments(deal_id)`,

		// Active-schedule listing filters on lifecycle state
		`CREATE INDEX IF NOT EXISTS idx_payments_status
		 ON payments(status)`,

		// Override audits are queried by actor
		`CREATE INDEX IF NOT EXISTS idx_payments_overridden_by
		 ON payments(overridden_by)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
