package migrations

import (
	"github.com/dealpoint/commission-api/internal/types"
	"gorm.io/gorm"
)

// AddPaymentSplits creates the commission template and payment split tables.
func AddPaymentSplits(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.CommissionTemplate{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.PaymentSplit{}); err != nil {
		return err
	}

	indexes := []string{
		// Split rewrites delete-and-reinsert by payment
		`CREATE INDEX IF NOT EXISTS idx_payment_splits_payment_id
		 ON payment_splits(payment_id)`,

		// Template loads are always per deal
		`CREATE INDEX IF NOT EXISTS idx_commission_templates_deal_id
		 ON commission_templates(deal_id)`,

		// Broker-centric reporting joins on broker across deals
		`CREATE INDEX IF NOT EXISTS idx_payment_splits_broker_id
		 ON payment_splits(broker_id)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
