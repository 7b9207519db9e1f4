package template

import (
	"errors"
	"fmt"

	"github.com/dealpoint/commission-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}

// GetDealByID retrieves a deal by its public ID
func (d *Database) GetDealByID(dealID string) (*types.Deal, error) {
	var deal types.Deal
	if err := d.db.Where("deal_id = ?", dealID).First(&deal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrDealNotFound, dealID)
		}
		return nil, fmt.Errorf("failed to fetch deal: %w", err)
	}
	return &deal, nil
}

// GetTemplatesForDeal retrieves a deal's template rows in stable broker order.
func (d *Database) GetTemplatesForDeal(dealID string) ([]types.CommissionTemplate, error) {
	var templates []types.CommissionTemplate
	if err := d.db.Where("deal_id = ?", dealID).
		Order("broker_id ASC").
		Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch commission templates: %w", err)
	}
	return templates, nil
}

// GetTemplate retrieves a single (deal, broker) template row.
func (d *Database) GetTemplate(dealID, brokerID string) (*types.CommissionTemplate, error) {
	var t types.CommissionTemplate
	if err := d.db.Where("deal_id = ? AND broker_id = ?", dealID, brokerID).
		First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTemplate persists a template row.
func (d *Database) SaveTemplate(t *types.CommissionTemplate) error {
	if err := d.db.Save(t).Error; err != nil {
		return fmt.Errorf("failed to save commission template: %w", err)
	}
	return nil
}

// CreateTemplate inserts a new template row.
func (d *Database) CreateTemplate(t *types.CommissionTemplate) error {
	if err := d.db.Create(t).Error; err != nil {
		return fmt.Errorf("failed to create commission template: %w", err)
	}
	return nil
}

// DeleteTemplate removes a broker's template row from a deal.
func (d *Database) DeleteTemplate(t *types.CommissionTemplate) error {
	if err := d.db.Unscoped().Delete(t).Error; err != nil {
		return fmt.Errorf("failed to delete commission template: %w", err)
	}
	return nil
}

// GetActivePaymentsForDeal retrieves the active payments to re-propagate
// after a template write.
func (d *Database) GetActivePaymentsForDeal(dealID string) ([]types.Payment, error) {
	var payments []types.Payment
	if err := d.db.Where("deal_id = ? AND status = ?", dealID, types.PaymentStatusActive).
		Order("sequence ASC").
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active payments: %w", err)
	}
	return payments, nil
}
