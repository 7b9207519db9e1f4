package deal

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

// CreateDeal inserts a new deal row.
func (d *Database) CreateDeal(deal *types.Deal) error {
	if err := d.db.Create(deal).Error; err != nil {
		return fmt.Errorf("failed to create deal: %w", err)
	}
	return nil
}

// SaveDeal persists a deal row.
func (d *Database) SaveDeal(deal *types.Deal) error {
	if err := d.db.Save(deal).Error; err != nil {
		return fmt.Errorf("failed to save deal: %w", err)
	}
	return nil
}
