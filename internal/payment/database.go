package payment

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

// WithTx returns a Database bound to the given transaction handle so the
// override check and the recompute write happen against the same snapshot.
func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

// Transaction runs fn inside a single transaction. Every mutation touching
// a deal's payments goes through here; an error from fn rolls the whole
// thing back.
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

// GetPaymentsForDeal retrieves every payment of a deal, archived ones
// included, ordered by sequence.
func (d *Database) GetPaymentsForDeal(dealID string) ([]types.Payment, error) {
	var payments []types.Payment
	if err := d.db.Where("deal_id = ?", dealID).
		Order("sequence ASC").
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch payments: %w", err)
	}
	return payments, nil
}

// GetActivePaymentsForDeal retrieves the active schedule ordered by sequence.
func (d *Database) GetActivePaymentsForDeal(dealID string) ([]types.Payment, error) {
	var payments []types.Payment
	if err := d.db.Where("deal_id = ? AND status = ?", dealID, types.PaymentStatusActive).
		Order("sequence ASC").
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active payments: %w", err)
	}
	return payments, nil
}

// GetActivePayment retrieves an active payment by its public ID. Archived
// or unknown IDs both come back as ErrPaymentNotFound: the override surface
// only ever addresses live schedule rows.
func (d *Database) GetActivePayment(paymentID string) (*types.Payment, error) {
	var payment types.Payment
	if err := d.db.Where("payment_id = ? AND status = ?", paymentID, types.PaymentStatusActive).
		First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrPaymentNotFound, paymentID)
		}
		return nil, fmt.Errorf("failed to fetch payment: %w", err)
	}
	return &payment, nil
}

// GetPayment retrieves a payment by public ID regardless of lifecycle state.
func (d *Database) GetPayment(paymentID string) (*types.Payment, error) {
	var payment types.Payment
	if err := d.db.Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrPaymentNotFound, paymentID)
		}
		return nil, fmt.Errorf("failed to fetch payment: %w", err)
	}
	return &payment, nil
}

// SavePayment persists a payment row.
func (d *Database) SavePayment(payment *types.Payment) error {
	if err := d.db.Save(payment).Error; err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// CreatePayment inserts a new payment row.
func (d *Database) CreatePayment(payment *types.Payment) error {
	if err := d.db.Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetTemplatesForDeal retrieves the deal's commission template rows in a
// stable order so rounding-remainder assignment is deterministic.
func (d *Database) GetTemplatesForDeal(dealID string) ([]types.CommissionTemplate, error) {
	var templates []types.CommissionTemplate
	if err := d.db.Where("deal_id = ?", dealID).
		Order("broker_id ASC").
		Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch commission templates: %w", err)
	}
	return templates, nil
}

// GetSplitsForPayment retrieves the stored split rows of a payment.
func (d *Database) GetSplitsForPayment(paymentID string) ([]types.PaymentSplit, error) {
	var splits []types.PaymentSplit
	if err := d.db.Where("payment_id = ?", paymentID).
		Order("broker_id ASC").
		Find(&splits).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch splits: %w", err)
	}
	return splits, nil
}
