package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment lifecycle states
const (
	PaymentStatusActive   = "ACTIVE"
	PaymentStatusArchived = "ARCHIVED"
)

// Deal holds the commission inputs the engine derives from. The wider CRM
// owns the rest of the deal record; only fee, payment count and the
// percentage fields matter here.
type Deal struct {
	gorm.Model         `json:"-"`
	DealID             string          `gorm:"uniqueIndex" json:"deal_id"`
	ClientID           string          `json:"client_id"`
	Name               string          `json:"name"`
	Fee                decimal.Decimal `gorm:"type:decimal(14,2)" json:"fee"`
	NumberOfPayments   int             `json:"number_of_payments"`
	ReferralFeePercent decimal.Decimal `gorm:"type:decimal(5,2)" json:"referral_fee_percent"`
	HousePercent       decimal.Decimal `gorm:"type:decimal(5,2)" json:"house_percent"`
	OriginationPercent decimal.Decimal `gorm:"type:decimal(5,2)" json:"origination_percent"`
	SitePercent        decimal.Decimal `gorm:"type:decimal(5,2)" json:"site_percent"`
	DealPercent        decimal.Decimal `gorm:"type:decimal(5,2)" json:"deal_percent"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CommissionTemplate is the per-broker percentage split for a deal.
// For a given deal the sum of each percentage column across brokers must
// not exceed 100.
type CommissionTemplate struct {
	gorm.Model              `json:"-"`
	TemplateID              string          `gorm:"uniqueIndex" json:"template_id"`
	DealID                  string          `gorm:"index:idx_templates_deal_broker,unique" json:"deal_id"`
	BrokerID                string          `gorm:"index:idx_templates_deal_broker,unique" json:"broker_id"`
	SplitOriginationPercent decimal.Decimal `gorm:"type:decimal(5,2)" json:"split_origination_percent"`
	SplitSitePercent        decimal.Decimal `gorm:"type:decimal(5,2)" json:"split_site_percent"`
	SplitDealPercent        decimal.Decimal `gorm:"type:decimal(5,2)" json:"split_deal_percent"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// Payment is one scheduled disbursement of a deal's fee. PaymentAmount and
// AGCI are the authoritative stored values used everywhere downstream.
// A payment is overridden exactly when OverriddenAt is non-nil; the pin and
// its audit fields are set and cleared together. Archived payments are kept,
// never deleted, and carry their override state across schedule changes.
type Payment struct {
	gorm.Model    `json:"-"`
	PaymentID     string          `gorm:"uniqueIndex" json:"payment_id"`
	DealID        string          `gorm:"index:idx_payments_deal_sequence,unique" json:"deal_id"`
	Sequence      int             `gorm:"index:idx_payments_deal_sequence,unique" json:"sequence"`
	PaymentAmount decimal.Decimal `gorm:"type:decimal(14,2)" json:"payment_amount"`
	AGCI          decimal.Decimal `gorm:"type:decimal(14,2)" json:"agci"`
	Status        string          `json:"status"` // ACTIVE, ARCHIVED
	OverriddenAt  *time.Time      `json:"overridden_at,omitempty"`
	OverriddenBy  string          `json:"overridden_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsOverridden reports whether the payment amount is pinned against
// automatic recomputation.
func (p *Payment) IsOverridden() bool {
	return p.OverriddenAt != nil
}

// PaymentSplit is one broker's share of one payment. The percentage fields
// are a snapshot of the commission template at propagation time, not a live
// reference. Rows are rewritten wholesale whenever the propagator runs.
type PaymentSplit struct {
	gorm.Model              `json:"-"`
	SplitID                 string          `gorm:"uniqueIndex" json:"split_id"`
	PaymentID               string          `gorm:"index" json:"payment_id"`
	BrokerID                string          `json:"broker_id"`
	SplitOriginationPercent decimal.Decimal `gorm:"type:decimal(5,2)" json:"split_origination_percent"`
	SplitSitePercent        decimal.Decimal `gorm:"type:decimal(5,2)" json:"split_site_percent"`
	SplitDealPercent        decimal.Decimal `gorm:"type:decimal(5,2)" json:"split_deal_percent"`
	SplitAmountUSD          decimal.Decimal `gorm:"type:decimal(14,2)" json:"split_amount_usd"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}
