package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentView is the read surface exposed to collaborators. Amounts are the
// stored authoritative values; consumers must never recompute client-side.
type PaymentView struct {
	PaymentID     string          `json:"payment_id"`
	Sequence      int             `json:"sequence"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	AGCI          decimal.Decimal `json:"agci"`
	IsOverridden  bool            `json:"is_overridden"`
}

// SplitView is one broker's share of a payment as stored.
type SplitView struct {
	BrokerID       string          `json:"broker_id"`
	SplitAmountUSD decimal.Decimal `json:"split_amount_usd"`
}

// DealResponse is the deal detail returned by the API.
type DealResponse struct {
	DealID             string          `json:"deal_id"`
	ClientID           string          `json:"client_id"`
	Name               string          `json:"name"`
	Fee                decimal.Decimal `json:"fee"`
	NumberOfPayments   int             `json:"number_of_payments"`
	ReferralFeePercent decimal.Decimal `json:"referral_fee_percent"`
	HousePercent       decimal.Decimal `json:"house_percent"`
	OriginationPercent decimal.Decimal `json:"origination_percent"`
	SitePercent        decimal.Decimal `json:"site_percent"`
	DealPercent        decimal.Decimal `json:"deal_percent"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
