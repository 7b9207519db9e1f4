package payment

import (
	"fmt"
	"time"

	"github.com/dealpoint/commission-api/internal/derivation"
	"github.com/dealpoint/commission-api/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger is the single source of truth for whether a payment's amount may
// change automatically. Setting a pin writes the new amount in the same
// UPDATE that stamps the audit fields, so there is never a state where the
// pin exists but the old amount is still live.
type Ledger struct{}

// NewLedger creates an override ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Set pins the payment at amount on behalf of actor. AGCI is re-derived
// from the pinned amount so the referral fee comes off the value the user
// actually chose. Runs inside the caller's transaction.
func (l *Ledger) Set(tx *gorm.DB, payment *types.Payment, amount decimal.Decimal, actor string, referralFeePercent decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: override amount must not be negative, got %s",
			types.ErrInvalidInput, amount)
	}

	now := time.Now()
	payment.PaymentAmount = amount
	payment.AGCI = derivation.AGCIForAmount(amount, referralFeePercent)
	payment.OverriddenAt = &now
	payment.OverriddenBy = actor
	payment.UpdatedAt = now

	if err := tx.Save(payment).Error; err != nil {
		return fmt.Errorf("failed to persist override: %w", err)
	}

	log.Info().
		Str("payment_id", payment.PaymentID).
		Str("deal_id", payment.DealID).
		Int("sequence", payment.Sequence).
		Str("amount", amount.String()).
		Str("actor", actor).
		Str("service", "override_ledger").
		Msg("payment amount pinned")

	return nil
}

// Clear unpins the payment. It deliberately does not recompute the amount;
// the payment manager follows up with a recompute in the same transaction.
func (l *Ledger) Clear(tx *gorm.DB, payment *types.Payment) error {
	payment.OverriddenAt = nil
	payment.OverriddenBy = ""
	payment.UpdatedAt = time.Now()

	if err := tx.Save(payment).Error; err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}

	log.Info().
		Str("payment_id", payment.PaymentID).
		Str("deal_id", payment.DealID).
		Int("sequence", payment.Sequence).
		Str("service", "override_ledger").
		Msg("payment override cleared")

	return nil
}

// IsOverridden reports whether the payment's amount is pinned.
func (l *Ledger) IsOverridden(payment *types.Payment) bool {
	return payment.IsOverridden()
}
