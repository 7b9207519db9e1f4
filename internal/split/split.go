// Package split owns the per-broker split rows of a payment. Splits are
// always derived from the payment's stored amount, never from a freshly
// recalculated one, so an overridden payment's pin is honored all the way
// down to the broker level.
package split

import (
	"fmt"
	"time"

	"github.com/dealpoint/commission-api/internal/derivation"
	"github.com/dealpoint/commission-api/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// Propagator rewrites a payment's split rows from its stored AGCI and the
// deal's current commission templates.
type Propagator struct{}

// NewPropagator creates a split propagator.
func NewPropagator() *Propagator {
	return &Propagator{}
}

// ValidateTemplateSums checks that no percentage category exceeds 100
// across a deal's template rows. Violations surface as
// ErrTemplateSumExceeded, never a silent clamp.
func ValidateTemplateSums(templates []types.CommissionTemplate) error {
	var origination, site, deal decimal.Decimal
	for _, t := range templates {
		origination = origination.Add(t.SplitOriginationPercent)
		site = site.Add(t.SplitSitePercent)
		deal = deal.Add(t.SplitDealPercent)
	}
	for name, sum := range map[string]decimal.Decimal{
		"origination": origination,
		"site":        site,
		"deal":        deal,
	} {
		if sum.GreaterThan(hundred) {
			return fmt.Errorf("%w: %s splits sum to %s",
				types.ErrTemplateSumExceeded, name, sum)
		}
	}
	return nil
}

// Propagate deletes and reinserts the payment's split rows inside tx. Each
// broker's dollar amount is their combined template percentage applied to
// the payment's stored AGCI; the template percentages are copied onto the
// rows as a snapshot. When the templates allocate the full 100%, the last
// broker row absorbs the rounding remainder so the splits reconcile to
// AGCI exactly.
func (p *Propagator) Propagate(tx *gorm.DB, payment *types.Payment, templates []types.CommissionTemplate) error {
	logger := log.With().
		Str("payment_id", payment.PaymentID).
		Str("deal_id", payment.DealID).
		Str("service", "split").
		Logger()

	if err := ValidateTemplateSums(templates); err != nil {
		logger.Error().Err(err).Msg("template sums exceed 100, refusing to propagate")
		return err
	}

	if err := tx.Where("payment_id = ?", payment.PaymentID).
		Delete(&types.PaymentSplit{}).Error; err != nil {
		return fmt.Errorf("failed to clear existing splits: %w", err)
	}

	if len(templates) == 0 {
		logger.Debug().Msg("no commission templates for deal, payment keeps zero splits")
		return nil
	}

	var totalPercent decimal.Decimal
	for _, t := range templates {
		totalPercent = totalPercent.Add(brokerPercent(t))
	}

	now := time.Now()
	allocated := decimal.Zero
	splits := make([]types.PaymentSplit, 0, len(templates))
	for i, t := range templates {
		amount := derivation.PercentOf(payment.AGCI, brokerPercent(t))
		if i == len(templates)-1 && totalPercent.Equal(hundred) {
			amount = payment.AGCI.Sub(allocated)
		}
		allocated = allocated.Add(amount)

		splits = append(splits, types.PaymentSplit{
			SplitID:                 "SPL_" + uuid.New().String(),
			PaymentID:               payment.PaymentID,
			BrokerID:                t.BrokerID,
			SplitOriginationPercent: t.SplitOriginationPercent,
			SplitSitePercent:        t.SplitSitePercent,
			SplitDealPercent:        t.SplitDealPercent,
			SplitAmountUSD:          amount,
			CreatedAt:               now,
			UpdatedAt:               now,
		})
	}

	if err := tx.Create(&splits).Error; err != nil {
		return fmt.Errorf("failed to insert splits: %w", err)
	}

	if err := reconcile(payment, allocated, totalPercent); err != nil {
		logger.Error().
			Err(err).
			Str("agci", payment.AGCI.String()).
			Str("allocated", allocated.String()).
			Str("total_percent", totalPercent.String()).
			Msg("split reconciliation failed after propagation")
		return err
	}

	logger.Debug().
		Int("brokers", len(splits)).
		Str("allocated", allocated.String()).
		Msg("propagated splits")

	return nil
}

// brokerPercent is the broker's combined share of AGCI across the three
// split categories.
func brokerPercent(t types.CommissionTemplate) decimal.Decimal {
	return t.SplitOriginationPercent.
		Add(t.SplitSitePercent).
		Add(t.SplitDealPercent)
}

// reconcile verifies the written splits sum to the payment's AGCI share of
// the allocated percentage within one cent. A failure here is a bug in the
// engine, not a caller error, and must abort the transaction.
func reconcile(payment *types.Payment, allocated, totalPercent decimal.Decimal) error {
	expected := derivation.PercentOf(payment.AGCI, totalPercent)
	if totalPercent.Equal(hundred) {
		expected = payment.AGCI
	}
	diff := allocated.Sub(expected).Abs()
	if diff.GreaterThan(decimal.New(1, -2)) {
		return fmt.Errorf("%w: payment %s expected %s, allocated %s",
			types.ErrInvariantViolation, payment.PaymentID, expected, allocated)
	}
	return nil
}
