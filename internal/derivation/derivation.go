// Package derivation computes per-payment dollar amounts from a deal's fee
// and commission percentages. Everything here is pure: no state, no
// database, decimals in and decimals out. Currency amounts are rounded
// half-up to cents, and the rounding remainder of the fee division is
// assigned to the last sequence so the schedule always sums exactly to the
// fee.
package derivation

import (
	"fmt"

	"github.com/dealpoint/commission-api/internal/types"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
)

// Inputs are the deal-level parameters every derivation starts from.
type Inputs struct {
	Fee                decimal.Decimal
	NumberOfPayments   int
	ReferralFeePercent decimal.Decimal
	HousePercent       decimal.Decimal
	OriginationPercent decimal.Decimal
	SitePercent        decimal.Decimal
	DealPercent        decimal.Decimal
}

// Derivation is the full set of derived dollar values for one payment
// sequence.
type Derivation struct {
	Sequence       int
	BaseAmount     decimal.Decimal // this payment's share of the fee (GCI)
	ReferralFeeUSD decimal.Decimal
	AGCI           decimal.Decimal // base amount minus referral fee
	HouseUSD       decimal.Decimal
	OriginationUSD decimal.Decimal
	SiteUSD        decimal.Decimal
	DealUSD        decimal.Decimal
}

// Validate rejects inputs the engine must never derive from: a non-positive
// payment count, a negative fee, or any percentage outside [0, 100].
func Validate(in Inputs) error {
	if in.NumberOfPayments <= 0 {
		return fmt.Errorf("%w: number_of_payments must be positive, got %d",
			types.ErrInvalidInput, in.NumberOfPayments)
	}
	if in.Fee.IsNegative() {
		return fmt.Errorf("%w: fee must not be negative, got %s",
			types.ErrInvalidInput, in.Fee)
	}
	percents := map[string]decimal.Decimal{
		"referral_fee_percent": in.ReferralFeePercent,
		"house_percent":        in.HousePercent,
		"origination_percent":  in.OriginationPercent,
		"site_percent":         in.SitePercent,
		"deal_percent":         in.DealPercent,
	}
	for name, p := range percents {
		if err := ValidatePercent(name, p); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePercent checks a single percentage is within [0, 100].
func ValidatePercent(name string, p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s must be between 0 and 100, got %s",
			types.ErrInvalidInput, name, p)
	}
	return nil
}

// Distribute splits total evenly across count shares rounded to cents,
// assigning the rounding remainder to the last share so the shares always
// sum exactly to total. This is the one place schedule money is divided:
// the payment manager runs it over whatever pool of unpinned payments is
// left after overrides take their fixed amounts off the top.
func Distribute(total decimal.Decimal, count int) []decimal.Decimal {
	if count <= 0 {
		return nil
	}
	per := total.Div(decimal.NewFromInt(int64(count))).Round(2)
	shares := make([]decimal.Decimal, count)
	running := decimal.Zero
	for i := 0; i < count-1; i++ {
		shares[i] = per
		running = running.Add(per)
	}
	shares[count-1] = total.Sub(running)
	return shares
}

// PaymentBaseAmount returns sequence's share of fee split across n payments.
// Every sequence but the last gets fee/n rounded to cents; the last absorbs
// the rounding remainder so the shares sum exactly to fee.
func PaymentBaseAmount(fee decimal.Decimal, n, sequence int) decimal.Decimal {
	per := fee.Div(decimal.NewFromInt(int64(n))).Round(2)
	if sequence == n {
		return fee.Sub(per.Mul(decimal.NewFromInt(int64(n - 1))))
	}
	return per
}

// Derive computes the full derivation for one payment sequence.
func Derive(in Inputs, sequence int) (*Derivation, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if sequence < 1 || sequence > in.NumberOfPayments {
		return nil, fmt.Errorf("%w: sequence %d outside 1..%d",
			types.ErrInvalidInput, sequence, in.NumberOfPayments)
	}

	base := PaymentBaseAmount(in.Fee, in.NumberOfPayments, sequence)
	referral := PercentOf(base, in.ReferralFeePercent)
	agci := base.Sub(referral)

	return &Derivation{
		Sequence:       sequence,
		BaseAmount:     base,
		ReferralFeeUSD: referral,
		AGCI:           agci,
		HouseUSD:       PercentOf(agci, in.HousePercent),
		OriginationUSD: PercentOf(agci, in.OriginationPercent),
		SiteUSD:        PercentOf(agci, in.SitePercent),
		DealUSD:        PercentOf(agci, in.DealPercent),
	}, nil
}

// AGCIForAmount derives AGCI from an explicit payment amount, used when an
// override pins the amount and the referral fee has to be taken off the
// pinned value rather than a recalculated one.
func AGCIForAmount(amount, referralFeePercent decimal.Decimal) decimal.Decimal {
	return amount.Sub(PercentOf(amount, referralFeePercent))
}

// PercentOf converts a percentage of base into dollars, rounded half-up to
// cents. shopspring's Round rounds half away from zero, which is half-up
// for the non-negative amounts this engine works with.
func PercentOf(base, percent decimal.Decimal) decimal.Decimal {
	return base.Mul(percent).Div(hundred).Round(2)
}
