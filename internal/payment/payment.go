// Package payment owns a deal's payment schedule: it creates, archives and
// reactivates payment rows as the schedule changes, recomputes amounts for
// payments that are not pinned, and hands every changed payment to the
// split propagator. The override ledger lives here too, because the pin
// check and the recalculated-amount write have to share one transaction.
package payment

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dealpoint/commission-api/internal/derivation"
	"github.com/dealpoint/commission-api/internal/split"
	"github.com/dealpoint/commission-api/internal/types"
	"github.com/dealpoint/commission-api/pkg/response"
)

// Service is the payment manager for all deals.
type Service struct {
	db         *Database
	ledger     *Ledger
	propagator *split.Propagator
}

// NewService creates a payment manager with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		ledger:     NewLedger(),
		propagator: split.NewPropagator(),
	}
}

// Ledger exposes the override ledger, mainly for collaborating services.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// DerivationInputs maps a deal row onto the calculator's input set.
func DerivationInputs(deal *types.Deal) derivation.Inputs {
	return derivation.Inputs{
		Fee:                deal.Fee,
		NumberOfPayments:   deal.NumberOfPayments,
		ReferralFeePercent: deal.ReferralFeePercent,
		HousePercent:       deal.HousePercent,
		OriginationPercent: deal.OriginationPercent,
		SitePercent:        deal.SitePercent,
		DealPercent:        deal.DealPercent,
	}
}

// SyncSchedule reconciles a deal's payment rows with its current fee,
// payment count and percentages. It runs inside the caller's transaction:
//   - sequences up to number_of_payments are created or reactivated as
//     needed; archived rows resurface with their override state intact
//   - sequences beyond number_of_payments are archived, never deleted, and
//     keep their override flags
//   - pinned payments keep their amounts; the fee that remains after
//     subtracting every pinned amount is distributed evenly across the
//     unpinned payments, remainder to the last of them, so the active
//     schedule always sums exactly to the fee
//   - every payment whose amount changed, plus created and reactivated
//     ones, is re-propagated to splits
func (s *Service) SyncSchedule(tx *gorm.DB, deal *types.Deal) error {
	logger := log.With().
		Str("deal_id", deal.DealID).
		Str("service", "payment_manager").
		Logger()

	inputs := DerivationInputs(deal)
	if err := derivation.Validate(inputs); err != nil {
		return err
	}

	d := s.db.WithTx(tx)
	existing, err := d.GetPaymentsForDeal(deal.DealID)
	if err != nil {
		return err
	}

	bySequence := make(map[int]*types.Payment, len(existing))
	for i := range existing {
		bySequence[existing[i].Sequence] = &existing[i]
	}

	// Assemble the active schedule: create missing sequences, reactivate
	// archived ones, and archive everything past the new count.
	var touched []*types.Payment
	var unpinned []*types.Payment
	pinnedSum := decimal.Zero
	for seq := 1; seq <= deal.NumberOfPayments; seq++ {
		p, exists := bySequence[seq]
		if !exists {
			p = &types.Payment{
				PaymentID: "PAY_" + uuid.New().String(),
				DealID:    deal.DealID,
				Sequence:  seq,
				Status:    types.PaymentStatusActive,
			}
			if err := d.CreatePayment(p); err != nil {
				return err
			}
			logger.Debug().Int("sequence", seq).Msg("created payment")
			touched = append(touched, p)
			unpinned = append(unpinned, p)
			continue
		}

		if p.Status == types.PaymentStatusArchived {
			p.Status = types.PaymentStatusActive
			if err := d.SavePayment(p); err != nil {
				return err
			}
			logger.Debug().
				Int("sequence", seq).
				Bool("overridden", p.IsOverridden()).
				Msg("reactivated payment")
			touched = append(touched, p)
		}

		if s.ledger.IsOverridden(p) {
			// Pinned amounts survive every upstream change; they come off
			// the fee before anything is distributed.
			pinnedSum = pinnedSum.Add(p.PaymentAmount)
			continue
		}
		unpinned = append(unpinned, p)
	}

	for seq, p := range bySequence {
		if seq <= deal.NumberOfPayments || p.Status != types.PaymentStatusActive {
			continue
		}
		p.Status = types.PaymentStatusArchived
		if err := d.SavePayment(p); err != nil {
			return err
		}
		logger.Debug().
			Int("sequence", seq).
			Bool("overridden", p.IsOverridden()).
			Msg("archived payment")
	}

	remaining := deal.Fee.Sub(pinnedSum)
	if remaining.IsNegative() {
		return fmt.Errorf("%w: pinned amounts %s exceed deal fee %s",
			types.ErrInvalidInput, pinnedSum, deal.Fee)
	}

	shares := derivation.Distribute(remaining, len(unpinned))
	for i, p := range unpinned {
		amount := shares[i]
		agci := derivation.AGCIForAmount(amount, deal.ReferralFeePercent)
		if p.PaymentAmount.Equal(amount) && p.AGCI.Equal(agci) {
			continue
		}
		p.PaymentAmount = amount
		p.AGCI = agci
		if err := d.SavePayment(p); err != nil {
			return err
		}
		logger.Debug().
			Int("sequence", p.Sequence).
			Str("amount", amount.String()).
			Msg("recomputed payment")
		if !containsPayment(touched, p) {
			touched = append(touched, p)
		}
	}

	if len(touched) == 0 {
		return nil
	}

	templates, err := d.GetTemplatesForDeal(deal.DealID)
	if err != nil {
		return err
	}
	for _, p := range touched {
		if err := s.propagator.Propagate(tx, p, templates); err != nil {
			return err
		}
	}

	logger.Info().
		Int("number_of_payments", deal.NumberOfPayments).
		Int("repropagated", len(touched)).
		Str("fee", deal.Fee.String()).
		Msg("payment schedule synchronized")

	return nil
}

// Override pins a payment at amount on behalf of actor and rebuilds that
// payment's splits from the pinned value, all in one transaction.
func (s *Service) Override(paymentID string, amount decimal.Decimal, actor string) (*types.PaymentView, error) {
	var view *types.PaymentView
	err := s.db.Transaction(func(tx *gorm.DB) error {
		d := s.db.WithTx(tx)
		p, err := d.GetActivePayment(paymentID)
		if err != nil {
			return err
		}
		deal, err := d.GetDealByID(p.DealID)
		if err != nil {
			return err
		}
		if err := s.ledger.Set(tx, p, amount, actor, deal.ReferralFeePercent); err != nil {
			return err
		}
		templates, err := d.GetTemplatesForDeal(p.DealID)
		if err != nil {
			return err
		}
		if err := s.propagator.Propagate(tx, p, templates); err != nil {
			return err
		}
		view = toView(p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ClearOverride unpins a payment and resynchronizes the deal's schedule,
// so the cleared payment comes back at exactly the amount it would hold
// had the pin never been set against the current inputs.
func (s *Service) ClearOverride(paymentID string) (*types.PaymentView, error) {
	var view *types.PaymentView
	err := s.db.Transaction(func(tx *gorm.DB) error {
		d := s.db.WithTx(tx)
		p, err := d.GetActivePayment(paymentID)
		if err != nil {
			return err
		}
		deal, err := d.GetDealByID(p.DealID)
		if err != nil {
			return err
		}
		if err := s.ledger.Clear(tx, p); err != nil {
			return err
		}
		if err := s.SyncSchedule(tx, deal); err != nil {
			return err
		}

		refreshed, err := d.GetActivePayment(paymentID)
		if err != nil {
			return err
		}
		view = toView(refreshed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListActivePayments returns the stored schedule of a deal. Amounts come
// straight from the rows; nothing is recomputed on read.
func (s *Service) ListActivePayments(dealID string) ([]types.PaymentView, error) {
	if _, err := s.db.GetDealByID(dealID); err != nil {
		return nil, err
	}
	payments, err := s.db.GetActivePaymentsForDeal(dealID)
	if err != nil {
		return nil, err
	}
	views := make([]types.PaymentView, 0, len(payments))
	for i := range payments {
		views = append(views, *toView(&payments[i]))
	}
	return views, nil
}

// ListSplits returns the stored split rows of a payment.
func (s *Service) ListSplits(paymentID string) ([]types.SplitView, error) {
	if _, err := s.db.GetPayment(paymentID); err != nil {
		return nil, err
	}
	splits, err := s.db.GetSplitsForPayment(paymentID)
	if err != nil {
		return nil, err
	}
	views := make([]types.SplitView, 0, len(splits))
	for _, sp := range splits {
		views = append(views, types.SplitView{
			BrokerID:       sp.BrokerID,
			SplitAmountUSD: sp.SplitAmountUSD,
		})
	}
	return views, nil
}

func containsPayment(set []*types.Payment, p *types.Payment) bool {
	for _, q := range set {
		if q.PaymentID == p.PaymentID {
			return true
		}
	}
	return false
}

func toView(p *types.Payment) *types.PaymentView {
	return &types.PaymentView{
		PaymentID:     p.PaymentID,
		Sequence:      p.Sequence,
		PaymentAmount: p.PaymentAmount,
		AGCI:          p.AGCI,
		IsOverridden:  p.IsOverridden(),
	}
}

// OverrideRequest is the external override contract.
type OverrideRequest struct {
	NewAmount decimal.Decimal `json:"new_amount" binding:"required"`
	ActorID   string          `json:"actor_id"`
}

// GinHandlers contains HTTP handlers for payment endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for payment endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListPaymentsHandler handles GET requests for a deal's active payments
// URL parameter: deal_id
func (h *GinHandlers) ListPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dealID := c.Param("deal_id")

		payments, err := h.service.ListActivePayments(dealID)
		response.Handle(c, payments, err)
	}
}

// ListSplitsHandler handles GET requests for a payment's split rows
// URL parameter: payment_id
func (h *GinHandlers) ListSplitsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := c.Param("payment_id")

		splits, err := h.service.ListSplits(paymentID)
		response.Handle(c, splits, err)
	}
}

// OverrideHandler handles POST requests to pin a payment's amount
// Requires internal authentication; actor defaults to the caller's client ID
// URL parameter: payment_id
func (h *GinHandlers) OverrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := c.Param("payment_id")

		var req OverrideRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		actor := req.ActorID
		if actor == "" {
			actor = c.GetString("clientID")
		}
		if actor == "" {
			response.BadRequest(c, "actor_id is required")
			return
		}

		view, err := h.service.Override(paymentID, req.NewAmount, actor)
		response.Handle(c, view, err)
	}
}

// ClearOverrideHandler handles DELETE requests to unpin a payment
// URL parameter: payment_id
func (h *GinHandlers) ClearOverrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := c.Param("payment_id")

		view, err := h.service.ClearOverride(paymentID)
		response.Handle(c, view, err)
	}
}
