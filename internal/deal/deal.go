// Package deal is the entry point for deal-level input changes. The wider
// CRM owns the deal record; this service persists the fields the engine
// cares about and hands every change to the payment manager inside the
// same transaction, so a fee edit and the recompute it triggers commit or
// roll back together.
package deal

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dealpoint/commission-api/internal/derivation"
	"github.com/dealpoint/commission-api/internal/payment"
	"github.com/dealpoint/commission-api/internal/types"
	"github.com/dealpoint/commission-api/pkg/response"
)

// Service handles deal creation and mutation events.
type Service struct {
	db       *Database
	payments *payment.Service
}

// NewService creates a deal service sharing the payment manager, so
// schedule synchronization happens in the deal write's transaction.
func NewService(gormDB *gorm.DB, payments *payment.Service) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		payments: payments,
	}
}

// CreateRequest carries the commission inputs of a new deal.
type CreateRequest struct {
	Name               string          `json:"name"`
	Fee                decimal.Decimal `json:"fee"`
	NumberOfPayments   int             `json:"number_of_payments" binding:"required"`
	ReferralFeePercent decimal.Decimal `json:"referral_fee_percent"`
	HousePercent       decimal.Decimal `json:"house_percent"`
	OriginationPercent decimal.Decimal `json:"origination_percent"`
	SitePercent        decimal.Decimal `json:"site_percent"`
	DealPercent        decimal.Decimal `json:"deal_percent"`
}

// ChangeRequest is a deal mutation event: any subset of the engine's
// upstream inputs. Nil fields are unchanged.
type ChangeRequest struct {
	Fee                *decimal.Decimal `json:"fee"`
	NumberOfPayments   *int             `json:"number_of_payments"`
	ReferralFeePercent *decimal.Decimal `json:"referral_fee_percent"`
	HousePercent       *decimal.Decimal `json:"house_percent"`
	OriginationPercent *decimal.Decimal `json:"origination_percent"`
	SitePercent        *decimal.Decimal `json:"site_percent"`
	DealPercent        *decimal.Decimal `json:"deal_percent"`
}

// Create validates the inputs, writes the deal and builds its initial
// payment schedule in one transaction.
func (s *Service) Create(clientID string, req CreateRequest) (*types.DealResponse, error) {
	logger := log.With().
		Str("client_id", clientID).
		Str("service", "deal").
		Logger()

	deal := &types.Deal{
		DealID:             "DEAL_" + uuid.New().String(),
		ClientID:           clientID,
		Name:               req.Name,
		Fee:                req.Fee,
		NumberOfPayments:   req.NumberOfPayments,
		ReferralFeePercent: req.ReferralFeePercent,
		HousePercent:       req.HousePercent,
		OriginationPercent: req.OriginationPercent,
		SitePercent:        req.SitePercent,
		DealPercent:        req.DealPercent,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}

	if err := derivation.Validate(payment.DerivationInputs(deal)); err != nil {
		return nil, err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.db.WithTx(tx).CreateDeal(deal); err != nil {
			return err
		}
		return s.payments.SyncSchedule(tx, deal)
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("deal_id", deal.DealID).
		Str("fee", deal.Fee.String()).
		Int("number_of_payments", deal.NumberOfPayments).
		Msg("deal created with payment schedule")

	return toResponse(deal), nil
}

// ApplyChange applies a mutation event to the deal and synchronizes the
// payment schedule against the new inputs, all in one transaction. Invalid
// resulting inputs reject the whole event; nothing partially applies.
func (s *Service) ApplyChange(dealID string, req ChangeRequest) (*types.DealResponse, error) {
	var result *types.DealResponse
	err := s.db.Transaction(func(tx *gorm.DB) error {
		d := s.db.WithTx(tx)
		deal, err := d.GetDealByID(dealID)
		if err != nil {
			return err
		}

		if req.Fee != nil {
			deal.Fee = *req.Fee
		}
		if req.NumberOfPayments != nil {
			deal.NumberOfPayments = *req.NumberOfPayments
		}
		if req.ReferralFeePercent != nil {
			deal.ReferralFeePercent = *req.ReferralFeePercent
		}
		if req.HousePercent != nil {
			deal.HousePercent = *req.HousePercent
		}
		if req.OriginationPercent != nil {
			deal.OriginationPercent = *req.OriginationPercent
		}
		if req.SitePercent != nil {
			deal.SitePercent = *req.SitePercent
		}
		if req.DealPercent != nil {
			deal.DealPercent = *req.DealPercent
		}

		if err := derivation.Validate(payment.DerivationInputs(deal)); err != nil {
			return err
		}
		deal.UpdatedAt = time.Now()
		if err := d.SaveDeal(deal); err != nil {
			return err
		}
		if err := s.payments.SyncSchedule(tx, deal); err != nil {
			return err
		}
		result = toResponse(deal)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("deal_id", dealID).
		Str("service", "deal").
		Msg("deal change applied")

	return result, nil
}

// Get returns the stored deal.
func (s *Service) Get(dealID string) (*types.DealResponse, error) {
	deal, err := s.db.GetDealByID(dealID)
	if err != nil {
		return nil, err
	}
	return toResponse(deal), nil
}

func toResponse(deal *types.Deal) *types.DealResponse {
	return &types.DealResponse{
		DealID:             deal.DealID,
		ClientID:           deal.ClientID,
		Name:               deal.Name,
		Fee:                deal.Fee,
		NumberOfPayments:   deal.NumberOfPayments,
		ReferralFeePercent: deal.ReferralFeePercent,
		HousePercent:       deal.HousePercent,
		OriginationPercent: deal.OriginationPercent,
		SitePercent:        deal.SitePercent,
		DealPercent:        deal.DealPercent,
		CreatedAt:          deal.CreatedAt,
		UpdatedAt:          deal.UpdatedAt,
	}
}

// GinHandlers contains HTTP handlers for deal endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for deal endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateDealHandler handles POST requests to create deals
// Requires a valid JWT token; the client ID comes from the token claims
func (h *GinHandlers) CreateDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		deal, err := h.service.Create(c.GetString("clientID"), req)
		response.Handle(c, deal, err)
	}
}

// GetDealHandler handles GET requests for deal details
// URL parameter: deal_id
func (h *GinHandlers) GetDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dealID := c.Param("deal_id")

		deal, err := h.service.Get(dealID)
		response.Handle(c, deal, err)
	}
}

// ApplyChangeHandler handles PATCH requests carrying deal mutation events
// URL parameter: deal_id
func (h *GinHandlers) ApplyChangeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dealID := c.Param("deal_id")

		var req ChangeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		deal, err := h.service.ApplyChange(dealID, req)
		response.Handle(c, deal, err)
	}
}
