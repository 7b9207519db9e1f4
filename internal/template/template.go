// Package template stores the per-broker commission split templates of a
// deal. Writes enforce the per-category 100% ceiling and retroactively
// reshape every active payment's splits: an override protects a payment's
// amount, never its split breakdown.
package template

import (
	"errors"
	"time"

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

// Service is the commission template store.
type Service struct {
	db         *Database
	propagator *split.Propagator
}

// NewService creates a template store with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		propagator: split.NewPropagator(),
	}
}

// UpsertRequest is the external template-edit contract.
type UpsertRequest struct {
	SplitOriginationPercent decimal.Decimal `json:"split_origination_percent"`
	SplitSitePercent        decimal.Decimal `json:"split_site_percent"`
	SplitDealPercent        decimal.Decimal `json:"split_deal_percent"`
}

// Upsert creates or replaces the (deal, broker) template row. The
// sum-per-category invariant is checked against the template set as it
// would look after the write; a violation rejects the edit and leaves the
// store untouched. On success every active payment of the deal is
// re-propagated in the same transaction.
func (s *Service) Upsert(dealID, brokerID string, req UpsertRequest) (*types.CommissionTemplate, error) {
	logger := log.With().
		Str("deal_id", dealID).
		Str("broker_id", brokerID).
		Str("service", "template_store").
		Logger()

	for name, p := range map[string]decimal.Decimal{
		"split_origination_percent": req.SplitOriginationPercent,
		"split_site_percent":        req.SplitSitePercent,
		"split_deal_percent":        req.SplitDealPercent,
	} {
		if err := derivation.ValidatePercent(name, p); err != nil {
			return nil, err
		}
	}

	var result *types.CommissionTemplate
	err := s.db.Transaction(func(tx *gorm.DB) error {
		d := s.db.WithTx(tx)
		if _, err := d.GetDealByID(dealID); err != nil {
			return err
		}

		existing, err := d.GetTemplatesForDeal(dealID)
		if err != nil {
			return err
		}

		var row *types.CommissionTemplate
		candidate := make([]types.CommissionTemplate, 0, len(existing)+1)
		for i := range existing {
			if existing[i].BrokerID == brokerID {
				row = &existing[i]
				continue
			}
			candidate = append(candidate, existing[i])
		}

		if row == nil {
			row = &types.CommissionTemplate{
				TemplateID: "TPL_" + uuid.New().String(),
				DealID:     dealID,
				BrokerID:   brokerID,
				CreatedAt:  time.Now(),
			}
		}
		row.SplitOriginationPercent = req.SplitOriginationPercent
		row.SplitSitePercent = req.SplitSitePercent
		row.SplitDealPercent = req.SplitDealPercent
		row.UpdatedAt = time.Now()
		candidate = append(candidate, *row)

		if err := split.ValidateTemplateSums(candidate); err != nil {
			logger.Warn().Err(err).Msg("rejecting template edit")
			return err
		}

		if row.ID == 0 {
			if err := d.CreateTemplate(row); err != nil {
				return err
			}
		} else if err := d.SaveTemplate(row); err != nil {
			return err
		}

		if err := s.repropagate(tx, dealID); err != nil {
			return err
		}

		result = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("split_origination_percent", req.SplitOriginationPercent.String()).
		Str("split_site_percent", req.SplitSitePercent.String()).
		Str("split_deal_percent", req.SplitDealPercent.String()).
		Msg("commission template saved")

	return result, nil
}

// Delete removes a broker's template row and re-propagates every active
// payment without that broker's share.
func (s *Service) Delete(dealID, brokerID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		d := s.db.WithTx(tx)
		if _, err := d.GetDealByID(dealID); err != nil {
			return err
		}
		row, err := d.GetTemplate(dealID, brokerID)
		if err != nil {
			return err
		}
		if err := d.DeleteTemplate(row); err != nil {
			return err
		}
		return s.repropagate(tx, dealID)
	})
}

// List returns a deal's template rows.
func (s *Service) List(dealID string) ([]types.CommissionTemplate, error) {
	if _, err := s.db.GetDealByID(dealID); err != nil {
		return nil, err
	}
	return s.db.GetTemplatesForDeal(dealID)
}

// repropagate rebuilds splits for every active payment from the current
// template set, overridden payments included.
func (s *Service) repropagate(tx *gorm.DB, dealID string) error {
	d := s.db.WithTx(tx)
	templates, err := d.GetTemplatesForDeal(dealID)
	if err != nil {
		return err
	}
	payments, err := d.GetActivePaymentsForDeal(dealID)
	if err != nil {
		return err
	}
	for i := range payments {
		if err := s.propagator.Propagate(tx, &payments[i], templates); err != nil {
			return err
		}
	}
	return nil
}

// GinHandlers contains HTTP handlers for template endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for template endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListTemplatesHandler handles GET requests for a deal's template rows
// URL parameter: deal_id
func (h *GinHandlers) ListTemplatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dealID := c.Param("deal_id")

		templates, err := h.service.List(dealID)
		response.Handle(c, templates, err)
	}
}

// UpsertTemplateHandler handles PUT requests to create or replace a
// broker's template row
// URL parameters: deal_id, broker_id
func (h *GinHandlers) UpsertTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dealID := c.Param("deal_id")
		brokerID := c.Param("broker_id")

		var req UpsertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		row, err := h.service.Upsert(dealID, brokerID, req)
		response.Handle(c, row, err)
	}
}

// DeleteTemplateHandler handles DELETE requests to remove a broker's
// template row
// URL parameters: deal_id, broker_id
func (h *GinHandlers) DeleteTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dealID := c.Param("deal_id")
		brokerID := c.Param("broker_id")

		err := h.service.Delete(dealID, brokerID)
		if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "Template not found")
			return
		}
		response.Handle(c, gin.H{"deleted": err == nil}, err)
	}
}
