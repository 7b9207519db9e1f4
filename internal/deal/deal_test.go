package deal

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dealpoint/commission-api/internal/payment"
	"github.com/dealpoint/commission-api/internal/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&types.Deal{},
		&types.Payment{},
		&types.CommissionTemplate{},
		&types.PaymentSplit{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestService(db *gorm.DB) *Service {
	return NewService(db, payment.NewService(db))
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func countActivePayments(t *testing.T, db *gorm.DB, dealID string) int {
	t.Helper()
	var count int64
	err := db.Model(&types.Payment{}).
		Where("deal_id = ? AND status = ?", dealID, types.PaymentStatusActive).
		Count(&count).Error
	if err != nil {
		t.Fatalf("failed to count payments: %v", err)
	}
	return int(count)
}

func TestCreate(t *testing.T) {
	t.Run("writes the deal and its schedule together", func(t *testing.T) {
		db := setupTestDB(t)
		service := newTestService(db)

		resp, err := service.Create("CLIENT_1", CreateRequest{
			Name:             "Riverside Plaza",
			Fee:              d("30000"),
			NumberOfPayments: 3,
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if !strings.HasPrefix(resp.DealID, "DEAL_") {
			t.Errorf("unexpected deal ID %q", resp.DealID)
		}
		if resp.ClientID != "CLIENT_1" {
			t.Errorf("expected client CLIENT_1, got %s", resp.ClientID)
		}
		if got := countActivePayments(t, db, resp.DealID); got != 3 {
			t.Errorf("expected 3 payments, got %d", got)
		}
	})

	t.Run("invalid inputs write nothing", func(t *testing.T) {
		db := setupTestDB(t)
		service := newTestService(db)

		_, err := service.Create("CLIENT_1", CreateRequest{
			Name:             "Bad Deal",
			Fee:              d("-5"),
			NumberOfPayments: 3,
		})
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}

		var count int64
		if err := db.Model(&types.Deal{}).Count(&count).Error; err != nil {
			t.Fatalf("failed to count deals: %v", err)
		}
		if count != 0 {
			t.Errorf("expected no deal rows, got %d", count)
		}
	})
}

func TestApplyChange(t *testing.T) {
	create := func(t *testing.T, db *gorm.DB, service *Service) *types.DealResponse {
		t.Helper()
		resp, err := service.Create("CLIENT_1", CreateRequest{
			Name:               "Riverside Plaza",
			Fee:                d("30000"),
			NumberOfPayments:   3,
			ReferralFeePercent: d("10"),
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return resp
	}

	t.Run("partial event only touches named fields", func(t *testing.T) {
		db := setupTestDB(t)
		service := newTestService(db)
		created := create(t, db, service)

		resp, err := service.ApplyChange(created.DealID, ChangeRequest{Fee: dp("35000")})
		if err != nil {
			t.Fatalf("ApplyChange failed: %v", err)
		}
		if !resp.Fee.Equal(d("35000")) {
			t.Errorf("expected fee 35000, got %s", resp.Fee)
		}
		if resp.NumberOfPayments != 3 {
			t.Errorf("payment count changed unexpectedly: %d", resp.NumberOfPayments)
		}
		if !resp.ReferralFeePercent.Equal(d("10")) {
			t.Errorf("referral percent changed unexpectedly: %s", resp.ReferralFeePercent)
		}
	})

	t.Run("payment count change resizes the schedule", func(t *testing.T) {
		db := setupTestDB(t)
		service := newTestService(db)
		created := create(t, db, service)

		n := 5
		if _, err := service.ApplyChange(created.DealID, ChangeRequest{NumberOfPayments: &n}); err != nil {
			t.Fatalf("ApplyChange failed: %v", err)
		}
		if got := countActivePayments(t, db, created.DealID); got != 5 {
			t.Errorf("expected 5 payments, got %d", got)
		}
	})

	t.Run("invalid resulting inputs roll the whole event back", func(t *testing.T) {
		db := setupTestDB(t)
		service := newTestService(db)
		created := create(t, db, service)

		zero := 0
		_, err := service.ApplyChange(created.DealID, ChangeRequest{
			Fee:              dp("40000"),
			NumberOfPayments: &zero,
		})
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}

		after, err := service.Get(created.DealID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !after.Fee.Equal(d("30000")) {
			t.Errorf("rejected event leaked: fee %s", after.Fee)
		}
		if after.NumberOfPayments != 3 {
			t.Errorf("rejected event leaked: count %d", after.NumberOfPayments)
		}
	})

	t.Run("unknown deal rejected", func(t *testing.T) {
		db := setupTestDB(t)
		service := newTestService(db)

		_, err := service.ApplyChange("DEAL_MISSING", ChangeRequest{Fee: dp("1")})
		if !errors.Is(err, types.ErrDealNotFound) {
			t.Errorf("expected ErrDealNotFound, got %v", err)
		}
	})
}

func TestGet(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(db)

	if _, err := service.Get("DEAL_MISSING"); !errors.Is(err, types.ErrDealNotFound) {
		t.Errorf("expected ErrDealNotFound, got %v", err)
	}
}
