package template

import (
	"errors"
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

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// seedDealWithSchedule writes a deal and derives its payment schedule so
// template edits have something to propagate onto.
func seedDealWithSchedule(t *testing.T, db *gorm.DB, fee string, n int) *types.Deal {
	t.Helper()
	deal := &types.Deal{
		DealID:           "DEAL_TEST",
		ClientID:         "CLIENT_TEST",
		Name:             "Test Deal",
		Fee:              d(fee),
		NumberOfPayments: n,
	}
	if err := db.Create(deal).Error; err != nil {
		t.Fatalf("failed to seed deal: %v", err)
	}
	if err := payment.NewService(db).SyncSchedule(db, deal); err != nil {
		t.Fatalf("failed to derive schedule: %v", err)
	}
	return deal
}

func splitsFor(t *testing.T, db *gorm.DB, paymentID string) []types.PaymentSplit {
	t.Helper()
	var splits []types.PaymentSplit
	if err := db.Where("payment_id = ?", paymentID).Find(&splits).Error; err != nil {
		t.Fatalf("failed to load splits: %v", err)
	}
	return splits
}

func firstPayment(t *testing.T, db *gorm.DB, dealID string) *types.Payment {
	t.Helper()
	var p types.Payment
	err := db.Where("deal_id = ? AND sequence = ?", dealID, 1).First(&p).Error
	if err != nil {
		t.Fatalf("failed to load payment: %v", err)
	}
	return &p
}

func TestUpsert(t *testing.T) {
	t.Run("creates a template and propagates to every active payment", func(t *testing.T) {
		db := setupTestDB(t)
		deal := seedDealWithSchedule(t, db, "30000", 3)
		service := NewService(db)

		row, err := service.Upsert(deal.DealID, "BRK_A", UpsertRequest{
			SplitDealPercent: d("50"),
		})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if row.TemplateID == "" || row.BrokerID != "BRK_A" {
			t.Fatalf("unexpected template row: %+v", row)
		}

		var payments []types.Payment
		if err := db.Where("deal_id = ?", deal.DealID).Find(&payments).Error; err != nil {
			t.Fatalf("failed to load payments: %v", err)
		}
		for _, p := range payments {
			splits := splitsFor(t, db, p.PaymentID)
			if len(splits) != 1 {
				t.Fatalf("payment %d: expected 1 split, got %d", p.Sequence, len(splits))
			}
			if !splits[0].SplitAmountUSD.Equal(d("5000")) {
				t.Errorf("payment %d: expected 5000, got %s", p.Sequence, splits[0].SplitAmountUSD)
			}
		}
	})

	t.Run("edit applies retroactively to overridden payments", func(t *testing.T) {
		db := setupTestDB(t)
		deal := seedDealWithSchedule(t, db, "30000", 3)
		paymentService := payment.NewService(db)
		service := NewService(db)

		p := firstPayment(t, db, deal.DealID)
		if _, err := paymentService.Override(p.PaymentID, d("10500.50"), "USER_1"); err != nil {
			t.Fatalf("Override failed: %v", err)
		}

		if _, err := service.Upsert(deal.DealID, "BRK_A", UpsertRequest{
			SplitDealPercent: d("50"),
		}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		splits := splitsFor(t, db, p.PaymentID)
		if len(splits) != 1 {
			t.Fatalf("expected 1 split, got %d", len(splits))
		}
		// Half of the pinned AGCI, not of a recalculated one
		if !splits[0].SplitAmountUSD.Equal(d("5250.25")) {
			t.Errorf("expected 5250.25, got %s", splits[0].SplitAmountUSD)
		}
	})

	t.Run("second upsert replaces the broker's percentages", func(t *testing.T) {
		db := setupTestDB(t)
		deal := seedDealWithSchedule(t, db, "30000", 3)
		service := NewService(db)

		if _, err := service.Upsert(deal.DealID, "BRK_A", UpsertRequest{
			SplitDealPercent: d("50"),
		}); err != nil {
			t.Fatalf("first Upsert failed: %v", err)
		}
		if _, err := service.Upsert(deal.DealID, "BRK_A", UpsertRequest{
			SplitDealPercent: d("25"),
		}); err != nil {
			t.Fatalf("second Upsert failed: %v", err)
		}

		rows, err := service.List(deal.DealID)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 template, got %d", len(rows))
		}
		if !rows[0].SplitDealPercent.Equal(d("25")) {
			t.Errorf("expected 25, got %s", rows[0].SplitDealPercent)
		}

		p := firstPayment(t, db, deal.DealID)
		splits := splitsFor(t, db, p.PaymentID)
		if !splits[0].SplitAmountUSD.Equal(d("2500")) {
			t.Errorf("expected 2500 after update, got %s", splits[0].SplitAmountUSD)
		}
	})

	t.Run("edit pushing a category over 100 is rejected whole", func(t *testing.T) {
		db := setupTestDB(t)
		deal := seedDealWithSchedule(t, db, "30000", 3)
		service := NewService(db)

		if _, err := service.Upsert(deal.DealID, "BRK_A", UpsertRequest{
			SplitDealPercent: d("60"),
		}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		_, err := service.Upsert(deal.DealID, "BRK_B", UpsertRequest{
			SplitDealPercent: d("50"),
		})
		if !errors.Is(err, types.ErrTemplateSumExceeded) {
			t.Fatalf("expected ErrTemplateSumExceeded, got %v", err)
		}

		rows, err := service.List(deal.DealID)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 1 {
			t.Errorf("rejected edit leaked into the store: %d rows", len(rows))
		}
	})

	t.Run("percent out of range rejected", func(t *testing.T) {
		db := setupTestDB(t)
		deal := seedDealWithSchedule(t, db, "30000", 3)
		service := NewService(db)

		_, err := service.Upsert(deal.DealID, "BRK_A", UpsertRequest{
			SplitDealPercent: d("100.01"),
		})
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown deal rejected", func(t *testing.T) {
		db := setupTestDB(t)
		service := NewService(db)

		_, err := service.Upsert("DEAL_MISSING", "BRK_A", UpsertRequest{
			SplitDealPercent: d("10"),
		})
		if !errors.Is(err, types.ErrDealNotFound) {
			t.Errorf("expected ErrDealNotFound, got %v", err)
		}
	})
}

func TestDelete(t *testing.T) {
	t.Run("removes the broker's share from every payment", func(t *testing.T) {
		db := setupTestDB(t)
		deal := seedDealWithSchedule(t, db, "30000", 3)
		service := NewService(db)

		if _, err := service.Upsert(deal.DealID, "BRK_A", UpsertRequest{
			SplitDealPercent: d("60"),
		}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if _, err := service.Upsert(deal.DealID, "BRK_B", UpsertRequest{
			SplitDealPercent: d("40"),
		}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		if err := service.Delete(deal.DealID, "BRK_A"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		p := firstPayment(t, db, deal.DealID)
		splits := splitsFor(t, db, p.PaymentID)
		if len(splits) != 1 {
			t.Fatalf("expected 1 split after delete, got %d", len(splits))
		}
		if splits[0].BrokerID != "BRK_B" {
			t.Errorf("expected only BRK_B to remain, got %s", splits[0].BrokerID)
		}
		if !splits[0].SplitAmountUSD.Equal(d("4000")) {
			t.Errorf("expected 4000, got %s", splits[0].SplitAmountUSD)
		}
	})

	t.Run("unknown template rejected", func(t *testing.T) {
		db := setupTestDB(t)
		deal := seedDealWithSchedule(t, db, "30000", 3)
		service := NewService(db)

		err := service.Delete(deal.DealID, "BRK_MISSING")
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			t.Errorf("expected gorm.ErrRecordNotFound, got %v", err)
		}
	})
}
