package split

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

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
	if err := db.AutoMigrate(&types.Payment{}, &types.PaymentSplit{}); err != nil {
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

func template(brokerID, origination, site, deal string) types.CommissionTemplate {
	return types.CommissionTemplate{
		TemplateID:              "TPL_" + brokerID,
		DealID:                  "DEAL_TEST",
		BrokerID:                brokerID,
		SplitOriginationPercent: d(origination),
		SplitSitePercent:        d(site),
		SplitDealPercent:        d(deal),
	}
}

func loadSplits(t *testing.T, db *gorm.DB, paymentID string) []types.PaymentSplit {
	t.Helper()
	var splits []types.PaymentSplit
	if err := db.Where("payment_id = ?", paymentID).Order("id ASC").Find(&splits).Error; err != nil {
		t.Fatalf("failed to load splits: %v", err)
	}
	return splits
}

func TestValidateTemplateSums(t *testing.T) {
	t.Run("exactly 100 per category passes", func(t *testing.T) {
		templates := []types.CommissionTemplate{
			template("BRK_A", "60", "100", "50"),
			template("BRK_B", "40", "0", "50"),
		}
		if err := ValidateTemplateSums(templates); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("category over 100 rejected", func(t *testing.T) {
		templates := []types.CommissionTemplate{
			template("BRK_A", "0", "0", "60"),
			template("BRK_B", "0", "0", "50"),
		}
		err := ValidateTemplateSums(templates)
		if !errors.Is(err, types.ErrTemplateSumExceeded) {
			t.Errorf("expected ErrTemplateSumExceeded, got %v", err)
		}
	})

	t.Run("empty set passes", func(t *testing.T) {
		if err := ValidateTemplateSums(nil); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})
}

func TestPropagate(t *testing.T) {
	t.Run("amounts come from stored AGCI", func(t *testing.T) {
		// The overridden-payment case: AGCI reflects a pinned amount, and
		// the broker's dollars must follow the stored value.
		db := setupTestDB(t)
		p := &types.Payment{
			PaymentID:     "PAY_1",
			DealID:        "DEAL_TEST",
			PaymentAmount: d("10500.50"),
			AGCI:          d("10500.50"),
			Status:        types.PaymentStatusActive,
		}
		templates := []types.CommissionTemplate{
			template("BRK_A", "0", "0", "50"),
		}

		if err := NewPropagator().Propagate(db, p, templates); err != nil {
			t.Fatalf("Propagate failed: %v", err)
		}

		splits := loadSplits(t, db, "PAY_1")
		if len(splits) != 1 {
			t.Fatalf("expected 1 split, got %d", len(splits))
		}
		if !splits[0].SplitAmountUSD.Equal(d("5250.25")) {
			t.Errorf("expected 5250.25, got %s", splits[0].SplitAmountUSD)
		}
		if splits[0].BrokerID != "BRK_A" {
			t.Errorf("expected broker BRK_A, got %s", splits[0].BrokerID)
		}
	})

	t.Run("last broker absorbs remainder at full allocation", func(t *testing.T) {
		db := setupTestDB(t)
		p := &types.Payment{
			PaymentID: "PAY_1",
			DealID:    "DEAL_TEST",
			AGCI:      d("100.01"),
			Status:    types.PaymentStatusActive,
		}
		templates := []types.CommissionTemplate{
			template("BRK_A", "0", "0", "33.33"),
			template("BRK_B", "0", "0", "33.33"),
			template("BRK_C", "0", "0", "33.34"),
		}

		if err := NewPropagator().Propagate(db, p, templates); err != nil {
			t.Fatalf("Propagate failed: %v", err)
		}

		splits := loadSplits(t, db, "PAY_1")
		if len(splits) != 3 {
			t.Fatalf("expected 3 splits, got %d", len(splits))
		}
		total := decimal.Zero
		for _, s := range splits {
			total = total.Add(s.SplitAmountUSD)
		}
		if !total.Equal(p.AGCI) {
			t.Errorf("splits sum to %s, expected AGCI %s", total, p.AGCI)
		}
	})

	t.Run("percentages snapshot onto split rows", func(t *testing.T) {
		db := setupTestDB(t)
		p := &types.Payment{
			PaymentID: "PAY_1",
			DealID:    "DEAL_TEST",
			AGCI:      d("9000"),
			Status:    types.PaymentStatusActive,
		}
		templates := []types.CommissionTemplate{
			template("BRK_A", "10", "5", "35"),
		}

		if err := NewPropagator().Propagate(db, p, templates); err != nil {
			t.Fatalf("Propagate failed: %v", err)
		}

		splits := loadSplits(t, db, "PAY_1")
		if !splits[0].SplitOriginationPercent.Equal(d("10")) ||
			!splits[0].SplitSitePercent.Equal(d("5")) ||
			!splits[0].SplitDealPercent.Equal(d("35")) {
			t.Errorf("template percentages not copied onto split row: %+v", splits[0])
		}
		// 50% combined of 9000
		if !splits[0].SplitAmountUSD.Equal(d("4500")) {
			t.Errorf("expected 4500, got %s", splits[0].SplitAmountUSD)
		}
	})

	t.Run("repropagation replaces existing rows", func(t *testing.T) {
		db := setupTestDB(t)
		p := &types.Payment{
			PaymentID: "PAY_1",
			DealID:    "DEAL_TEST",
			AGCI:      d("1000"),
			Status:    types.PaymentStatusActive,
		}
		prop := NewPropagator()
		first := []types.CommissionTemplate{
			template("BRK_A", "0", "0", "50"),
			template("BRK_B", "0", "0", "50"),
		}
		if err := prop.Propagate(db, p, first); err != nil {
			t.Fatalf("first Propagate failed: %v", err)
		}

		second := []types.CommissionTemplate{
			template("BRK_C", "0", "0", "25"),
		}
		if err := prop.Propagate(db, p, second); err != nil {
			t.Fatalf("second Propagate failed: %v", err)
		}

		splits := loadSplits(t, db, "PAY_1")
		if len(splits) != 1 {
			t.Fatalf("expected old splits replaced, got %d rows", len(splits))
		}
		if splits[0].BrokerID != "BRK_C" {
			t.Errorf("expected broker BRK_C, got %s", splits[0].BrokerID)
		}
		if !splits[0].SplitAmountUSD.Equal(d("250")) {
			t.Errorf("expected 250, got %s", splits[0].SplitAmountUSD)
		}
	})

	t.Run("no templates clears splits", func(t *testing.T) {
		db := setupTestDB(t)
		p := &types.Payment{
			PaymentID: "PAY_1",
			DealID:    "DEAL_TEST",
			AGCI:      d("1000"),
			Status:    types.PaymentStatusActive,
		}
		prop := NewPropagator()
		if err := prop.Propagate(db, p, []types.CommissionTemplate{
			template("BRK_A", "0", "0", "50"),
		}); err != nil {
			t.Fatalf("Propagate failed: %v", err)
		}
		if err := prop.Propagate(db, p, nil); err != nil {
			t.Fatalf("Propagate with no templates failed: %v", err)
		}
		if splits := loadSplits(t, db, "PAY_1"); len(splits) != 0 {
			t.Errorf("expected 0 splits, got %d", len(splits))
		}
	})

	t.Run("oversubscribed templates refuse to propagate", func(t *testing.T) {
		db := setupTestDB(t)
		p := &types.Payment{
			PaymentID: "PAY_1",
			DealID:    "DEAL_TEST",
			AGCI:      d("1000"),
			Status:    types.PaymentStatusActive,
		}
		templates := []types.CommissionTemplate{
			template("BRK_A", "0", "0", "70"),
			template("BRK_B", "0", "0", "70"),
		}
		err := NewPropagator().Propagate(db, p, templates)
		if !errors.Is(err, types.ErrTemplateSumExceeded) {
			t.Fatalf("expected ErrTemplateSumExceeded, got %v", err)
		}
		if splits := loadSplits(t, db, "PAY_1"); len(splits) != 0 {
			t.Errorf("expected no splits written, got %d", len(splits))
		}
	})
}
