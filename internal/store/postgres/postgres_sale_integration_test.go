package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func TestSaleLifecycleAgainstPostgres(t *testing.T) {
	databaseURL := os.Getenv("RETAILPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	mobile := fmt.Sprintf("99%d", stamp%100000000)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customer_offers WHERE mobile = $1`, mobile)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE mobile = $1`, mobile)
	})

	now := time.Now().UTC()
	created, err := s.CreateSale(ctx, domain.Sale{
		SaleID:         saleID,
		CustomerName:   "Integration",
		CustomerMobile: mobile,
		TotalCents:     10000,
		FinalCents:     10000,
		PaymentMethod:  domain.PaymentMethodCash,
		CashCents:      10000,
		CreatedAt:      now,
		Items: []domain.SaleItem{
			{ItemID: 1, Quantity: 2, UnitPriceCents: 5000, TotalPriceCents: 10000},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	// Duplicate business key must fail without leaking item rows.
	_, err = s.CreateSale(ctx, domain.Sale{
		SaleID:        saleID,
		PaymentMethod: domain.PaymentMethodCash,
		CreatedAt:     now,
		Items: []domain.SaleItem{
			{ItemID: 1, Quantity: 1, UnitPriceCents: 100, TotalPriceCents: 100},
		},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate sale_id: expected conflict, got %v", err)
	}
	var itemCount int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sale_items WHERE sale_id = $1`, saleID).Scan(&itemCount); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if itemCount != 1 {
		t.Fatalf("conflicting create leaked item rows: %d", itemCount)
	}

	offer, err := s.CreateOffer(ctx, domain.CustomerOffer{
		Mobile:           mobile,
		OfferType:        "percentage",
		EnabledByCashier: true,
		CreatedAt:        now,
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, alreadyUsed, err := s.ConsumeOffer(ctx, offer.ID, saleID, now); err != nil || alreadyUsed {
		t.Fatalf("first consume: err=%v alreadyUsed=%v", err, alreadyUsed)
	}
	if _, alreadyUsed, err := s.ConsumeOffer(ctx, offer.ID, "sale-it-other", now.Add(time.Minute)); err != nil || !alreadyUsed {
		t.Fatalf("second consume: err=%v alreadyUsed=%v", err, alreadyUsed)
	}

	deleted, err := s.DeleteSale(ctx, created.ID)
	if err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	if deleted.SaleID != saleID {
		t.Fatalf("deleted wrong sale: %s", deleted.SaleID)
	}

	rollup, err := s.GetCustomerRollup(ctx, mobile)
	if err != nil {
		t.Fatalf("get rollup: %v", err)
	}
	if rollup.TotalPurchases != 0 || rollup.TotalCents != 0 {
		t.Fatalf("rollup not reversed: purchases=%d cents=%d", rollup.TotalPurchases, rollup.TotalCents)
	}
}
