package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "pos.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndDeleteSaleKeepsRollupConsistent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	created, err := s.CreateSale(ctx, domain.Sale{
		SaleID:         "S-LITE-1",
		CustomerName:   "Devi",
		CustomerMobile: "9990001111",
		TotalCents:     9000,
		FinalCents:     9000,
		PaymentMethod:  domain.PaymentMethodCash,
		CashCents:      9000,
		CreatedAt:      now,
		Items: []domain.SaleItem{
			{ItemID: 1, Quantity: 3, UnitPriceCents: 3000, TotalPriceCents: 9000},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err = s.CreateSale(ctx, domain.Sale{
		SaleID:        "S-LITE-1",
		PaymentMethod: domain.PaymentMethodCash,
		CreatedAt:     now,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate sale_id: expected conflict, got %v", err)
	}

	got, err := s.GetSaleBySaleID(ctx, "S-LITE-1")
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.FinalCents != 9000 || len(got.Items) != 1 || got.Items[0].Quantity != 3 {
		t.Fatalf("unexpected sale round trip: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at mangled: %v", got.CreatedAt)
	}

	rollup, err := s.GetCustomerRollup(ctx, "9990001111")
	if err != nil {
		t.Fatalf("get rollup: %v", err)
	}
	if rollup.TotalPurchases != 1 || rollup.TotalCents != 9000 {
		t.Fatalf("rollup after create: %+v", rollup)
	}

	if _, err := s.DeleteSale(ctx, created.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	rollup, err = s.GetCustomerRollup(ctx, "9990001111")
	if err != nil {
		t.Fatalf("get rollup after delete: %v", err)
	}
	if rollup.TotalPurchases != 0 || rollup.TotalCents != 0 {
		t.Fatalf("rollup not reversed: %+v", rollup)
	}
}

func TestConsumeOfferIsSingleTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	offer, err := s.CreateOffer(ctx, domain.CustomerOffer{
		Mobile:           "9990002222",
		OfferType:        "amount",
		DiscountCents:    500,
		EnabledByCashier: true,
		CreatedAt:        now,
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	first, alreadyUsed, err := s.ConsumeOffer(ctx, offer.ID, "S-LITE-OFFER", now)
	if err != nil || alreadyUsed {
		t.Fatalf("first consume: err=%v alreadyUsed=%v", err, alreadyUsed)
	}
	if first.SaleID == nil || *first.SaleID != "S-LITE-OFFER" {
		t.Fatalf("sale link not recorded: %v", first.SaleID)
	}

	second, alreadyUsed, err := s.ConsumeOffer(ctx, offer.ID, "S-LITE-OTHER", now.Add(time.Hour))
	if err != nil || !alreadyUsed {
		t.Fatalf("second consume: err=%v alreadyUsed=%v", err, alreadyUsed)
	}
	if second.UsedAt == nil || !second.UsedAt.Equal(*first.UsedAt) {
		t.Fatalf("used_at rewritten on no-op: %v", second.UsedAt)
	}
	if second.SaleID == nil || *second.SaleID != "S-LITE-OFFER" {
		t.Fatalf("sale link rewritten on no-op: %v", second.SaleID)
	}
}

func TestAuditSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	created, err := s.CreateAuditSession(ctx, domain.AuditSession{
		Username:    "kasir1",
		SessionName: "aisle 5",
		AuditMode:   domain.AuditModeScan,
		StartTime:   now,
		ScannedData: map[string]int{"890123": 2},
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	end := now.Add(30 * time.Minute)
	created.AuditMode = domain.AuditModeCompleted
	created.EndTime = &end
	created.TotalPauseSeconds = 90
	if _, err := s.UpdateAuditSession(ctx, *created); err != nil {
		t.Fatalf("update session: %v", err)
	}

	got, err := s.GetAuditSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.AuditMode != domain.AuditModeCompleted || got.TotalPauseSeconds != 90 {
		t.Fatalf("session state lost: %+v", got)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Fatalf("end time lost: %v", got.EndTime)
	}
	if got.ScannedData["890123"] != 2 {
		t.Fatalf("scan tally lost: %v", got.ScannedData)
	}
}
