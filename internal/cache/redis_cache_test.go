package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"retailpos/backend/internal/domain"
)

func newTestCache(t *testing.T) *RedisCustomerSummaryCache {
	t.Helper()
	srv := miniredis.RunT(t)
	c := NewRedisCustomerSummaryCache(srv.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCustomerSummaryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if _, found, err := c.Get(ctx, "customer:summary:9000000001"); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	summary := &domain.CustomerSummary{
		Rollup: domain.CustomerRollup{
			Mobile:         "9000000001",
			Name:           "Asha",
			TotalPurchases: 3,
			TotalCents:     45900,
		},
		Offers: []domain.CustomerOffer{{ID: 7, Mobile: "9000000001", OfferType: "percentage", DiscountPercentage: 10}},
	}
	if err := c.Set(ctx, "customer:summary:9000000001", summary, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, found, err := c.Get(ctx, "customer:summary:9000000001")
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if got.Rollup.TotalCents != 45900 || len(got.Offers) != 1 || got.Offers[0].ID != 7 {
		t.Fatalf("unexpected cached summary: %+v", got)
	}
}

func TestRedisCustomerSummaryCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	summary := &domain.CustomerSummary{Rollup: domain.CustomerRollup{Mobile: "9000000002", TotalPurchases: 1}}
	if err := c.Set(ctx, "customer:summary:9000000002", summary, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Delete(ctx, "customer:summary:9000000002"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, err := c.Get(ctx, "customer:summary:9000000002"); err != nil || found {
		t.Fatalf("expected miss after delete, got found=%v err=%v", found, err)
	}
}
