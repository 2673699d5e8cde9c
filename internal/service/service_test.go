package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestService() (*Service, *memory.Store, *fakeClock) {
	repo := memory.New()
	svc := New(repo, nil, 0)
	clk := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	svc.now = clk.Now
	return svc, repo, clk
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: "cashier"})
}

func saleRequest(saleID string, mobile string, finalCents int64) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{
		SaleID:         saleID,
		CustomerName:   "Ravi",
		CustomerMobile: mobile,
		TotalCents:     finalCents,
		FinalCents:     finalCents,
		PaymentMethod:  domain.PaymentMethodCash,
		CashCents:      finalCents,
		Items: []domain.SaleItemCreateRequest{
			{ItemID: 1, Quantity: 2, UnitPriceCents: finalCents / 2, TotalPriceCents: finalCents},
		},
	}
}

func TestCreateSaleMaintainsRollup(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := cashierCtx("kasir1")

	first, err := svc.CreateSale(ctx, saleRequest("S-1", "9990001111", 10000))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	clk.Set(clk.Now().Add(time.Hour))
	if _, err := svc.CreateSale(ctx, saleRequest("S-2", "9990001111", 4000)); err != nil {
		t.Fatalf("create second sale: %v", err)
	}

	rollup, err := svc.GetCustomerRollup(ctx, "9990001111")
	if err != nil {
		t.Fatalf("get rollup: %v", err)
	}
	if rollup.TotalPurchases != 2 || rollup.TotalCents != 14000 {
		t.Fatalf("unexpected rollup: purchases=%d cents=%d", rollup.TotalPurchases, rollup.TotalCents)
	}
	if rollup.FirstPurchaseDate == nil || !rollup.FirstPurchaseDate.Equal(first.CreatedAt) {
		t.Fatalf("first purchase date not preserved: %v", rollup.FirstPurchaseDate)
	}
	if rollup.LastPurchaseDate == nil || !rollup.LastPurchaseDate.After(first.CreatedAt) {
		t.Fatalf("last purchase date not advanced: %v", rollup.LastPurchaseDate)
	}
}

func TestDeleteSaleReversesRollupExactly(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	if _, err := svc.CreateSale(ctx, saleRequest("S-10", "9990002222", 12000)); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.CreateSale(ctx, saleRequest("S-11", "9990002222", 5000)); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if _, err := svc.DeleteSale(adminCtx(), "S-11"); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	rollup, err := svc.GetCustomerRollup(ctx, "9990002222")
	if err != nil {
		t.Fatalf("get rollup: %v", err)
	}
	if rollup.TotalPurchases != 1 || rollup.TotalCents != 12000 {
		t.Fatalf("rollup not reversed exactly: purchases=%d cents=%d", rollup.TotalPurchases, rollup.TotalCents)
	}
}

func TestDeleteSaleWithoutMobileLeavesRollupsAlone(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	if _, err := svc.CreateSale(ctx, saleRequest("S-20", "9990003333", 8000)); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	anon := saleRequest("S-21", "", 6000)
	anon.CustomerName = ""
	if _, err := svc.CreateSale(ctx, anon); err != nil {
		t.Fatalf("create anonymous sale: %v", err)
	}
	if _, err := svc.DeleteSale(adminCtx(), "S-21"); err != nil {
		t.Fatalf("delete anonymous sale: %v", err)
	}

	rollup, err := svc.GetCustomerRollup(ctx, "9990003333")
	if err != nil {
		t.Fatalf("get rollup: %v", err)
	}
	if rollup.TotalPurchases != 1 || rollup.TotalCents != 8000 {
		t.Fatalf("unrelated rollup disturbed: purchases=%d cents=%d", rollup.TotalPurchases, rollup.TotalCents)
	}
}

func TestDeleteSaleRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	if _, err := svc.CreateSale(ctx, saleRequest("S-30", "9990004444", 3000)); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.DeleteSale(ctx, "S-30"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier delete to be forbidden, got %v", err)
	}
}

func TestDuplicateSaleIDLeavesSingleSale(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	if _, err := svc.CreateSale(ctx, saleRequest("S-DUP", "9990005555", 10000)); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err := svc.CreateSale(ctx, saleRequest("S-DUP", "9990005555", 9000))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	sale, err := svc.GetSale(ctx, "S-DUP")
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.FinalCents != 10000 {
		t.Fatalf("first write should win, got final=%d", sale.FinalCents)
	}
	if len(sale.Items) != 1 {
		t.Fatalf("conflicting create leaked item rows: %d", len(sale.Items))
	}

	rollup, err := svc.GetCustomerRollup(ctx, "9990005555")
	if err != nil {
		t.Fatalf("get rollup: %v", err)
	}
	if rollup.TotalPurchases != 1 || rollup.TotalCents != 10000 {
		t.Fatalf("conflicting create leaked into rollup: purchases=%d cents=%d", rollup.TotalPurchases, rollup.TotalCents)
	}
}

func TestManualOverrideLineIdentity(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	bad := saleRequest("S-40", "9990006666", 10000)
	bad.Items = []domain.SaleItemCreateRequest{
		{ItemID: 1, Quantity: 3, UnitPriceCents: 1000, TotalPriceCents: 2500},
	}
	if _, err := svc.CreateSale(ctx, bad); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected identity violation to be rejected, got %v", err)
	}

	overridden := saleRequest("S-41", "9990006666", 10000)
	overridden.Items = []domain.SaleItemCreateRequest{
		{ItemID: 1, Quantity: 3, UnitPriceCents: 1000, TotalPriceCents: 2500, ManualOverride: true},
	}
	if _, err := svc.CreateSale(ctx, overridden); err != nil {
		t.Fatalf("manual override line rejected: %v", err)
	}
}

func TestMixedPaymentSplitMustReconcile(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	req := saleRequest("S-50", "9990007777", 10000)
	req.PaymentMethod = domain.PaymentMethodMixed
	req.CashCents = 4000
	req.OnlineCents = 5000
	if _, err := svc.CreateSale(ctx, req); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected split mismatch rejection, got %v", err)
	}

	req.SaleID = "S-51"
	req.OnlineCents = 6000
	if _, err := svc.CreateSale(ctx, req); err != nil {
		t.Fatalf("reconciled split rejected: %v", err)
	}
}

func TestSingleMethodPaymentsMustCoverFinal(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	short := saleRequest("S-55", "9990007777", 10000)
	short.CashCents = 500
	if _, err := svc.CreateSale(ctx, short); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("cash shortfall accepted: %v", err)
	}

	online := saleRequest("S-56", "9990007777", 10000)
	online.PaymentMethod = domain.PaymentMethodOnline
	online.CashCents = 0
	online.OnlineCents = 9000
	if _, err := svc.CreateSale(ctx, online); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("online shortfall accepted: %v", err)
	}

	online.SaleID = "S-57"
	online.OnlineCents = 10000
	sale, err := svc.CreateSale(ctx, online)
	if err != nil {
		t.Fatalf("exact online payment rejected: %v", err)
	}
	if sale.CashCents+sale.OnlineCents != sale.FinalCents {
		t.Fatalf("stored split does not cover final: cash=%d online=%d final=%d", sale.CashCents, sale.OnlineCents, sale.FinalCents)
	}
}

func TestConsumeOfferSecondCallIsNoOp(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := cashierCtx("kasir1")

	offer, err := svc.CreateOffer(ctx, domain.OfferCreateRequest{
		Mobile: "9990008888", OfferType: "percentage", DiscountPercentage: 10, EnabledByCashier: true,
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	first, err := svc.ConsumeOffer(ctx, offer.ID, "S-60")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if first.AlreadyUsed {
		t.Fatalf("first consumption reported already used")
	}
	usedAt := first.Offer.UsedAt

	clk.Set(clk.Now().Add(30 * time.Minute))
	second, err := svc.ConsumeOffer(ctx, offer.ID, "S-61")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if !second.AlreadyUsed {
		t.Fatalf("second consumption should report already used")
	}
	if second.Offer.UsedAt == nil || usedAt == nil || !second.Offer.UsedAt.Equal(*usedAt) {
		t.Fatalf("used_at rewritten on no-op: %v vs %v", second.Offer.UsedAt, usedAt)
	}
	if second.Offer.SaleID == nil || *second.Offer.SaleID != "S-60" {
		t.Fatalf("consuming sale rewritten on no-op: %v", second.Offer.SaleID)
	}
}

func TestConsumeOfferConcurrentSingleWinner(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	offer, err := svc.CreateOffer(ctx, domain.OfferCreateRequest{
		Mobile: "9990009999", OfferType: "amount", DiscountCents: 500, EnabledByCashier: true,
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.ConsumeOffer(ctx, offer.ID, "S-RACE")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			wins <- !resp.AlreadyUsed
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning consumption, got %d", winners)
	}
}

func TestOffersRemainUsablePastValidUntil(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	offer, err := svc.CreateOffer(ctx, domain.OfferCreateRequest{
		Mobile:             "9991110000",
		OfferType:          "percentage",
		DiscountPercentage: 5,
		EnabledByCashier:   true,
		ValidUntil:         "2020-01-01",
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	offers, err := svc.ListOffers(ctx, "9991110000")
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("expired offer dropped from listing: %d", len(offers))
	}

	resp, err := svc.ConsumeOffer(ctx, offer.ID, "S-70")
	if err != nil || resp.AlreadyUsed {
		t.Fatalf("expired offer not usable: err=%v alreadyUsed=%v", err, resp != nil && resp.AlreadyUsed)
	}
}

func TestApplyOffersStackingRules(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	if _, err := svc.CreateSale(ctx, saleRequest("S-80", "9992220000", 20000)); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	mkOffer := func(stackable bool, enabled bool) int64 {
		t.Helper()
		offer, err := svc.CreateOffer(ctx, domain.OfferCreateRequest{
			Mobile: "9992220000", OfferType: "percentage", DiscountPercentage: 5,
			Stackable: stackable, EnabledByCashier: enabled,
		})
		if err != nil {
			t.Fatalf("create offer: %v", err)
		}
		return offer.ID
	}

	nonStackA := mkOffer(false, true)
	nonStackB := mkOffer(false, true)
	_, err := svc.ApplyOffers(ctx, domain.OfferApplyRequest{SaleID: "S-80", OfferIDs: []int64{nonStackA, nonStackB}})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("non-stackable pair accepted: %v", err)
	}

	disabled := mkOffer(true, false)
	_, err = svc.ApplyOffers(ctx, domain.OfferApplyRequest{SaleID: "S-80", OfferIDs: []int64{disabled}})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("cashier-disabled offer accepted: %v", err)
	}

	resp, err := svc.ApplyOffers(ctx, domain.OfferApplyRequest{SaleID: "S-80", OfferIDs: []int64{nonStackA}})
	if err != nil {
		t.Fatalf("single non-stackable apply failed: %v", err)
	}
	if len(resp.Consumed) != 1 {
		t.Fatalf("expected one consumed offer, got %d", len(resp.Consumed))
	}

	stackA := mkOffer(true, true)
	stackB := mkOffer(true, true)
	resp, err = svc.ApplyOffers(ctx, domain.OfferApplyRequest{SaleID: "S-80", OfferIDs: []int64{stackA, stackB}})
	if err != nil {
		t.Fatalf("stackable pair apply failed: %v", err)
	}
	if len(resp.Consumed) != 2 {
		t.Fatalf("expected two consumed offers, got %d", len(resp.Consumed))
	}
}

func TestResolveUsedOffersTimeWindow(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := cashierCtx("kasir1")

	t0 := clk.Now()
	sale, err := svc.CreateSale(ctx, saleRequest("S-100", "9990001111", 15000))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	near, err := svc.CreateOffer(ctx, domain.OfferCreateRequest{Mobile: "9990001111", OfferType: "percentage", DiscountPercentage: 10, EnabledByCashier: true})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	far, err := svc.CreateOffer(ctx, domain.OfferCreateRequest{Mobile: "9990001111", OfferType: "percentage", DiscountPercentage: 15, EnabledByCashier: true})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	// Consumed without an explicit sale link: the window heuristic is
	// the only way to tie these back to the sale.
	clk.Set(t0.Add(3 * time.Minute))
	if _, err := svc.ConsumeOffer(ctx, near.ID, ""); err != nil {
		t.Fatalf("consume near offer: %v", err)
	}
	clk.Set(t0.Add(20 * time.Minute))
	if _, err := svc.ConsumeOffer(ctx, far.ID, ""); err != nil {
		t.Fatalf("consume far offer: %v", err)
	}

	matched, err := svc.ResolveUsedOffersForSale(ctx, "9990001111", sale.SaleID, sale.CreatedAt)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != near.ID {
		t.Fatalf("window match wrong: %+v", matched)
	}
}

func TestResolveUsedOffersPrefersExactLink(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := cashierCtx("kasir1")

	t0 := clk.Now()
	sale, err := svc.CreateSale(ctx, saleRequest("S-110", "9993330000", 9000))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	linked, err := svc.CreateOffer(ctx, domain.OfferCreateRequest{Mobile: "9993330000", OfferType: "amount", DiscountCents: 700, EnabledByCashier: true})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	unlinked, err := svc.CreateOffer(ctx, domain.OfferCreateRequest{Mobile: "9993330000", OfferType: "amount", DiscountCents: 300, EnabledByCashier: true})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	clk.Set(t0.Add(2 * time.Minute))
	if _, err := svc.ConsumeOffer(ctx, linked.ID, sale.SaleID); err != nil {
		t.Fatalf("consume linked: %v", err)
	}
	if _, err := svc.ConsumeOffer(ctx, unlinked.ID, ""); err != nil {
		t.Fatalf("consume unlinked: %v", err)
	}

	matched, err := svc.ResolveUsedOffersForSale(ctx, "9993330000", sale.SaleID, sale.CreatedAt)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != linked.ID {
		t.Fatalf("exact link should shadow window matches: %+v", matched)
	}
}

func TestAuditSessionTiming(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := cashierCtx("kasir1")

	t0 := clk.Now()
	started, err := svc.StartSession(ctx, domain.AuditSessionCreateRequest{SessionName: "aisle 3"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	id := started.Session.ID

	clk.Set(t0.Add(10 * time.Minute))
	paused, err := svc.PauseSession(ctx, id)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.ElapsedSeconds != 600 {
		t.Fatalf("elapsed at pause = %d, want 600", paused.ElapsedSeconds)
	}

	clk.Set(t0.Add(12 * time.Minute))
	resumed, err := svc.ResumeSession(ctx, id)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Session.TotalPauseSeconds != 120 {
		t.Fatalf("total pause = %d, want 120", resumed.Session.TotalPauseSeconds)
	}

	clk.Set(t0.Add(20 * time.Minute))
	completed, err := svc.CompleteSession(ctx, id)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.ElapsedSeconds != 1080 {
		t.Fatalf("frozen elapsed = %d, want 1080", completed.ElapsedSeconds)
	}

	// Elapsed must stay frozen as the wall clock advances.
	clk.Set(t0.Add(5 * time.Hour))
	later, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get completed session: %v", err)
	}
	if later.ElapsedSeconds != 1080 {
		t.Fatalf("elapsed drifted after completion: %d", later.ElapsedSeconds)
	}
}

func TestAuditSessionScanTally(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	started, err := svc.StartSession(ctx, domain.AuditSessionCreateRequest{SessionName: "cold storage"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	id := started.Session.ID

	for i := 0; i < 3; i++ {
		if _, err := svc.RecordScan(ctx, id, domain.AuditScanRequest{Barcode: "8990001000011"}); err != nil {
			t.Fatalf("scan: %v", err)
		}
	}
	resp, err := svc.RecordScan(ctx, id, domain.AuditScanRequest{Barcode: "8990001000028"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if resp.Session.ScannedData["8990001000011"] != 3 || resp.Session.ScannedData["8990001000028"] != 1 {
		t.Fatalf("unexpected tally: %v", resp.Session.ScannedData)
	}
}

func TestAuditSessionCompletedIsReadOnly(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	started, err := svc.StartSession(ctx, domain.AuditSessionCreateRequest{SessionName: "backroom"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	id := started.Session.ID
	if _, err := svc.CompleteSession(ctx, id); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := svc.RecordScan(ctx, id, domain.AuditScanRequest{Barcode: "x"}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("scan on completed session accepted: %v", err)
	}
	if _, err := svc.PauseSession(ctx, id); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("pause on completed session accepted: %v", err)
	}
	if _, err := svc.CompleteSession(ctx, id); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("double complete accepted: %v", err)
	}
}

func TestAuditSessionScopedToOwner(t *testing.T) {
	svc, _, _ := newTestService()

	started, err := svc.StartSession(cashierCtx("kasir1"), domain.AuditSessionCreateRequest{SessionName: "mine"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	if _, err := svc.GetSession(cashierCtx("kasir2"), started.Session.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign session visible: %v", err)
	}
	if err := svc.DeleteSession(cashierCtx("kasir2"), started.Session.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign session deletable: %v", err)
	}

	sessions, err := svc.ListSessions(cashierCtx("kasir2"))
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("foreign sessions listed: %d", len(sessions))
	}
}

func TestUpdateSaleItemKeepsIdentityRule(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("kasir1")

	sale, err := svc.CreateSale(ctx, saleRequest("S-120", "9994440000", 10000))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	itemID := sale.Items[0].ID

	qty := 5
	if _, err := svc.UpdateSaleItem(ctx, itemID, domain.SaleItemUpdateRequest{Quantity: &qty}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("identity-breaking quantity update accepted: %v", err)
	}

	total := int64(25000)
	updated, err := svc.UpdateSaleItem(ctx, itemID, domain.SaleItemUpdateRequest{Quantity: &qty, TotalPriceCents: &total})
	if err != nil {
		t.Fatalf("consistent item update rejected: %v", err)
	}
	if updated.Quantity != 5 || updated.TotalPriceCents != 25000 {
		t.Fatalf("update not applied: %+v", updated)
	}
}
