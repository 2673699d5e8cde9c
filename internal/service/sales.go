package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// CreateSale validates the request, assigns the business key when the
// terminal did not send one, and persists header, items and rollup as
// one atomic write. A duplicate sale_id surfaces as store.ErrConflict
// with no partial rows behind it.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.Sale, error) {
	saleID := strings.TrimSpace(req.SaleID)
	if saleID == "" {
		saleID = xid.New("sale")
	}

	if err := validatePaymentSplit(req.PaymentMethod, req.CashCents, req.OnlineCents, req.FinalCents); err != nil {
		return nil, err
	}

	var dob *time.Time
	if req.CustomerDOB != "" {
		parsed, err := time.Parse("2006-01-02", req.CustomerDOB)
		if err != nil {
			return nil, store.ErrInvalid
		}
		dob = &parsed
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, it := range req.Items {
		if err := validateLineAmounts(it.ManualOverride, it.Quantity, it.UnitPriceCents, it.TotalPriceCents); err != nil {
			return nil, err
		}
		items = append(items, domain.SaleItem{
			ItemID:          it.ItemID,
			Quantity:        it.Quantity,
			UnitPriceCents:  it.UnitPriceCents,
			TotalPriceCents: it.TotalPriceCents,
			ManualOverride:  it.ManualOverride,
		})
	}

	cashier := ""
	if actor, ok := ActorFromContext(ctx); ok {
		cashier = actor.Username
	}

	sale := domain.Sale{
		SaleID:         saleID,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerMobile: strings.TrimSpace(req.CustomerMobile),
		CustomerDOB:    dob,
		TotalCents:     req.TotalCents,
		DiscountCents:  req.DiscountCents,
		TaxCents:       req.TaxCents,
		FinalCents:     req.FinalCents,
		PaymentMethod:  req.PaymentMethod,
		CashCents:      req.CashCents,
		OnlineCents:    req.OnlineCents,
		Cashier:        cashier,
		CreatedAt:      s.now(),
		Items:          items,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, created.CustomerMobile)
	s.logAction(ctx, "sale_create", "sale", created.SaleID, fmt.Sprintf("final=%d,items=%d,method=%s", created.FinalCents, len(created.Items), created.PaymentMethod))
	return created, nil
}

// GetSale resolves a path reference that may be either the numeric row
// id or the sale_id business key.
func (s *Service) GetSale(ctx context.Context, ref string) (*domain.Sale, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, store.ErrInvalid
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		sale, err := s.repo.GetSaleByID(ctx, id)
		if err == nil {
			return sale, nil
		}
		if err != store.ErrNotFound {
			return nil, err
		}
	}
	return s.repo.GetSaleBySaleID(ctx, ref)
}

func (s *Service) UpdateSaleHeader(ctx context.Context, ref string, req domain.SaleHeaderUpdateRequest) (*domain.Sale, error) {
	existing, err := s.GetSale(ctx, ref)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.CustomerName != nil {
		updated.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.CustomerMobile != nil {
		updated.CustomerMobile = strings.TrimSpace(*req.CustomerMobile)
	}
	if req.TotalCents != nil {
		updated.TotalCents = *req.TotalCents
	}
	if req.DiscountCents != nil {
		updated.DiscountCents = *req.DiscountCents
	}
	if req.TaxCents != nil {
		updated.TaxCents = *req.TaxCents
	}
	if req.FinalCents != nil {
		updated.FinalCents = *req.FinalCents
	}
	if req.PaymentMethod != nil {
		updated.PaymentMethod = *req.PaymentMethod
	}
	if req.CashCents != nil {
		updated.CashCents = *req.CashCents
	}
	if req.OnlineCents != nil {
		updated.OnlineCents = *req.OnlineCents
	}

	if updated.TotalCents < 0 || updated.DiscountCents < 0 || updated.TaxCents < 0 || updated.FinalCents < 0 {
		return nil, store.ErrInvalid
	}
	if err := validatePaymentSplit(updated.PaymentMethod, updated.CashCents, updated.OnlineCents, updated.FinalCents); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpdateSaleHeader(ctx, updated)
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, existing.CustomerMobile)
	s.invalidateSummary(ctx, saved.CustomerMobile)
	s.logAction(ctx, "sale_update", "sale", saved.SaleID, fmt.Sprintf("final=%d,method=%s", saved.FinalCents, saved.PaymentMethod))
	return saved, nil
}

// DeleteSale removes the sale and reverses its contribution to the
// customer rollup. Admin only; cashiers cannot erase recorded revenue.
func (s *Service) DeleteSale(ctx context.Context, ref string) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required: %w", ErrForbidden)
	}

	existing, err := s.GetSale(ctx, ref)
	if err != nil {
		return nil, err
	}

	deleted, err := s.repo.DeleteSale(ctx, existing.ID)
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, deleted.CustomerMobile)
	s.logAction(ctx, "sale_delete", "sale", deleted.SaleID, fmt.Sprintf("final=%d", deleted.FinalCents))
	return deleted, nil
}

func (s *Service) ListSalesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, store.ErrInvalid
	}
	return s.repo.ListSalesByDateRange(ctx, from.UTC(), to.UTC())
}

func (s *Service) AddSaleItem(ctx context.Context, saleRef string, req domain.SaleItemCreateRequest) (*domain.SaleItem, error) {
	sale, err := s.GetSale(ctx, saleRef)
	if err != nil {
		return nil, err
	}
	if err := validateLineAmounts(req.ManualOverride, req.Quantity, req.UnitPriceCents, req.TotalPriceCents); err != nil {
		return nil, err
	}

	created, err := s.repo.AddSaleItem(ctx, domain.SaleItem{
		SaleID:          sale.SaleID,
		ItemID:          req.ItemID,
		Quantity:        req.Quantity,
		UnitPriceCents:  req.UnitPriceCents,
		TotalPriceCents: req.TotalPriceCents,
		ManualOverride:  req.ManualOverride,
	})
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, "sale_item_add", "sale_item", formatID(created.ID), fmt.Sprintf("sale=%s,item=%d,qty=%d", sale.SaleID, created.ItemID, created.Quantity))
	return created, nil
}

func (s *Service) UpdateSaleItem(ctx context.Context, itemID int64, req domain.SaleItemUpdateRequest) (*domain.SaleItem, error) {
	existing, err := s.repo.GetSaleItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.Quantity != nil {
		updated.Quantity = *req.Quantity
	}
	if req.UnitPriceCents != nil {
		updated.UnitPriceCents = *req.UnitPriceCents
	}
	if req.TotalPriceCents != nil {
		updated.TotalPriceCents = *req.TotalPriceCents
	}
	if req.ManualOverride != nil {
		updated.ManualOverride = *req.ManualOverride
	}

	if err := validateLineAmounts(updated.ManualOverride, updated.Quantity, updated.UnitPriceCents, updated.TotalPriceCents); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpdateSaleItem(ctx, updated)
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, "sale_item_update", "sale_item", formatID(saved.ID), fmt.Sprintf("sale=%s,qty=%d,total=%d", saved.SaleID, saved.Quantity, saved.TotalPriceCents))
	return saved, nil
}

func (s *Service) DeleteSaleItem(ctx context.Context, itemID int64) error {
	existing, err := s.repo.GetSaleItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSaleItem(ctx, itemID); err != nil {
		return err
	}
	s.logAction(ctx, "sale_item_delete", "sale_item", formatID(itemID), fmt.Sprintf("sale=%s", existing.SaleID))
	return nil
}

func (s *Service) GetCustomerRollup(ctx context.Context, mobile string) (*domain.CustomerRollup, error) {
	if mobile == "" {
		return nil, store.ErrInvalid
	}
	return s.repo.GetCustomerRollup(ctx, mobile)
}

// validatePaymentSplit enforces the per-method invariants on the cash
// and online components of a sale. Every non-pending method must
// satisfy cash + online == final.
func validatePaymentSplit(method string, cashCents int64, onlineCents int64, finalCents int64) error {
	if cashCents < 0 || onlineCents < 0 {
		return store.ErrInvalid
	}
	switch method {
	case domain.PaymentMethodCash:
		if onlineCents != 0 || cashCents != finalCents {
			return store.ErrInvalid
		}
	case domain.PaymentMethodOnline:
		if cashCents != 0 || onlineCents != finalCents {
			return store.ErrInvalid
		}
	case domain.PaymentMethodMixed:
		if cashCents < 1 || onlineCents < 1 || cashCents+onlineCents != finalCents {
			return store.ErrInvalid
		}
	case domain.PaymentMethodPending:
		// Settlement is recorded later via a header update.
	default:
		return store.ErrInvalid
	}
	return nil
}

// validateLineAmounts checks the quantity*unit identity. A line marked
// manual_override skips the identity and keeps whatever total the
// cashier keyed in.
func validateLineAmounts(manualOverride bool, quantity int, unitPriceCents int64, totalPriceCents int64) error {
	if quantity < 1 || unitPriceCents < 0 || totalPriceCents < 0 {
		return store.ErrInvalid
	}
	if manualOverride {
		return nil
	}
	if totalPriceCents != unitPriceCents*int64(quantity) {
		return store.ErrInvalid
	}
	return nil
}
