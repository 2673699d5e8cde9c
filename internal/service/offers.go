package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func (s *Service) CreateOffer(ctx context.Context, req domain.OfferCreateRequest) (*domain.CustomerOffer, error) {
	mobile := strings.TrimSpace(req.Mobile)
	offerType := strings.TrimSpace(req.OfferType)
	if mobile == "" || offerType == "" {
		return nil, store.ErrInvalid
	}
	if req.DiscountPercentage < 0 || req.DiscountPercentage > 100 || req.DiscountCents < 0 {
		return nil, store.ErrInvalid
	}

	validFrom, err := parseOptionalDate(req.ValidFrom)
	if err != nil {
		return nil, err
	}
	validUntil, err := parseOptionalDate(req.ValidUntil)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateOffer(ctx, domain.CustomerOffer{
		Mobile:             mobile,
		OfferType:          offerType,
		Description:        strings.TrimSpace(req.Description),
		DiscountPercentage: req.DiscountPercentage,
		DiscountCents:      req.DiscountCents,
		BundleEligible:     req.BundleEligible,
		EnabledByCashier:   req.EnabledByCashier,
		Stackable:          req.Stackable,
		ValidFrom:          validFrom,
		ValidUntil:         validUntil,
		CreatedAt:          s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx, mobile)
	s.logAction(ctx, "offer_create", "offer", formatID(created.ID), fmt.Sprintf("mobile=%s,type=%s", mobile, offerType))
	return created, nil
}

// ListOffers returns every offer for the mobile, newest first. Validity
// windows are deliberately not applied; offers remain usable past
// valid_until.
func (s *Service) ListOffers(ctx context.Context, mobile string) ([]domain.CustomerOffer, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return nil, store.ErrInvalid
	}
	return s.repo.ListOffers(ctx, mobile)
}

func (s *Service) GetOffer(ctx context.Context, id int64) (*domain.CustomerOffer, error) {
	return s.repo.GetOffer(ctx, id)
}

// ConsumeOffer flips the offer to used exactly once. A second call on
// the same offer is a no-op reporting AlreadyUsed; it never rewrites
// used_at or the consuming sale.
func (s *Service) ConsumeOffer(ctx context.Context, id int64, saleID string) (*domain.OfferConsumeResponse, error) {
	offer, alreadyUsed, err := s.repo.ConsumeOffer(ctx, id, strings.TrimSpace(saleID), s.now())
	if err != nil {
		return nil, err
	}

	if !alreadyUsed {
		s.invalidateSummary(ctx, offer.Mobile)
		s.logAction(ctx, "offer_consume", "offer", formatID(offer.ID), fmt.Sprintf("mobile=%s,sale=%s", offer.Mobile, strings.TrimSpace(saleID)))
	}
	return &domain.OfferConsumeResponse{Offer: *offer, AlreadyUsed: alreadyUsed}, nil
}

// ApplyOffers consumes a batch of offers against one sale. Either every
// offer in the batch is stackable, or the batch is a single
// non-stackable offer. Offers not enabled by a cashier are rejected.
func (s *Service) ApplyOffers(ctx context.Context, req domain.OfferApplyRequest) (*domain.OfferApplyResponse, error) {
	saleID := strings.TrimSpace(req.SaleID)
	if saleID == "" || len(req.OfferIDs) == 0 {
		return nil, store.ErrInvalid
	}

	sale, err := s.repo.GetSaleBySaleID(ctx, saleID)
	if err != nil {
		return nil, err
	}

	offers, err := s.repo.GetOffersByIDs(ctx, req.OfferIDs)
	if err != nil {
		return nil, err
	}
	if len(offers) != len(dedupeIDs(req.OfferIDs)) {
		return nil, store.ErrNotFound
	}

	for _, offer := range offers {
		if !offer.EnabledByCashier {
			return nil, store.ErrInvalid
		}
		if sale.CustomerMobile != "" && offer.Mobile != sale.CustomerMobile {
			return nil, store.ErrInvalid
		}
	}
	if len(offers) > 1 {
		for _, offer := range offers {
			if !offer.Stackable {
				return nil, store.ErrInvalid
			}
		}
	}

	consumed := make([]domain.CustomerOffer, 0, len(offers))
	for _, offer := range offers {
		result, alreadyUsed, err := s.repo.ConsumeOffer(ctx, offer.ID, saleID, s.now())
		if err != nil {
			return nil, err
		}
		if alreadyUsed {
			continue
		}
		consumed = append(consumed, *result)
		s.logAction(ctx, "offer_consume", "offer", formatID(result.ID), fmt.Sprintf("mobile=%s,sale=%s", result.Mobile, saleID))
	}

	if len(consumed) > 0 {
		s.invalidateSummary(ctx, consumed[0].Mobile)
	}
	return &domain.OfferApplyResponse{SaleID: saleID, Consumed: consumed}, nil
}

// ResolveUsedOffersForSale reconciles which offers paid into a sale.
// Offers explicitly linked via sale_id win; when none exist, used
// offers for the same mobile whose used_at falls within the match
// window of the sale's creation time are returned instead.
func (s *Service) ResolveUsedOffersForSale(ctx context.Context, mobile string, saleID string, saleCreatedAt time.Time) ([]domain.CustomerOffer, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return nil, store.ErrInvalid
	}

	exact, err := s.repo.ListUsedOffersBySale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		return exact, nil
	}

	mobile = strings.TrimSpace(mobile)
	if mobile == "" || saleCreatedAt.IsZero() {
		return []domain.CustomerOffer{}, nil
	}

	used, err := s.repo.ListUsedOffersByMobile(ctx, mobile)
	if err != nil {
		return nil, err
	}

	matched := make([]domain.CustomerOffer, 0, len(used))
	for _, offer := range used {
		if offer.UsedAt == nil {
			continue
		}
		gap := offer.UsedAt.Sub(saleCreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= s.offerMatchWindow {
			matched = append(matched, offer)
		}
	}
	return matched, nil
}

func (s *Service) DeleteOffer(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required: %w", ErrForbidden)
	}

	offer, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteOffer(ctx, id); err != nil {
		return err
	}

	s.invalidateSummary(ctx, offer.Mobile)
	s.logAction(ctx, "offer_delete", "offer", formatID(id), fmt.Sprintf("mobile=%s", offer.Mobile))
	return nil
}

func parseOptionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, store.ErrInvalid
		}
	}
	utc := t.UTC()
	return &utc, nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
