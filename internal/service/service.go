package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// ErrForbidden marks operations the calling actor is not permitted to
// perform, either because no actor is attached or the role is wrong.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultOfferMatchWindow = 10 * time.Minute
	summaryCacheTTL         = 5 * time.Minute
)

type Service struct {
	repo             store.Repository
	summaryCache     cache.CustomerSummaryCache
	offerMatchWindow time.Duration

	// now is swapped in tests to pin elapsed-time math.
	now func() time.Time
}

func New(repo store.Repository, summaryCache cache.CustomerSummaryCache, offerMatchWindow time.Duration) *Service {
	if summaryCache == nil {
		summaryCache = cache.NoopCustomerSummaryCache{}
	}
	if offerMatchWindow <= 0 {
		offerMatchWindow = defaultOfferMatchWindow
	}

	return &Service{
		repo:             repo,
		summaryCache:     summaryCache,
		offerMatchWindow: offerMatchWindow,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListInventory(ctx)
}

func (s *Service) GetInventoryItem(ctx context.Context, id int64) (*domain.InventoryItem, error) {
	return s.repo.GetInventoryItem(ctx, id)
}

func (s *Service) GetInventoryItemByBarcode(ctx context.Context, barcode string) (*domain.InventoryItem, error) {
	if barcode == "" {
		return nil, store.ErrInvalid
	}
	return s.repo.GetInventoryItemByBarcode(ctx, barcode)
}

// CustomerSummary serves the rollup plus offer history for one mobile,
// through the cache when one is wired.
func (s *Service) CustomerSummary(ctx context.Context, mobile string) (*domain.CustomerSummary, error) {
	if mobile == "" {
		return nil, store.ErrInvalid
	}

	key := summaryCacheKey(mobile)
	if cached, found, err := s.summaryCache.Get(ctx, key); err != nil {
		log.Printf("[cache] WARN: summary read failed mobile=%s: %v", mobile, err)
	} else if found {
		return cached, nil
	}

	rollup, err := s.repo.GetCustomerRollup(ctx, mobile)
	if err != nil {
		return nil, err
	}
	offers, err := s.repo.ListOffers(ctx, mobile)
	if err != nil {
		return nil, err
	}

	summary := &domain.CustomerSummary{Rollup: *rollup, Offers: offers}
	if err := s.summaryCache.Set(ctx, key, summary, summaryCacheTTL); err != nil {
		log.Printf("[cache] WARN: summary write failed mobile=%s: %v", mobile, err)
	}
	return summary, nil
}

func (s *Service) invalidateSummary(ctx context.Context, mobile string) {
	if mobile == "" {
		return
	}
	if err := s.summaryCache.Delete(ctx, summaryCacheKey(mobile)); err != nil {
		log.Printf("[cache] WARN: summary invalidation failed mobile=%s: %v", mobile, err)
	}
}

func summaryCacheKey(mobile string) string {
	return "customer:summary:" + mobile
}

func (s *Service) logAction(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateActionLog(ctx, domain.ActionLog{
		ID:            xid.New("act"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[actionlog] WARN: failed to record action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) ListActionLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ActionLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required: %w", ErrForbidden)
	}
	if !from.Before(to) {
		return nil, store.ErrInvalid
	}
	return s.repo.ListActionLogs(ctx, from, to, limit)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
