package cache

import (
	"context"
	"time"

	"retailpos/backend/internal/domain"
)

// CustomerSummaryCache caches the combined rollup + offers view per
// mobile number. Writers invalidate the mobile's key after any sale or
// offer mutation.
type CustomerSummaryCache interface {
	Get(ctx context.Context, key string) (*domain.CustomerSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.CustomerSummary, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopCustomerSummaryCache struct{}

func (NoopCustomerSummaryCache) Get(_ context.Context, _ string) (*domain.CustomerSummary, bool, error) {
	return nil, false, nil
}

func (NoopCustomerSummaryCache) Set(_ context.Context, _ string, _ *domain.CustomerSummary, _ time.Duration) error {
	return nil
}

func (NoopCustomerSummaryCache) Delete(_ context.Context, _ string) error {
	return nil
}
