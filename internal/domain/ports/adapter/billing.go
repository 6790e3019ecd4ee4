package adapter

import (
	"context"
	"time"

	"subscription-reconciler/internal/domain/model"
)

// ProviderSubscription is the read-only view of one subscription as the
// billing provider currently sees it.
type ProviderSubscription struct {
	ID          string
	Status      model.SubscriptionStatus
	LastPayment *model.Payment
	DateUpdated time.Time
}

// BillingProvider exposes read access to a recurring-billing provider.
// Implementations never mutate provider-side state.
type BillingProvider interface {
	Name() string
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
}
