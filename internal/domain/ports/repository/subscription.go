package repository

import (
	"context"

	"subscription-reconciler/internal/domain/model"
)

// SubscriptionRepository is the port for persisted subscription records.
// Update is a merge-patch of the reconciler-owned columns; Delete is a hard
// delete. All writes are single-entity, last-write-wins.
type SubscriptionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Subscription, error)
	FindAllBySource(ctx context.Context, source model.SubscriptionSource) ([]*model.Subscription, error)
	FindActive(ctx context.Context) ([]*model.Subscription, error)
	FindNonActive(ctx context.Context) ([]*model.Subscription, error)

	// FindDangling returns subscriptions whose referential integrity is
	// broken: missing or empty user reference, or a user id that no longer
	// resolves.
	FindDangling(ctx context.Context) ([]*model.Subscription, error)

	Update(ctx context.Context, sub *model.Subscription) error
	Delete(ctx context.Context, sub *model.Subscription) error

	// CountByStatus feeds the subscriptions_total gauge.
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}
