package repository

import (
	"context"

	"subscription-reconciler/internal/domain/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindPro returns every user currently holding the entitlement flag.
	FindPro(ctx context.Context) ([]*model.User, error)

	Update(ctx context.Context, u *model.User) error

	// SwitchToFree clears the entitlement flag. When sub is non-nil the
	// subscription reference is cleared only if it still points at that
	// record, so a concurrently written valid reference is never clobbered.
	// With a nil sub the reference is cleared unconditionally.
	SwitchToFree(ctx context.Context, u *model.User, sub *model.Subscription) error
}
