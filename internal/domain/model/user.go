package model

import (
	"subscription-reconciler/internal/domain"
)

// User is the entitlement-relevant slice of a user record. IsPro must always
// be justified by an ACTIVE (or in-grace) subscription; the reconciliation
// core heals any divergence within one run.
type User struct {
	ID          string
	DisplayName string
	IsPro       bool

	// SubscriptionID references the subscription currently granting
	// entitlement; empty when the user is on the free plan.
	SubscriptionID string
}

func NewUser(id, displayName string) (*User, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &User{ID: id, DisplayName: displayName}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
