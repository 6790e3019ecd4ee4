package model

import (
	"strings"
	"time"

	"subscription-reconciler/internal/domain"
)

type SubscriptionSource string

const (
	SourcePayPal SubscriptionSource = "paypal"
	SourceGitHub SubscriptionSource = "github"
	SourceTrial  SubscriptionSource = "trial"
	SourceManual SubscriptionSource = "manual"
)

// SubscriptionStatus values mirror the billing provider's wire statuses.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusSuspended SubscriptionStatus = "SUSPENDED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

type BillingFrequency string

const (
	FrequencyMonthly  BillingFrequency = "monthly"
	FrequencyYearly   BillingFrequency = "yearly"
	FrequencyLifetime BillingFrequency = "lifetime"
)

// ParseBillingFrequency normalizes a stored frequency value. Rows written by
// other services have shown up with mixed casing; grace-window math branches
// on the canonical lowercase values, so normalization happens here rather
// than at every comparison site.
func ParseBillingFrequency(s string) BillingFrequency {
	return BillingFrequency(strings.ToLower(s))
}

// Payment is the last charge a billing provider reported for a subscription.
type Payment struct {
	Date     time.Time
	Amount   float64
	Currency string
}

// BillingInfo carries the recurring-billing fields. It is only set for
// subscriptions whose Source is SourcePayPal; sponsorship, trial and manual
// subscriptions have no billing payload.
type BillingInfo struct {
	Frequency   BillingFrequency
	Price       float64
	Currency    string
	LastPayment *Payment
}

// Subscription is a locally persisted record of an entitlement grant. The ID
// is provider-scoped where applicable (PayPal subscription id, GitHub sponsor
// id).
type Subscription struct {
	ID          string
	UserID      string
	Source      SubscriptionSource
	Status      SubscriptionStatus
	DateCreated time.Time
	DateUpdated time.Time
	DateExpiry  *time.Time

	// Billing is non-nil only when Source == SourcePayPal.
	Billing *BillingInfo

	// PendingUpdate gates the commit step; it is never persisted as true.
	PendingUpdate bool
}

func NewSubscription(id, userID string, source SubscriptionSource) (*Subscription, error) {
	if id == "" || userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	s := &Subscription{
		ID:          id,
		UserID:      userID,
		Source:      source,
		Status:      SubscriptionStatusPending,
		DateCreated: now,
		DateUpdated: now,
	}
	if source == SourcePayPal {
		s.Billing = &BillingInfo{Frequency: FrequencyMonthly}
	}
	return s, nil
}

// Terminal reports whether the status is one the state machine never heals
// back to ACTIVE on its own; only a provider event flips it.
func (s *Subscription) Terminal() bool {
	switch s.Status {
	case SubscriptionStatusSuspended, SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// Frequency returns the billing frequency, or the zero value for
// subscriptions without a billing payload.
func (s *Subscription) Frequency() BillingFrequency {
	if s.Billing == nil {
		return ""
	}
	return s.Billing.Frequency
}

// Expire marks the subscription expired as of now and flags it for commit.
func (s *Subscription) Expire(now time.Time) {
	s.Status = SubscriptionStatusExpired
	s.DateExpiry = &now
	s.PendingUpdate = true
}

func (s *Subscription) IsZero() bool { return s == nil || s.ID == "" }
