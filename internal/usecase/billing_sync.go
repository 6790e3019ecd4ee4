package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription-reconciler/internal/domain"
	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/adapter"
	"subscription-reconciler/internal/domain/ports/repository"
	"subscription-reconciler/internal/infra/logging"

	"github.com/rs/zerolog"
)

// BillingSync reconciles local subscriptions of the recurring-billing source
// against the provider's live state. It only reads from the provider; local
// records and the user entitlement flag are the only things it writes.
type BillingSync struct {
	subs      repository.SubscriptionRepository
	users     repository.UserRepository
	provider  adapter.BillingProvider
	validator *Validator
	committer *Committer

	// minAge excludes subscriptions younger than this from provider diffing,
	// to avoid racing the provider's own webhook propagation.
	minAge time.Duration

	// graceMonthly / graceMonths: entitlement window after the last payment
	// once the subscription has left active-like status.
	graceMonthly time.Duration
	graceMonths  int

	now func() time.Time
	log *zerolog.Logger
}

func NewBillingSync(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	provider adapter.BillingProvider,
	validator *Validator,
	committer *Committer,
	minAge, graceMonthly time.Duration,
	graceMonths int,
	logger *zerolog.Logger,
) *BillingSync {
	sLog := logger.With().Str("component", "BillingSync").Str("provider", provider.Name()).Logger()
	return &BillingSync{
		subs:         subs,
		users:        users,
		provider:     provider,
		validator:    validator,
		committer:    committer,
		minAge:       minAge,
		graceMonthly: graceMonthly,
		graceMonths:  graceMonths,
		now:          time.Now,
		log:          &sLog,
	}
}

// Run processes every local billing subscription once, in randomized order.
// A failure on one subscription is logged and skipped; only the initial load
// aborts the routine.
func (s *BillingSync) Run(ctx context.Context, rc *RunContext) (RoutineStats, error) {
	defer logging.TraceDuration(s.log, "BillingSync.Run")()
	var stats RoutineStats

	subs, err := s.subs.FindAllBySource(ctx, model.SourcePayPal)
	if err != nil {
		return stats, fmt.Errorf("load %s subscriptions: %w", s.provider.Name(), err)
	}
	shuffle(subs)

	for _, sub := range subs {
		stats.Scanned++
		if err := s.syncOne(ctx, rc, sub, &stats); err != nil {
			stats.ItemErrors++
			s.log.Error().Err(err).Str("run_id", rc.ID).Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("subscription sync failed")
		}
	}

	stats.Commits = s.committer.Save(ctx, subs)
	return stats, nil
}

func (s *BillingSync) syncOne(ctx context.Context, rc *RunContext, sub *model.Subscription, stats *RoutineStats) error {
	user, err := s.findUser(ctx, sub.UserID)
	if err != nil {
		return err
	}

	outcome, err := s.validator.Validate(ctx, sub, user)
	stats.add(outcome)
	if err != nil {
		return err
	}
	if outcome == OutcomeDeleted || outcome == OutcomeExpired {
		return nil
	}

	// Provider diffing only makes sense for entitled users, and never for
	// subscriptions still inside the provider propagation window.
	if user.IsZero() || !user.IsPro {
		return nil
	}
	if s.now().Sub(sub.DateCreated) < s.minAge {
		return nil
	}

	live, err := s.provider.GetSubscription(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("fetch %s subscription: %w", s.provider.Name(), err)
	}

	if sub.Billing == nil {
		return fmt.Errorf("subscription %s has source %s but no billing payload: %w", sub.ID, sub.Source, domain.ErrInvalidArgument)
	}

	// Payment metadata drift, compared at day granularity.
	if live.LastPayment != nil && !samePaymentDay(sub.Billing.LastPayment, live.LastPayment) {
		lp := *live.LastPayment
		sub.Billing.LastPayment = &lp
		sub.Billing.Price = lp.Amount
		sub.Billing.Currency = lp.Currency
		sub.PendingUpdate = true
		s.log.Info().Str("run_id", rc.ID).Str("subscription_id", sub.ID).Time("payment_date", lp.Date).Msg("synced last payment from provider")
	}

	// Status drift: adopt the live status. Lifetime subscriptions never
	// change status from provider state.
	if sub.Billing.Frequency != model.FrequencyLifetime && live.Status != "" && sub.Status != live.Status {
		s.log.Info().Str("run_id", rc.ID).Str("subscription_id", sub.ID).Str("from", string(sub.Status)).Str("to", string(live.Status)).Msg("adopted provider status")
		sub.Status = live.Status
		sub.PendingUpdate = true
	}

	// Grace period: once terminal, the user keeps entitlement until the
	// computed deadline, then drops to free unless another active
	// subscription covers them.
	if sub.Terminal() && sub.Billing.Frequency != model.FrequencyLifetime {
		deadline, ok := s.graceDeadline(sub)
		if !ok {
			// No payment on record to anchor the grace window; leave the
			// entitlement alone until payment data syncs.
			return nil
		}
		if s.now().After(deadline) {
			other, err := rc.HasOtherActive(ctx, sub.UserID, sub.ID)
			if err != nil {
				return err
			}
			if !other {
				if err := s.users.SwitchToFree(ctx, user, sub); err != nil {
					return err
				}
				stats.Downgrades++
				s.log.Info().Str("run_id", rc.ID).Str("subscription_id", sub.ID).Str("user_id", user.ID).Time("grace_deadline", deadline).Msg("grace period over, user switched to free")
			}
		}
	}

	return nil
}

func (s *BillingSync) findUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (s *BillingSync) graceDeadline(sub *model.Subscription) (time.Time, bool) {
	lp := sub.Billing.LastPayment
	if lp == nil {
		return time.Time{}, false
	}
	if sub.Billing.Frequency == model.FrequencyMonthly {
		return lp.Date.Add(s.graceMonthly), true
	}
	return lp.Date.AddDate(0, s.graceMonths, 0), true
}

// samePaymentDay compares two payments at day granularity.
func samePaymentDay(a, b *model.Payment) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return dayStart(a.Date).Equal(dayStart(b.Date))
}
