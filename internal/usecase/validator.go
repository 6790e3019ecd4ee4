package usecase

import (
	"time"

	"context"

	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// ValidationOutcome tells the calling routine what the state machine decided
// for a (subscription, user) pair.
type ValidationOutcome int

const (
	// OutcomeNone means no rule matched; the record was left untouched.
	OutcomeNone ValidationOutcome = iota
	// OutcomeDeleted means the subscription was removed from the store.
	OutcomeDeleted
	// OutcomeExpired means the subscription transitioned to EXPIRED and was
	// flagged for commit.
	OutcomeExpired
	// OutcomeHealed means the user's entitlement was repaired to match an
	// ACTIVE subscription.
	OutcomeHealed
)

// Validator computes the next status and entitlement for a subscription/user
// pair. Rules are evaluated in order, first match wins. Subscription changes
// are queued on PendingUpdate for the committer; user writes happen
// immediately (no transaction spans both entities, convergence heals any
// partial failure on the next run).
type Validator struct {
	subs  repository.SubscriptionRepository
	users repository.UserRepository

	// idleThreshold is how stale an unresolvable subscription must be
	// before it is deleted rather than expired.
	idleThreshold time.Duration

	now func() time.Time
	log *zerolog.Logger
}

func NewValidator(subs repository.SubscriptionRepository, users repository.UserRepository, idleThreshold time.Duration, logger *zerolog.Logger) *Validator {
	vLog := logger.With().Str("component", "Validator").Logger()
	return &Validator{
		subs:          subs,
		users:         users,
		idleThreshold: idleThreshold,
		now:           time.Now,
		log:           &vLog,
	}
}

// Validate applies the transition rules to one subscription. The user may be
// nil when the reference does not resolve. Deterministic given its inputs;
// repeated calls with unchanged state are no-ops.
func (v *Validator) Validate(ctx context.Context, sub *model.Subscription, user *model.User) (ValidationOutcome, error) {
	now := v.now()

	// Rule 1: dangling user reference.
	if user.IsZero() {
		if now.Sub(sub.DateUpdated) > v.idleThreshold {
			if err := v.subs.Delete(ctx, sub); err != nil {
				return OutcomeNone, err
			}
			v.log.Info().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("deleted idle subscription with unresolvable user")
			return OutcomeDeleted, nil
		}
		if sub.Status != model.SubscriptionStatusExpired {
			sub.Expire(now)
			v.log.Info().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("expired subscription with unresolvable user")
			return OutcomeExpired, nil
		}
		return OutcomeNone, nil
	}

	// Rule 2: stale active-like status. The subscription expires at the start
	// of its expiry day. Returns early so rule 3 can never also fire.
	if !sub.Terminal() && sub.DateExpiry != nil && dayStart(*sub.DateExpiry).Before(now) {
		sub.Expire(now)
		v.log.Info().Str("subscription_id", sub.ID).Str("user_id", user.ID).Time("date_expiry", *sub.DateExpiry).Msg("subscription past expiry date")
		if user.IsPro {
			// Pass this subscription so the reference is cleared only if it
			// still points here.
			if err := v.users.SwitchToFree(ctx, user, sub); err != nil {
				return OutcomeExpired, err
			}
		}
		return OutcomeExpired, nil
	}

	// Rule 3: drift, active subscription but user not entitled. The
	// subscription record wins: it is written by provider sync, which is the
	// more authoritative side.
	if sub.Status == model.SubscriptionStatusActive && !user.IsPro {
		user.IsPro = true
		user.SubscriptionID = sub.ID
		if err := v.users.Update(ctx, user); err != nil {
			return OutcomeNone, err
		}
		v.log.Info().Str("subscription_id", sub.ID).Str("user_id", user.ID).Msg("healed entitlement for active subscription")
		return OutcomeHealed, nil
	}

	return OutcomeNone, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
