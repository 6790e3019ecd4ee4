package usecase

import (
	"context"
	"errors"
	"fmt"

	"subscription-reconciler/internal/domain"
	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/repository"
	"subscription-reconciler/internal/infra/logging"

	"github.com/rs/zerolog"
)

// OrphanCleaner removes dangling subscription records and repairs users whose
// entitlement points at a subscription that no longer exists. It is the final
// safety net closing the loop between User and Subscription.
type OrphanCleaner struct {
	subs      repository.SubscriptionRepository
	users     repository.UserRepository
	validator *Validator
	committer *Committer
	log       *zerolog.Logger
}

func NewOrphanCleaner(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	validator *Validator,
	committer *Committer,
	logger *zerolog.Logger,
) *OrphanCleaner {
	oLog := logger.With().Str("component", "OrphanCleaner").Logger()
	return &OrphanCleaner{
		subs:      subs,
		users:     users,
		validator: validator,
		committer: committer,
		log:       &oLog,
	}
}

// CheckNonActive deletes dangling subscriptions and then re-validates the
// remaining non-active records. Users that still hold an active subscription
// in the run's index are skipped, so a stale secondary record never competes
// with a valid primary one.
func (c *OrphanCleaner) CheckNonActive(ctx context.Context, rc *RunContext) (RoutineStats, error) {
	defer logging.TraceDuration(c.log, "OrphanCleaner.CheckNonActive")()
	var stats RoutineStats

	dangling, err := c.subs.FindDangling(ctx)
	if err != nil {
		return stats, fmt.Errorf("load dangling subscriptions: %w", err)
	}
	deleted := make(map[string]struct{}, len(dangling))
	for _, sub := range dangling {
		stats.Scanned++
		if err := c.deleteDangling(ctx, sub); err != nil {
			stats.ItemErrors++
			c.log.Error().Err(err).Str("run_id", rc.ID).Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("dangling cleanup failed")
			continue
		}
		deleted[sub.ID] = struct{}{}
		stats.Deleted++
	}

	nonActive, err := c.subs.FindNonActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("load non-active subscriptions: %w", err)
	}
	for _, sub := range nonActive {
		if _, gone := deleted[sub.ID]; gone {
			continue
		}
		covered, err := rc.HasActive(ctx, sub.UserID)
		if err != nil {
			return stats, err
		}
		if covered {
			continue
		}
		stats.Scanned++
		user, err := c.findUser(ctx, sub.UserID)
		if err == nil {
			var outcome ValidationOutcome
			outcome, err = c.validator.Validate(ctx, sub, user)
			stats.add(outcome)
		}
		if err != nil {
			stats.ItemErrors++
			c.log.Error().Err(err).Str("run_id", rc.ID).Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("non-active validation failed")
		}
	}

	stats.Commits = c.committer.Save(ctx, nonActive)
	return stats, nil
}

// deleteDangling removes one broken record. The user's subscription reference
// is cleared only if it still points at the deleted record, so a different,
// valid subscription written concurrently is never clobbered.
func (c *OrphanCleaner) deleteDangling(ctx context.Context, sub *model.Subscription) error {
	if err := c.subs.Delete(ctx, sub); err != nil {
		return err
	}
	c.log.Info().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Str("source", string(sub.Source)).Msg("deleted dangling subscription")

	user, err := c.findUser(ctx, sub.UserID)
	if err != nil {
		return err
	}
	if !user.IsZero() && user.SubscriptionID == sub.ID {
		return c.users.SwitchToFree(ctx, user, sub)
	}
	return nil
}

// CheckMissing downgrades every pro user whose subscription reference does
// not resolve to an existing record.
func (c *OrphanCleaner) CheckMissing(ctx context.Context, rc *RunContext) (RoutineStats, error) {
	defer logging.TraceDuration(c.log, "OrphanCleaner.CheckMissing")()
	var stats RoutineStats

	proUsers, err := c.users.FindPro(ctx)
	if err != nil {
		return stats, fmt.Errorf("load pro users: %w", err)
	}

	for _, user := range proUsers {
		stats.Scanned++
		missing, err := c.subscriptionMissing(ctx, user)
		if err != nil {
			stats.ItemErrors++
			c.log.Error().Err(err).Str("run_id", rc.ID).Str("user_id", user.ID).Msg("entitlement check failed")
			continue
		}
		if !missing {
			continue
		}
		staleRef := user.SubscriptionID
		if err := c.users.SwitchToFree(ctx, user, nil); err != nil {
			stats.ItemErrors++
			c.log.Error().Err(err).Str("run_id", rc.ID).Str("user_id", user.ID).Msg("downgrade failed")
			continue
		}
		stats.Downgrades++
		c.log.Info().Str("run_id", rc.ID).Str("user_id", user.ID).Str("subscription_id", staleRef).Msg("pro user had no resolvable subscription, switched to free")
	}
	return stats, nil
}

func (c *OrphanCleaner) subscriptionMissing(ctx context.Context, user *model.User) (bool, error) {
	if user.SubscriptionID == "" {
		return true, nil
	}
	_, err := c.subs.FindByID(ctx, user.SubscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (c *OrphanCleaner) findUser(ctx context.Context, id string) (*model.User, error) {
	user, err := c.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}
