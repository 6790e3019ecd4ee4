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

// SponsorshipSync reconciles sponsorship-sourced subscriptions against the
// provider's live sponsor feed. Unlike BillingSync it fetches one list for
// the whole run instead of one record per subscription; a local subscription
// absent from that list is treated as expired.
type SponsorshipSync struct {
	subs      repository.SubscriptionRepository
	users     repository.UserRepository
	provider  adapter.SponsorshipProvider
	validator *Validator
	committer *Committer

	minAge time.Duration

	now func() time.Time
	log *zerolog.Logger
}

func NewSponsorshipSync(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	provider adapter.SponsorshipProvider,
	validator *Validator,
	committer *Committer,
	minAge time.Duration,
	logger *zerolog.Logger,
) *SponsorshipSync {
	sLog := logger.With().Str("component", "SponsorshipSync").Str("provider", provider.Name()).Logger()
	return &SponsorshipSync{
		subs:      subs,
		users:     users,
		provider:  provider,
		validator: validator,
		committer: committer,
		minAge:    minAge,
		now:       time.Now,
		log:       &sLog,
	}
}

// Run fetches the live sponsor set once and walks the local records in
// randomized order. A failed sponsor-list fetch aborts the whole routine
// (there is nothing meaningful to diff against); per-item failures are
// logged and skipped.
func (s *SponsorshipSync) Run(ctx context.Context, rc *RunContext) (RoutineStats, error) {
	defer logging.TraceDuration(s.log, "SponsorshipSync.Run")()
	var stats RoutineStats

	sponsors, err := s.provider.GetActiveSponsors(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetch active sponsors: %w", err)
	}
	live := make(map[string]struct{}, len(sponsors))
	for _, sp := range sponsors {
		live[sp.ID] = struct{}{}
	}

	subs, err := s.subs.FindAllBySource(ctx, model.SourceGitHub)
	if err != nil {
		return stats, fmt.Errorf("load %s subscriptions: %w", s.provider.Name(), err)
	}
	shuffle(subs)

	for _, sub := range subs {
		stats.Scanned++
		if err := s.syncOne(ctx, rc, sub, live, &stats); err != nil {
			stats.ItemErrors++
			s.log.Error().Err(err).Str("run_id", rc.ID).Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("sponsorship sync failed")
		}
	}

	stats.Commits = s.committer.Save(ctx, subs)
	return stats, nil
}

func (s *SponsorshipSync) syncOne(ctx context.Context, rc *RunContext, sub *model.Subscription, live map[string]struct{}, stats *RoutineStats) error {
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

	if user.IsZero() || !user.IsPro {
		return nil
	}
	if s.now().Sub(sub.DateCreated) < s.minAge {
		return nil
	}

	if _, stillSponsoring := live[sub.ID]; stillSponsoring {
		return nil
	}

	// Sponsorship gone: expire the record and drop the entitlement unless
	// another active subscription covers the user.
	if sub.Status != model.SubscriptionStatusExpired {
		sub.Expire(s.now())
		stats.Expired++
		s.log.Info().Str("run_id", rc.ID).Str("subscription_id", sub.ID).Str("user_id", user.ID).Msg("sponsor absent from live feed, subscription expired")
	}
	other, err := rc.HasOtherActive(ctx, sub.UserID, sub.ID)
	if err != nil {
		return err
	}
	if !other {
		if err := s.users.SwitchToFree(ctx, user, sub); err != nil {
			return err
		}
		stats.Downgrades++
		s.log.Info().Str("run_id", rc.ID).Str("user_id", user.ID).Msg("sponsorship ended, user switched to free")
	}
	return nil
}

func (s *SponsorshipSync) findUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}
