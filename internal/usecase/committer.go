package usecase

import (
	"context"
	"time"

	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Committer persists the subscriptions a routine flagged during a run.
// Iteration is sequential on purpose: it bounds write pressure on the store
// and keeps ordering across a user's subscriptions (last validated wins).
type Committer struct {
	subs repository.SubscriptionRepository
	now  func() time.Time
	log  *zerolog.Logger
}

func NewCommitter(subs repository.SubscriptionRepository, logger *zerolog.Logger) *Committer {
	cLog := logger.With().Str("component", "Committer").Logger()
	return &Committer{subs: subs, now: time.Now, log: &cLog}
}

// Save persists only the records with PendingUpdate set and clears the flag,
// so a run that touched nothing produces zero writes. A failed write is
// logged and skipped; the next run re-derives the change from scratch.
func (c *Committer) Save(ctx context.Context, subs []*model.Subscription) int {
	n := 0
	for _, s := range subs {
		if s == nil || !s.PendingUpdate {
			continue
		}
		s.PendingUpdate = false
		s.DateUpdated = c.now()
		if err := c.subs.Update(ctx, s); err != nil {
			c.log.Error().Err(err).Str("subscription_id", s.ID).Str("user_id", s.UserID).Msg("commit failed")
			continue
		}
		n++
	}
	return n
}
