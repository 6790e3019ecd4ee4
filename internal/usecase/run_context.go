package usecase

import (
	"context"
	"math/rand"
	"time"

	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/repository"

	"github.com/oklog/ulid/v2"
)

// RunContext is the per-run view shared by every reconciliation routine. It
// carries the run id and the active-subscription index: a lazily built, cached
// snapshot of all ACTIVE subscriptions used to answer "does this user already
// have some other active subscription?" without re-querying the store.
//
// The index is loaded at most once per run and reflects the store at the
// start of the run; staleness within a run is acceptable, the next run builds
// a fresh context. It is read-only and must never be shared across runs.
//
// A user can hold two simultaneously ACTIVE subscriptions from different
// sources. The index only suppresses downgrades in that case; it never
// consolidates the records.
type RunContext struct {
	ID        string
	StartedAt time.Time

	subs repository.SubscriptionRepository

	loaded bool
	active map[string][]*model.Subscription // userID -> active subscriptions
}

func NewRunContext(subs repository.SubscriptionRepository) *RunContext {
	now := time.Now()
	return &RunContext{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		StartedAt: now,
		subs:      subs,
	}
}

// ActiveIndex returns the userID -> active subscriptions map, loading it from
// the store on first use. Routines run sequentially within one run, so no
// locking is needed.
func (rc *RunContext) ActiveIndex(ctx context.Context) (map[string][]*model.Subscription, error) {
	if rc.loaded {
		return rc.active, nil
	}
	subs, err := rc.subs.FindActive(ctx)
	if err != nil {
		return nil, err
	}
	rc.active = make(map[string][]*model.Subscription, len(subs))
	for _, s := range subs {
		rc.active[s.UserID] = append(rc.active[s.UserID], s)
	}
	rc.loaded = true
	return rc.active, nil
}

// HasOtherActive reports whether the user owns an active subscription other
// than excludeSubID.
func (rc *RunContext) HasOtherActive(ctx context.Context, userID, excludeSubID string) (bool, error) {
	idx, err := rc.ActiveIndex(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range idx[userID] {
		if s.ID != excludeSubID {
			return true, nil
		}
	}
	return false, nil
}

// HasActive reports whether the user owns any active subscription at all.
func (rc *RunContext) HasActive(ctx context.Context, userID string) (bool, error) {
	idx, err := rc.ActiveIndex(ctx)
	if err != nil {
		return false, err
	}
	return len(idx[userID]) > 0, nil
}

// shuffle randomizes iteration order so a truncated or rate-limited run does
// not starve the records that happen to sort last.
func shuffle(subs []*model.Subscription) {
	rand.Shuffle(len(subs), func(i, j int) {
		subs[i], subs[j] = subs[j], subs[i]
	})
}
