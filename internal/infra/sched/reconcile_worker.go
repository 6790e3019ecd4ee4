package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"subscription-reconciler/internal/domain"
	"subscription-reconciler/internal/domain/ports/repository"
	"subscription-reconciler/internal/infra/logging"
	"subscription-reconciler/internal/infra/metrics"
	"subscription-reconciler/internal/usecase"
)

// Locker serializes runs across replicas.
type Locker interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

// Routine is one reconciliation phase. Routines run sequentially within a
// run and share its RunContext; a failing routine aborts only itself.
type Routine struct {
	Name string
	Run  func(ctx context.Context, rc *usecase.RunContext) (usecase.RoutineStats, error)
}

// RunSummary is the ops-facing record of the most recent run.
type RunSummary struct {
	RunID     string               `json:"run_id"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
	Outcome   string               `json:"outcome"` // ok|partial
	Failures  []string             `json:"failures,omitempty"`
	Stats     usecase.RoutineStats `json:"stats"`
}

// ReconcileWorker drives full reconciliation runs on a fixed interval. Each
// tick takes the distributed lease, builds one RunContext and executes every
// routine in order.
type ReconcileWorker struct {
	subs     repository.SubscriptionRepository
	locker   Locker
	routines []Routine
	interval time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	last *RunSummary
}

func NewReconcileWorker(
	subs repository.SubscriptionRepository,
	locker Locker,
	routines []Routine,
	interval time.Duration,
	logger *zerolog.Logger,
) *ReconcileWorker {
	return &ReconcileWorker{
		subs:     subs,
		locker:   locker,
		routines: routines,
		interval: interval,
		log:      logger.With().Str("component", "reconcile-worker").Logger(),
	}
}

// Start blocks until ctx is cancelled. The first run fires immediately.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("reconcile worker started")
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("reconcile worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// LastRun returns the summary of the most recent completed run.
func (w *ReconcileWorker) LastRun() (RunSummary, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return RunSummary{}, false
	}
	return *w.last, true
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	token, err := w.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			metrics.IncReconcileRun("skipped")
			w.log.Info().Msg("run lease held elsewhere, skipping")
			return
		}
		w.log.Error().Err(err).Msg("acquire run lease")
		return
	}
	defer func() {
		if err := w.locker.Release(ctx, token); err != nil {
			w.log.Warn().Err(err).Msg("release run lease")
		}
	}()

	rc := usecase.NewRunContext(w.subs)
	runCtx := logging.WithRunID(ctx, rc.ID)
	log := logging.With(runCtx, &w.log)
	log.Info().Msg("reconciliation run started")

	var total usecase.RoutineStats
	var failures []string
	for _, routine := range w.routines {
		stats, err := routine.Run(runCtx, rc)
		total.Merge(stats)
		metrics.AddItemErrors(routine.Name, stats.ItemErrors)
		if err != nil {
			failures = append(failures, routine.Name)
			log.Error().Err(err).Str("routine", routine.Name).Msg("routine aborted")
			continue
		}
		log.Debug().Str("routine", routine.Name).
			Int("scanned", stats.Scanned).
			Int("expired", stats.Expired).
			Int("commits", stats.Commits).
			Msg("routine finished")
	}

	duration := time.Since(rc.StartedAt)
	outcome := "ok"
	if len(failures) > 0 {
		outcome = "partial"
	}

	metrics.IncReconcileRun(outcome)
	metrics.ObserveRunDuration(duration)
	metrics.AddSubscriptionsExpired(total.Expired)
	metrics.AddEntitlementsHealed(total.Healed)
	metrics.AddUsersDowngraded(total.Downgrades)
	metrics.AddOrphansDeleted(total.Deleted)
	metrics.AddSubscriptionsCommitted(total.Commits)
	w.refreshStatusGauge(runCtx, log)

	w.mu.Lock()
	w.last = &RunSummary{
		RunID:     rc.ID,
		StartedAt: rc.StartedAt,
		Duration:  duration,
		Outcome:   outcome,
		Failures:  failures,
		Stats:     total,
	}
	w.mu.Unlock()

	log.Info().
		Str("outcome", outcome).
		Dur("duration", duration).
		Int("scanned", total.Scanned).
		Int("expired", total.Expired).
		Int("healed", total.Healed).
		Int("downgrades", total.Downgrades).
		Int("deleted", total.Deleted).
		Int("commits", total.Commits).
		Int("item_errors", total.ItemErrors).
		Msg("reconciliation run finished")
}

func (w *ReconcileWorker) refreshStatusGauge(ctx context.Context, log *zerolog.Logger) {
	counts, err := w.subs.CountByStatus(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("refresh status gauge")
		return
	}
	metrics.SetSubscriptionsTotal(counts)
}
