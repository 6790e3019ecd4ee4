package usecase

// RoutineStats summarizes what one reconciliation routine did in a run. The
// scheduler shell turns these into metrics and log fields.
type RoutineStats struct {
	Scanned    int // subscriptions considered
	Expired    int // transitioned to EXPIRED
	Healed     int // entitlements repaired forward
	Deleted    int // records removed from the store
	Downgrades int // users switched back to free
	Commits    int // pending records persisted
	ItemErrors int // per-item failures that were skipped
}

func (s *RoutineStats) add(o ValidationOutcome) {
	switch o {
	case OutcomeExpired:
		s.Expired++
	case OutcomeHealed:
		s.Healed++
	case OutcomeDeleted:
		s.Deleted++
	}
}

// Merge folds another routine's stats into this one.
func (s *RoutineStats) Merge(o RoutineStats) {
	s.Scanned += o.Scanned
	s.Expired += o.Expired
	s.Healed += o.Healed
	s.Deleted += o.Deleted
	s.Downgrades += o.Downgrades
	s.Commits += o.Commits
	s.ItemErrors += o.ItemErrors
}
