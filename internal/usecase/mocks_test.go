package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"subscription-reconciler/internal/domain"
	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memSubRepo is a small in-memory SubscriptionRepository used by unit tests.
// It counts writes so idempotence can be asserted.
type memSubRepo struct {
	mu   sync.RWMutex
	subs map[string]*model.Subscription

	dangling []string // ids reported by FindDangling

	updates     int
	deletes     int
	activeLoads int

	updateErr error
}

func newMemSubRepo() *memSubRepo {
	return &memSubRepo{subs: make(map[string]*model.Subscription)}
}

func (m *memSubRepo) put(s *model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ID] = s
}

func (m *memSubRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (m *memSubRepo) FindAllBySource(ctx context.Context, source model.SubscriptionSource) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.Source == source {
			out = append(out, s)
		}
	}
	sortByID(out)
	return out, nil
}

func (m *memSubRepo) FindActive(ctx context.Context) ([]*model.Subscription, error) {
	m.mu.Lock()
	m.activeLoads++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.Status == model.SubscriptionStatusActive {
			out = append(out, s)
		}
	}
	sortByID(out)
	return out, nil
}

func (m *memSubRepo) FindNonActive(ctx context.Context) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.Status != model.SubscriptionStatusActive {
			out = append(out, s)
		}
	}
	sortByID(out)
	return out, nil
}

func (m *memSubRepo) FindDangling(ctx context.Context) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, id := range m.dangling {
		if s, ok := m.subs[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSubRepo) Update(ctx context.Context, sub *model.Subscription) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.subs[sub.ID] = sub
	return nil
}

func (m *memSubRepo) Delete(ctx context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.subs, sub.ID)
	m.deletes++
	return nil
}

func (m *memSubRepo) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range m.subs {
		out[s.Status]++
	}
	return out, nil
}

func sortByID(subs []*model.Subscription) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
}

// memUserRepo is the in-memory UserRepository counterpart.
type memUserRepo struct {
	mu    sync.RWMutex
	users map[string]*model.User

	updates  int
	switches int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (m *memUserRepo) put(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (m *memUserRepo) FindPro(ctx context.Context) ([]*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.User
	for _, u := range m.users {
		if u.IsPro {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memUserRepo) Update(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.users[u.ID] = u
	return nil
}

func (m *memUserRepo) SwitchToFree(ctx context.Context, u *model.User, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switches++
	u.IsPro = false
	if sub == nil || u.SubscriptionID == sub.ID {
		u.SubscriptionID = ""
	}
	m.users[u.ID] = u
	return nil
}

// fakeBillingProvider serves canned provider state per subscription id.
type fakeBillingProvider struct {
	subs    map[string]*adapter.ProviderSubscription
	err     error
	fetches int
}

func newFakeBillingProvider() *fakeBillingProvider {
	return &fakeBillingProvider{subs: make(map[string]*adapter.ProviderSubscription)}
}

func (f *fakeBillingProvider) Name() string { return "paypal" }

func (f *fakeBillingProvider) GetSubscription(ctx context.Context, id string) (*adapter.ProviderSubscription, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

// fakeSponsorshipProvider serves a canned active-sponsor list.
type fakeSponsorshipProvider struct {
	sponsors []adapter.Sponsor
	err      error
	fetches  int
}

func (f *fakeSponsorshipProvider) Name() string { return "github" }

func (f *fakeSponsorshipProvider) GetActiveSponsors(ctx context.Context) ([]adapter.Sponsor, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.sponsors, nil
}

// --- shared test fixtures ---

type fixture struct {
	subs  *memSubRepo
	users *memUserRepo
	now   time.Time
}

func newFixture() *fixture {
	return &fixture{
		subs:  newMemSubRepo(),
		users: newMemUserRepo(),
		now:   time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) validator(idleThreshold time.Duration) *Validator {
	v := NewValidator(f.subs, f.users, idleThreshold, newTestLogger())
	v.now = func() time.Time { return f.now }
	return v
}

func (f *fixture) committer() *Committer {
	c := NewCommitter(f.subs, newTestLogger())
	c.now = func() time.Time { return f.now }
	return c
}

func (f *fixture) billingSub(id, userID string, status model.SubscriptionStatus, freq model.BillingFrequency, createdAgo time.Duration) *model.Subscription {
	s := &model.Subscription{
		ID:          id,
		UserID:      userID,
		Source:      model.SourcePayPal,
		Status:      status,
		DateCreated: f.now.Add(-createdAgo),
		DateUpdated: f.now.Add(-createdAgo),
		Billing:     &model.BillingInfo{Frequency: freq},
	}
	f.subs.put(s)
	return s
}

func (f *fixture) sponsorSub(id, userID string, status model.SubscriptionStatus, createdAgo time.Duration) *model.Subscription {
	s := &model.Subscription{
		ID:          id,
		UserID:      userID,
		Source:      model.SourceGitHub,
		Status:      status,
		DateCreated: f.now.Add(-createdAgo),
		DateUpdated: f.now.Add(-createdAgo),
	}
	f.subs.put(s)
	return s
}

func (f *fixture) billingSync(p adapter.BillingProvider) *BillingSync {
	s := NewBillingSync(f.subs, f.users, p, f.validator(90*24*time.Hour), f.committer(),
		4*7*24*time.Hour, 4*7*24*time.Hour, 11, newTestLogger())
	s.now = func() time.Time { return f.now }
	return s
}

func (f *fixture) sponsorshipSync(p adapter.SponsorshipProvider) *SponsorshipSync {
	s := NewSponsorshipSync(f.subs, f.users, p, f.validator(90*24*time.Hour), f.committer(),
		4*7*24*time.Hour, newTestLogger())
	s.now = func() time.Time { return f.now }
	return s
}

func (f *fixture) orphanCleaner() *OrphanCleaner {
	return NewOrphanCleaner(f.subs, f.users, f.validator(90*24*time.Hour), f.committer(), newTestLogger())
}

func (f *fixture) runContext() *RunContext {
	return NewRunContext(f.subs)
}

func (f *fixture) user(id string, isPro bool, subscriptionID string) *model.User {
	u := &model.User{ID: id, DisplayName: id, IsPro: isPro, SubscriptionID: subscriptionID}
	f.users.put(u)
	return u
}
