package usecase

import (
	"context"
	"testing"
	"time"

	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/adapter"
)

func TestBillingSync_RecencyExclusion(t *testing.T) {
	ctx := context.Background()

	t.Run("should never touch a subscription younger than the grace window", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusActive, model.FrequencyMonthly, 7*24*time.Hour)
		f.user("user-1", true, "sub-1")

		provider := newFakeBillingProvider()
		// A mismatch exists at the provider, but the record is too young.
		provider.subs["sub-1"] = &adapter.ProviderSubscription{ID: "sub-1", Status: model.SubscriptionStatusSuspended}
		s := f.billingSync(provider)

		// --- Act ---
		stats, err := s.Run(ctx, f.runContext())

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if provider.fetches != 0 {
			t.Errorf("expected no provider fetches, got %d", provider.fetches)
		}
		if sub.Status != model.SubscriptionStatusActive {
			t.Errorf("expected status to remain ACTIVE, got %s", sub.Status)
		}
		if stats.Commits != 0 {
			t.Errorf("expected zero commits, got %d", stats.Commits)
		}
	})

	t.Run("should skip provider checks for users without entitlement", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.billingSub("sub-1", "user-1", model.SubscriptionStatusSuspended, model.FrequencyMonthly, 60*24*time.Hour)
		f.user("user-1", false, "")

		provider := newFakeBillingProvider()
		s := f.billingSync(provider)

		// --- Act ---
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		// --- Assert ---
		if provider.fetches != 0 {
			t.Errorf("expected no provider fetches, got %d", provider.fetches)
		}
	})
}

func TestBillingSync_PaymentDrift(t *testing.T) {
	ctx := context.Background()

	t.Run("should overwrite payment metadata when the day differs", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusActive, model.FrequencyMonthly, 60*24*time.Hour)
		old := model.Payment{Date: f.now.Add(-45 * 24 * time.Hour), Amount: 4.99, Currency: "USD"}
		sub.Billing.LastPayment = &old
		sub.Billing.Price = 4.99
		sub.Billing.Currency = "USD"
		f.user("user-1", true, "sub-1")

		provider := newFakeBillingProvider()
		provider.subs["sub-1"] = &adapter.ProviderSubscription{
			ID:          "sub-1",
			Status:      model.SubscriptionStatusActive,
			LastPayment: &model.Payment{Date: f.now.Add(-10 * 24 * time.Hour), Amount: 5.99, Currency: "EUR"},
		}
		s := f.billingSync(provider)

		// --- Act ---
		stats, err := s.Run(ctx, f.runContext())

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if sub.Billing.LastPayment.Amount != 5.99 || sub.Billing.Currency != "EUR" || sub.Billing.Price != 5.99 {
			t.Errorf("expected payment metadata to be adopted, got %+v", sub.Billing)
		}
		if stats.Commits != 1 {
			t.Errorf("expected one commit, got %d", stats.Commits)
		}
		if sub.PendingUpdate {
			t.Error("expected pending flag to be cleared after commit")
		}
	})

	t.Run("should not write when the payment day matches", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusActive, model.FrequencyMonthly, 60*24*time.Hour)
		paid := f.now.Add(-10 * 24 * time.Hour)
		sub.Billing.LastPayment = &model.Payment{Date: paid, Amount: 5.99, Currency: "EUR"}
		f.user("user-1", true, "sub-1")

		provider := newFakeBillingProvider()
		// Same day, different hour.
		provider.subs["sub-1"] = &adapter.ProviderSubscription{
			ID:          "sub-1",
			Status:      model.SubscriptionStatusActive,
			LastPayment: &model.Payment{Date: paid.Add(5 * time.Hour), Amount: 5.99, Currency: "EUR"},
		}
		s := f.billingSync(provider)

		// --- Act ---
		stats, err := s.Run(ctx, f.runContext())

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if stats.Commits != 0 || f.subs.updates != 0 {
			t.Errorf("expected zero writes, got commits=%d updates=%d", stats.Commits, f.subs.updates)
		}
	})
}

func TestBillingSync_StatusDrift(t *testing.T) {
	ctx := context.Background()

	t.Run("should leave lifetime subscriptions alone", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusActive, model.FrequencyLifetime, 400*24*time.Hour)
		sub.Billing.LastPayment = &model.Payment{Date: f.now.Add(-400 * 24 * time.Hour), Amount: 49.99, Currency: "USD"}
		f.user("user-1", true, "sub-1")

		provider := newFakeBillingProvider()
		provider.subs["sub-1"] = &adapter.ProviderSubscription{
			ID:          "sub-1",
			Status:      model.SubscriptionStatusCancelled,
			LastPayment: sub.Billing.LastPayment,
		}
		s := f.billingSync(provider)

		// --- Act ---
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		// --- Assert ---
		if sub.Status != model.SubscriptionStatusActive {
			t.Errorf("expected lifetime subscription to remain ACTIVE, got %s", sub.Status)
		}
	})
}

// The reference scenario: monthly subscription, last payment 40 days ago,
// provider reports SUSPENDED, no other active subscription. The grace
// deadline (payment + 4 weeks) passed 12 days ago, so the user drops to free.
func TestBillingSync_GracePeriod(t *testing.T) {
	ctx := context.Background()

	t.Run("monthly subscription past grace is downgraded", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("S1", "U1", model.SubscriptionStatusActive, model.FrequencyMonthly, 200*24*time.Hour)
		paid := f.now.Add(-40 * 24 * time.Hour)
		sub.Billing.LastPayment = &model.Payment{Date: paid, Amount: 4.99, Currency: "USD"}
		user := f.user("U1", true, "S1")

		provider := newFakeBillingProvider()
		provider.subs["S1"] = &adapter.ProviderSubscription{
			ID:          "S1",
			Status:      model.SubscriptionStatusSuspended,
			LastPayment: &model.Payment{Date: paid, Amount: 4.99, Currency: "USD"},
		}
		s := f.billingSync(provider)

		// --- Act ---
		stats, err := s.Run(ctx, f.runContext())

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if sub.Status != model.SubscriptionStatusSuspended {
			t.Errorf("expected status SUSPENDED, got %s", sub.Status)
		}
		if stats.Commits != 1 {
			t.Errorf("expected the status change to be committed, got %d commits", stats.Commits)
		}
		if user.IsPro {
			t.Error("expected user to be downgraded to free")
		}
		if stats.Downgrades != 1 {
			t.Errorf("expected one downgrade, got %d", stats.Downgrades)
		}
	})

	t.Run("monthly subscription inside grace keeps entitlement", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusSuspended, model.FrequencyMonthly, 200*24*time.Hour)
		sub.Billing.LastPayment = &model.Payment{Date: f.now.Add(-10 * 24 * time.Hour), Amount: 4.99, Currency: "USD"}
		user := f.user("user-1", true, "sub-1")

		provider := newFakeBillingProvider()
		provider.subs["sub-1"] = &adapter.ProviderSubscription{
			ID:          "sub-1",
			Status:      model.SubscriptionStatusSuspended,
			LastPayment: sub.Billing.LastPayment,
		}
		s := f.billingSync(provider)

		// --- Act ---
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		// --- Assert ---
		if !user.IsPro {
			t.Error("expected user to keep entitlement inside the grace window")
		}
	})

	t.Run("yearly subscription uses the eleven month threshold", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusCancelled, model.FrequencyYearly, 400*24*time.Hour)
		sub.Billing.LastPayment = &model.Payment{Date: f.now.AddDate(0, -6, 0), Amount: 49.99, Currency: "USD"}
		user := f.user("user-1", true, "sub-1")

		provider := newFakeBillingProvider()
		provider.subs["sub-1"] = &adapter.ProviderSubscription{
			ID:          "sub-1",
			Status:      model.SubscriptionStatusCancelled,
			LastPayment: sub.Billing.LastPayment,
		}
		s := f.billingSync(provider)

		// --- Act ---
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		// --- Assert: 6 months < 11 months, still entitled ---
		if !user.IsPro {
			t.Error("expected user to keep entitlement at 6 months")
		}

		// --- Act again, one year after the payment ---
		sub.Billing.LastPayment.Date = f.now.AddDate(-1, 0, 0)
		provider.subs["sub-1"].LastPayment = sub.Billing.LastPayment
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if user.IsPro {
			t.Error("expected user to be downgraded one year after the last payment")
		}
	})

	t.Run("uppercase stored frequency still uses the monthly window", func(t *testing.T) {
		// --- Arrange: frequency as written by another service, mixed case ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusSuspended,
			model.ParseBillingFrequency("MONTHLY"), 200*24*time.Hour)
		sub.Billing.LastPayment = &model.Payment{Date: f.now.Add(-45 * 24 * time.Hour), Amount: 4.99, Currency: "USD"}
		user := f.user("user-1", true, "sub-1")

		provider := newFakeBillingProvider()
		provider.subs["sub-1"] = &adapter.ProviderSubscription{
			ID:          "sub-1",
			Status:      model.SubscriptionStatusSuspended,
			LastPayment: sub.Billing.LastPayment,
		}
		s := f.billingSync(provider)

		// --- Act ---
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		// --- Assert: 45 days > 4 weeks, not the 11-month window ---
		if user.IsPro {
			t.Error("expected user to be downgraded 45 days after the last payment")
		}
	})

	t.Run("downgrade is suppressed when another active subscription exists", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusSuspended, model.FrequencyMonthly, 200*24*time.Hour)
		sub.Billing.LastPayment = &model.Payment{Date: f.now.Add(-60 * 24 * time.Hour), Amount: 4.99, Currency: "USD"}
		f.sponsorSub("sub-2", "user-1", model.SubscriptionStatusActive, 200*24*time.Hour)
		user := f.user("user-1", true, "sub-2")

		provider := newFakeBillingProvider()
		provider.subs["sub-1"] = &adapter.ProviderSubscription{
			ID:          "sub-1",
			Status:      model.SubscriptionStatusSuspended,
			LastPayment: sub.Billing.LastPayment,
		}
		s := f.billingSync(provider)

		// --- Act ---
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		// --- Assert ---
		if !user.IsPro {
			t.Error("expected the other active subscription to suppress the downgrade")
		}
	})
}

func TestBillingSync_ErrorIsolation(t *testing.T) {
	ctx := context.Background()

	t.Run("a failing subscription does not abort the rest of the batch", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.billingSub("sub-broken", "user-1", model.SubscriptionStatusActive, model.FrequencyMonthly, 60*24*time.Hour)
		good := f.billingSub("sub-good", "user-2", model.SubscriptionStatusActive, model.FrequencyMonthly, 60*24*time.Hour)
		f.user("user-1", true, "sub-broken")
		f.user("user-2", true, "sub-good")

		provider := newFakeBillingProvider()
		// sub-broken is unknown at the provider and fails; sub-good syncs a payment.
		provider.subs["sub-good"] = &adapter.ProviderSubscription{
			ID:          "sub-good",
			Status:      model.SubscriptionStatusActive,
			LastPayment: &model.Payment{Date: f.now.Add(-24 * time.Hour), Amount: 5.99, Currency: "USD"},
		}
		s := f.billingSync(provider)

		// --- Act ---
		stats, err := s.Run(ctx, f.runContext())

		// --- Assert ---
		if err != nil {
			t.Fatalf("per-item failures must not abort the run, got: %v", err)
		}
		if stats.ItemErrors != 1 {
			t.Errorf("expected 1 item error, got %d", stats.ItemErrors)
		}
		if good.Billing.LastPayment == nil {
			t.Error("expected the healthy subscription to be synced")
		}
	})
}

func TestBillingSync_Idempotence(t *testing.T) {
	ctx := context.Background()

	t.Run("a second run with unchanged provider state produces zero writes", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		sub := f.billingSub("sub-1", "user-1", model.SubscriptionStatusActive, model.FrequencyMonthly, 60*24*time.Hour)
		sub.Billing.LastPayment = &model.Payment{Date: f.now.Add(-45 * 24 * time.Hour), Amount: 4.99, Currency: "USD"}
		f.user("user-1", true, "sub-1")

		provider := newFakeBillingProvider()
		provider.subs["sub-1"] = &adapter.ProviderSubscription{
			ID:          "sub-1",
			Status:      model.SubscriptionStatusActive,
			LastPayment: &model.Payment{Date: f.now.Add(-10 * 24 * time.Hour), Amount: 4.99, Currency: "USD"},
		}
		s := f.billingSync(provider)

		// --- Act: first run converges ---
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		subWrites, userWrites := f.subs.updates, f.users.updates+f.users.switches

		// --- Act: second run must be a no-op ---
		if _, err := s.Run(ctx, f.runContext()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		// --- Assert ---
		if f.subs.updates != subWrites {
			t.Errorf("expected no additional subscription writes, got %d extra", f.subs.updates-subWrites)
		}
		if f.users.updates+f.users.switches != userWrites {
			t.Errorf("expected no additional user writes")
		}
	})
}
