package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-reconciler/internal/domain"
	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

// user_id is nullable: dangling rows can carry NULL, and the scan target is a
// plain string.
const subscriptionColumns = `
  s.id, COALESCE(s.user_id, ''), s.source, s.status, s.date_created, s.date_updated, s.date_expiry,
  s.frequency, s.price, s.currency,
  s.last_payment_date, s.last_payment_amount, s.last_payment_currency`

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions s
 WHERE s.id=$1;`
	row := r.pool.QueryRow(ctx, q, id)
	s, err := scanSubscription(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *subscriptionRepo) FindAllBySource(ctx context.Context, source model.SubscriptionSource) ([]*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions s
 WHERE s.source=$1;`
	return r.queryMany(ctx, q, string(source))
}

func (r *subscriptionRepo) FindActive(ctx context.Context) ([]*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions s
 WHERE s.status=$1;`
	return r.queryMany(ctx, q, string(model.SubscriptionStatusActive))
}

func (r *subscriptionRepo) FindNonActive(ctx context.Context) ([]*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions s
 WHERE s.status <> $1;`
	return r.queryMany(ctx, q, string(model.SubscriptionStatusActive))
}

// FindDangling returns records whose user reference is empty or no longer
// resolves.
func (r *subscriptionRepo) FindDangling(ctx context.Context) ([]*model.Subscription, error) {
	q := `SELECT` + subscriptionColumns + `
  FROM subscriptions s
  LEFT JOIN users u ON u.id = s.user_id
 WHERE s.user_id IS NULL OR s.user_id = '' OR u.id IS NULL;`
	return r.queryMany(ctx, q)
}

// Update persists the reconciler-owned columns only; everything else on the
// row is left as written by the checkout/webhook side.
func (r *subscriptionRepo) Update(ctx context.Context, s *model.Subscription) error {
	if s == nil || s.ID == "" {
		return domain.ErrInvalidArgument
	}

	if s.Billing != nil {
		const q = `
UPDATE subscriptions SET
  status=$2, date_updated=$3, date_expiry=$4,
  frequency=$5, price=$6, currency=$7,
  last_payment_date=$8, last_payment_amount=$9, last_payment_currency=$10
 WHERE id=$1;`
		var lpDate interface{}
		var lpAmount interface{}
		var lpCurrency interface{}
		if lp := s.Billing.LastPayment; lp != nil {
			lpDate, lpAmount, lpCurrency = lp.Date, lp.Amount, lp.Currency
		}
		tag, err := r.pool.Exec(ctx, q,
			s.ID, string(s.Status), s.DateUpdated, s.DateExpiry,
			string(s.Billing.Frequency), s.Billing.Price, nullIfEmpty(s.Billing.Currency),
			lpDate, lpAmount, lpCurrency)
		if err != nil {
			return mapWriteError(err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	}

	const q = `
UPDATE subscriptions SET status=$2, date_updated=$3, date_expiry=$4
 WHERE id=$1;`
	tag, err := r.pool.Exec(ctx, q, s.ID, string(s.Status), s.DateUpdated, s.DateExpiry)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) Delete(ctx context.Context, s *model.Subscription) error {
	if s == nil || s.ID == "" {
		return domain.ErrInvalidArgument
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id=$1;`, s.ID)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var source, status string
	var frequency, currency, lpCurrency *string
	var price, lpAmount *float64
	var lpDate *time.Time

	if err := row.Scan(
		&s.ID, &s.UserID, &source, &status, &s.DateCreated, &s.DateUpdated, &s.DateExpiry,
		&frequency, &price, &currency,
		&lpDate, &lpAmount, &lpCurrency,
	); err != nil {
		return nil, err
	}
	s.Source = model.SubscriptionSource(source)
	s.Status = model.SubscriptionStatus(status)

	// The billing payload is only meaningful for the billing-provider source.
	if s.Source == model.SourcePayPal {
		b := &model.BillingInfo{}
		if frequency != nil {
			b.Frequency = model.ParseBillingFrequency(*frequency)
		}
		if price != nil {
			b.Price = *price
		}
		if currency != nil {
			b.Currency = *currency
		}
		if lpDate != nil {
			lp := &model.Payment{Date: *lpDate}
			if lpAmount != nil {
				lp.Amount = *lpAmount
			}
			if lpCurrency != nil {
				lp.Currency = *lpCurrency
			}
			b.LastPayment = lp
		}
		s.Billing = b
	}
	return s, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
