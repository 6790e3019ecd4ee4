package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-reconciler/internal/domain"
	"subscription-reconciler/internal/domain/model"
	"subscription-reconciler/internal/domain/ports/repository"
)

// Ensure userRepo implements repository.UserRepository
var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	const q = `
SELECT id, display_name, is_pro, COALESCE(subscription_id, '')
  FROM users
 WHERE id=$1;`
	u := &model.User{}
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.DisplayName, &u.IsPro, &u.SubscriptionID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return u, nil
}

func (r *userRepo) FindPro(ctx context.Context) ([]*model.User, error) {
	const q = `
SELECT id, display_name, is_pro, COALESCE(subscription_id, '')
  FROM users
 WHERE is_pro = TRUE;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.IsPro, &u.SubscriptionID); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// Update persists the entitlement columns only.
func (r *userRepo) Update(ctx context.Context, u *model.User) error {
	if u == nil || u.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE users SET is_pro=$2, subscription_id=$3
 WHERE id=$1;`
	tag, err := r.pool.Exec(ctx, q, u.ID, u.IsPro, nullIfEmpty(u.SubscriptionID))
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SwitchToFree downgrades a user. The subscription reference is cleared only
// when it still points at the given record, so a reference to a newer
// subscription survives. A nil sub clears unconditionally.
func (r *userRepo) SwitchToFree(ctx context.Context, u *model.User, sub *model.Subscription) error {
	if u == nil || u.ID == "" {
		return domain.ErrInvalidArgument
	}
	u.IsPro = false
	if sub == nil || u.SubscriptionID == sub.ID {
		u.SubscriptionID = ""
	}
	return r.Update(ctx, u)
}
