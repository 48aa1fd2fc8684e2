package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storefronthq/storefront/internal/auth"
	"github.com/storefronthq/storefront/internal/observability"
)

// RefreshTokensRepo implements auth.RefreshTokenStore on the refresh_tokens
// table. Rows are keyed by JTI and hold an HMAC of the raw token, never the
// token itself.
type RefreshTokensRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRefreshTokensRepo(pool *pgxpool.Pool, prom *observability.Prom) *RefreshTokensRepo {
	return &RefreshTokensRepo{pool: pool, prom: prom}
}

func (r *RefreshTokensRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *RefreshTokensRepo) Save(ctx context.Context, rec auth.RefreshTokenRecord) error {
	return r.observe("refresh_tokens.save", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO refresh_tokens(id, customer_id, token_hash, expires_at, created_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			rec.ID, rec.CustomerID, rec.TokenHash, rec.ExpiresAt, rec.CreatedAt,
		)
		return err
	})
}

// Rotate locks the presented token row, verifies it is still live and that
// the presented hash matches, then revokes it (recording its replacement)
// and inserts the next record, all in one transaction. The row lock makes
// two concurrent refreshes with the same token serialize: the second sees
// revoked_at set and is rejected.
func (r *RefreshTokensRepo) Rotate(ctx context.Context, id string, presentedHash string, next auth.RefreshTokenRecord) error {
	return r.observe("refresh_tokens.rotate", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})

		if err != nil {
			return err
		}

		defer func() { _ = tx.Rollback(ctx) }()

		var tokenHash string
		var expiresAt time.Time
		var revokedAt *time.Time

		err = tx.QueryRow(ctx, `
			SELECT token_hash, expires_at, revoked_at
			FROM refresh_tokens
			WHERE id = $1
			FOR UPDATE
		`, id).Scan(&tokenHash, &expiresAt, &revokedAt)

		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return auth.ErrRefreshRejected
			}
			return err
		}

		if revokedAt != nil {
			return auth.ErrRefreshRejected
		}

		if time.Now().UTC().After(expiresAt) {
			return auth.ErrRefreshRejected
		}

		// prevents token substitution: the presented token must be the one
		// this row was created for
		if tokenHash != presentedHash {
			return auth.ErrRefreshRejected
		}

		_, err = tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW(), replaced_by = $2
			WHERE id = $1
		`, id, next.ID)

		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO refresh_tokens(id, customer_id, token_hash, expires_at, created_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			next.ID, next.CustomerID, next.TokenHash, next.ExpiresAt, next.CreatedAt,
		)

		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string) error {
	return r.observe("refresh_tokens.revoke", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE id = $1 AND revoked_at IS NULL
		`, id)
		return err
	})
}

// RevokeAllForCustomer kills every live session for one customer. Used when
// the account is deleted.
func (r *RefreshTokensRepo) RevokeAllForCustomer(ctx context.Context, customerID string) error {
	return r.observe("refresh_tokens.revoke_all", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE customer_id = $1 AND revoked_at IS NULL
		`, customerID)
		return err
	})
}
