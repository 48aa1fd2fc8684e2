package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/observability"
)

type CustomersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCustomersRepo(pool *pgxpool.Pool, prom *observability.Prom) *CustomersRepo {
	return &CustomersRepo{pool: pool, prom: prom}
}

func (r *CustomersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const customerColumns = `id, name, email, password_hash, created_at, updated_at`

func scanCustomer(row pgx.Row) (customer.Customer, error) {
	var c customer.Customer

	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customer.Customer{}, customer.ErrNotFound
		}
		return customer.Customer{}, err
	}
	return c, nil
}

// Create relies on the unique index on email: two concurrent registrations
// with the same address race safely and the loser gets ErrEmailTaken.
func (r *CustomersRepo) Create(ctx context.Context, name, email, passwordHash string) (customer.Customer, error) {
	now := time.Now().UTC()

	c := customer.Customer{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.observe("customers.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO customers(id, name, email, password_hash, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			c.ID, c.Name, c.Email, c.PasswordHash, c.CreatedAt, c.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return customer.Customer{}, customer.ErrEmailTaken
		}
		return customer.Customer{}, err
	}

	return c, nil
}

func (r *CustomersRepo) GetByEmail(ctx context.Context, email string) (customer.Customer, error) {
	var c customer.Customer
	var err error

	err = r.observe("customers.get_by_email", func() error {
		c, err = scanCustomer(r.pool.QueryRow(ctx,
			`SELECT `+customerColumns+` FROM customers WHERE email = $1`, email))
		return err
	})

	return c, err
}

func (r *CustomersRepo) GetByID(ctx context.Context, id string) (customer.Customer, error) {
	var c customer.Customer
	var err error

	err = r.observe("customers.get_by_id", func() error {
		c, err = scanCustomer(r.pool.QueryRow(ctx,
			`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
		return err
	})

	return c, err
}

// GetWithOrders loads a customer plus the ids of their orders.
func (r *CustomersRepo) GetWithOrders(ctx context.Context, id string) (customer.WithOrders, error) {
	var out customer.WithOrders
	var err error

	err = r.observe("customers.get_with_orders", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT c.id, c.name, c.email, c.created_at, c.updated_at,
			       COALESCE(array_agg(o.id::text ORDER BY o.created_at) FILTER (WHERE o.id IS NOT NULL), '{}')
			FROM customers c
			LEFT JOIN orders o ON o.customer_id = c.id
			WHERE c.id = $1
			GROUP BY c.id
		`, id).Scan(&out.ID, &out.Name, &out.Email, &out.CreatedAt, &out.UpdatedAt, &out.OrderIDs)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customer.WithOrders{}, customer.ErrNotFound
		}
		return customer.WithOrders{}, err
	}

	return out, nil
}

func (r *CustomersRepo) List(ctx context.Context) ([]customer.WithOrders, error) {
	var rows pgx.Rows
	var err error

	err = r.observe("customers.list", func() error {
		rows, err = r.pool.Query(ctx, `
			SELECT c.id, c.name, c.email, c.created_at, c.updated_at,
			       COALESCE(array_agg(o.id::text ORDER BY o.created_at) FILTER (WHERE o.id IS NOT NULL), '{}')
			FROM customers c
			LEFT JOIN orders o ON o.customer_id = c.id
			GROUP BY c.id
			ORDER BY c.name ASC, c.id ASC
		`)
		return err
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]customer.WithOrders, 0)

	for rows.Next() {
		var c customer.WithOrders

		err = rows.Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt, &c.OrderIDs)

		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// Update applies a partial update; a nil field keeps the stored value.
// Password re-hashing happens before this layer; passwordHash is already
// a bcrypt hash when non-nil.
func (r *CustomersRepo) Update(ctx context.Context, id string, name, email, passwordHash *string) (customer.Customer, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}
	pos := 2

	if name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", pos))
		args = append(args, *name)
		pos++
	}
	if email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", pos))
		args = append(args, *email)
		pos++
	}
	if passwordHash != nil {
		sets = append(sets, fmt.Sprintf("password_hash = $%d", pos))
		args = append(args, *passwordHash)
		pos++
	}

	query := `UPDATE customers SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + customerColumns

	var c customer.Customer
	var err error

	err = r.observe("customers.update", func() error {
		c, err = scanCustomer(r.pool.QueryRow(ctx, query, args...))
		return err
	})

	if err != nil && IsUniqueViolation(err) {
		return customer.Customer{}, customer.ErrEmailTaken
	}

	return c, err
}

func (r *CustomersRepo) Delete(ctx context.Context, id string) error {
	var err error

	err = r.observe("customers.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)

		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return customer.ErrNotFound
		}
		return nil
	})

	return err
}
