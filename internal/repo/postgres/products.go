package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storefronthq/storefront/internal/domain/product"
	"github.com/storefronthq/storefront/internal/observability"
)

type ProductsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewProductsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ProductsRepo {
	return &ProductsRepo{pool: pool, prom: prom}
}

func (r *ProductsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const productColumns = `id, name, description, price, created_at, updated_at`

func scanProduct(row pgx.Row) (product.Product, error) {
	var p product.Product

	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.Product{}, product.ErrNotFound
		}
		return product.Product{}, err
	}
	return p, nil
}

func (r *ProductsRepo) Create(ctx context.Context, req product.CreateRequest) (product.Product, error) {
	p := product.NewFromCreateRequest(req)

	err := r.observe("products.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO products(id, name, description, price, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			p.ID, p.Name, p.Description, p.Price, p.CreatedAt, p.UpdatedAt,
		)
		return err
	})

	if err != nil {
		return product.Product{}, err
	}

	return p, nil
}

func (r *ProductsRepo) GetByID(ctx context.Context, id string) (product.Product, error) {
	var p product.Product
	var err error

	err = r.observe("products.get_by_id", func() error {
		p, err = scanProduct(r.pool.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
		return err
	})

	return p, err
}

// GetByIDs returns the products for the given ids in a single round trip.
// Missing ids are simply absent from the result; callers compare lengths.
func (r *ProductsRepo) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var rows pgx.Rows
	var err error

	err = r.observe("products.get_by_ids", func() error {
		rows, err = r.pool.Query(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = ANY($1::uuid[])`, ids)
		return err
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]product.Product, 0, len(ids))

	for rows.Next() {
		var p product.Product

		err = rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.CreatedAt, &p.UpdatedAt)

		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

func (r *ProductsRepo) List(ctx context.Context) ([]product.Product, error) {
	var rows pgx.Rows
	var err error

	err = r.observe("products.list", func() error {
		rows, err = r.pool.Query(ctx,
			`SELECT `+productColumns+` FROM products ORDER BY created_at ASC, id ASC`)
		return err
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]product.Product, 0)

	for rows.Next() {
		var p product.Product

		err = rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.CreatedAt, &p.UpdatedAt)

		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

func (r *ProductsRepo) Update(ctx context.Context, id string, req product.UpdateRequest) (product.Product, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}
	pos := 2

	if req.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", pos))
		args = append(args, *req.Name)
		pos++
	}
	if req.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", pos))
		args = append(args, *req.Description)
		pos++
	}
	if req.Price != nil {
		sets = append(sets, fmt.Sprintf("price = $%d", pos))
		args = append(args, *req.Price)
		pos++
	}

	query := `UPDATE products SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + productColumns

	var p product.Product
	var err error

	err = r.observe("products.update", func() error {
		p, err = scanProduct(r.pool.QueryRow(ctx, query, args...))
		return err
	})

	return p, err
}

// Delete refuses to remove a product that orders still reference. The count
// and the delete run in one transaction so a concurrent order creation
// cannot slip between them, and the FK on order_products is the backstop.
func (r *ProductsRepo) Delete(ctx context.Context, id string) error {
	return r.observe("products.delete", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})

		if err != nil {
			return err
		}

		defer func() { _ = tx.Rollback(ctx) }()

		var refs int

		err = tx.QueryRow(ctx,
			`SELECT COUNT(DISTINCT order_id) FROM order_products WHERE product_id = $1`, id,
		).Scan(&refs)

		if err != nil {
			return err
		}

		if refs > 0 {
			return product.InUseError{Orders: refs}
		}

		tag, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)

		if err != nil {
			if IsForeignKeyViolation(err) {
				return product.InUseError{Orders: refs}
			}
			return err
		}

		if tag.RowsAffected() == 0 {
			return product.ErrNotFound
		}

		return tx.Commit(ctx)
	})
}
