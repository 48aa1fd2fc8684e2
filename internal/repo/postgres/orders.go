package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/domain/job"
	"github.com/storefronthq/storefront/internal/domain/order"
	"github.com/storefronthq/storefront/internal/domain/product"
	"github.com/storefronthq/storefront/internal/jobs"
	"github.com/storefronthq/storefront/internal/observability"
	"github.com/storefronthq/storefront/internal/utils"
)

type OrdersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
	jobs *JobsRepo
}

func NewOrdersRepo(pool *pgxpool.Pool, prom *observability.Prom, jobsRepo *JobsRepo) *OrdersRepo {
	return &OrdersRepo{pool: pool, prom: prom, jobs: jobsRepo}
}

func (r *OrdersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// productsForUpdate loads the requested products inside the caller's
// transaction and row-locks them, so a price change cannot land between
// the total computation and the commit. Missing ids surface as
// order.ErrProductsNotFound.
func productsForUpdate(ctx context.Context, tx pgx.Tx, ids []string) ([]product.Product, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1::uuid[]) ORDER BY id ASC FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []product.Product

	for rows.Next() {
		var p product.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) != len(ids) {
		return nil, order.ErrProductsNotFound
	}
	return out, nil
}

func insertOrderProducts(ctx context.Context, tx pgx.Tx, orderID string, productIDs []string) error {
	batch := &pgx.Batch{}

	for _, pid := range productIDs {
		batch.Queue(
			`INSERT INTO order_products(order_id, product_id) VALUES ($1,$2)`,
			orderID, pid,
		)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for range productIDs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return br.Close()
}

// Create stores the order, its line items and the confirmation job in one
// transaction. The total is computed here from current product prices.
func (r *OrdersRepo) Create(ctx context.Context, req order.CreateRequest) (order.Order, error) {
	var o order.Order

	err := r.observe("orders.create", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		productIDs := dedupe(req.ProductIDs)

		products, err := productsForUpdate(ctx, tx, productIDs)
		if err != nil {
			return err
		}

		var cust customer.Public
		err = tx.QueryRow(ctx,
			`SELECT id, name, email, created_at, updated_at FROM customers WHERE id = $1`,
			req.CustomerID,
		).Scan(&cust.ID, &cust.Name, &cust.Email, &cust.CreatedAt, &cust.UpdatedAt)

		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrCustomerNotFound
			}
			return err
		}

		o = order.Order{
			ID:         uuid.NewString(),
			CustomerID: req.CustomerID,
			Customer:   &cust,
			Products:   products,
			TotalPrice: order.Total(products),
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO orders(id, customer_id, total_price)
			VALUES ($1,$2,$3)
			RETURNING order_number, created_at, updated_at
		`, o.ID, o.CustomerID, o.TotalPrice).Scan(&o.OrderNumber, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return err
		}

		if err := insertOrderProducts(ctx, tx, o.ID, productIDs); err != nil {
			return err
		}

		payload, err := jobs.EncodePayload(jobs.JobOrderConfirmation, jobs.OrderConfirmationPayload{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			CustomerID:  cust.ID,
			Email:       cust.Email,
			Name:        cust.Name,
			TotalPrice:  o.TotalPrice,
			RequestedAt: o.CreatedAt,
		})
		if err != nil {
			return err
		}

		idemKey := "order.confirmation:" + o.ID
		_, err = r.jobs.CreateTx(ctx, tx, job.CreateRequest{
			Type:           string(jobs.JobOrderConfirmation),
			Payload:        payload,
			IdempotencyKey: &idemKey,
		})
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})

	if err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (r *OrdersRepo) productsForOrders(ctx context.Context, orderIDs []string) (map[string][]product.Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT op.order_id, p.id, p.name, p.description, p.price, p.created_at, p.updated_at
		FROM order_products op
		JOIN products p ON p.id = op.product_id
		WHERE op.order_id = ANY($1::uuid[])
		ORDER BY p.name ASC
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]product.Product, len(orderIDs))

	for rows.Next() {
		var orderID string
		var p product.Product

		if err := rows.Scan(&orderID, &p.ID, &p.Name, &p.Description, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], p)
	}
	return out, rows.Err()
}

func (r *OrdersRepo) GetByID(ctx context.Context, id string) (order.Order, error) {
	var o order.Order

	err := r.observe("orders.get_by_id", func() error {
		var cust customer.Public

		err := r.pool.QueryRow(ctx, `
			SELECT o.id, o.order_number, o.customer_id, o.total_price, o.created_at, o.updated_at,
			       c.id, c.name, c.email, c.created_at, c.updated_at
			FROM orders o
			JOIN customers c ON c.id = o.customer_id
			WHERE o.id = $1
		`, id).Scan(
			&o.ID, &o.OrderNumber, &o.CustomerID, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt,
			&cust.ID, &cust.Name, &cust.Email, &cust.CreatedAt, &cust.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return err
		}
		o.Customer = &cust

		byOrder, err := r.productsForOrders(ctx, []string{o.ID})
		if err != nil {
			return err
		}
		o.Products = byOrder[o.ID]
		if o.Products == nil {
			o.Products = []product.Product{}
		}
		return nil
	})

	if err != nil {
		return order.Order{}, err
	}
	return o, nil
}

// List returns one page of orders, newest first, plus the cursor for the
// next page ("" when this page is the last one).
func (r *OrdersRepo) List(ctx context.Context, filter order.ListFilter) ([]order.Order, string, error) {
	limit := filter.Limit

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var out []order.Order
	var next string

	err := r.observe("orders.list", func() error {
		query := `
			SELECT o.id, o.order_number, o.customer_id, o.total_price, o.created_at, o.updated_at,
			       c.id, c.name, c.email, c.created_at, c.updated_at
			FROM orders o
			JOIN customers c ON c.id = o.customer_id
			WHERE 1=1`
		args := []any{}
		n := 0

		if filter.CustomerID != nil {
			n++
			query += fmt.Sprintf(" AND o.customer_id = $%d", n)
			args = append(args, *filter.CustomerID)
		}

		if filter.Cursor != nil {
			query += fmt.Sprintf(" AND (o.created_at, o.id) < ($%d, $%d)", n+1, n+2)
			args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
			n += 2
		}

		// fetch one extra row to learn whether another page exists
		query += fmt.Sprintf(" ORDER BY o.created_at DESC, o.id DESC LIMIT $%d", n+1)
		args = append(args, limit+1)

		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var o order.Order
			var cust customer.Public

			if err := rows.Scan(
				&o.ID, &o.OrderNumber, &o.CustomerID, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt,
				&cust.ID, &cust.Name, &cust.Email, &cust.CreatedAt, &cust.UpdatedAt,
			); err != nil {
				return err
			}
			o.Customer = &cust
			out = append(out, o)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if len(out) > limit {
			out = out[:limit]
			last := out[len(out)-1]
			next, err = utils.EncodeOrderCursor(last.CreatedAt, last.ID)
			if err != nil {
				return err
			}
		}

		if len(out) == 0 {
			out = []order.Order{}
			return nil
		}

		orderIDs := make([]string, len(out))
		for i, o := range out {
			orderIDs[i] = o.ID
		}

		byOrder, err := r.productsForOrders(ctx, orderIDs)
		if err != nil {
			return err
		}
		for i := range out {
			out[i].Products = byOrder[out[i].ID]
			if out[i].Products == nil {
				out[i].Products = []product.Product{}
			}
		}
		return nil
	})

	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// Update replaces the order's product set and/or moves it to another
// customer. Replacing the products recomputes the total from current prices.
func (r *OrdersRepo) Update(ctx context.Context, id string, req order.UpdateRequest) (order.Order, error) {
	err := r.observe("orders.update", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		var exists string
		err = tx.QueryRow(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&exists)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return err
		}

		if req.CustomerID != nil {
			var custID string
			err = tx.QueryRow(ctx, `SELECT id FROM customers WHERE id = $1`, *req.CustomerID).Scan(&custID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return order.ErrCustomerNotFound
				}
				return err
			}
			if _, err := tx.Exec(ctx,
				`UPDATE orders SET customer_id = $2, updated_at = NOW() WHERE id = $1`,
				id, custID,
			); err != nil {
				return err
			}
		}

		if req.ProductIDs != nil {
			productIDs := dedupe(*req.ProductIDs)

			products, err := productsForUpdate(ctx, tx, productIDs)
			if err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, `DELETE FROM order_products WHERE order_id = $1`, id); err != nil {
				return err
			}
			if err := insertOrderProducts(ctx, tx, id, productIDs); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`UPDATE orders SET total_price = $2, updated_at = NOW() WHERE id = $1`,
				id, order.Total(products),
			); err != nil {
				return err
			}
		}

		return tx.Commit(ctx)
	})

	if err != nil {
		return order.Order{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *OrdersRepo) Delete(ctx context.Context, id string) error {
	return r.observe("orders.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}
		return nil
	})
}
