package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/platform/pagination"
	ppostgres "github.com/totebags/api/internal/platform/postgres"
	"github.com/totebags/api/internal/repositories"
)

const orderColumns = `o.id, o.order_number, o.profile_id, o.customer_email, o.customer_phone,
	o.shipping_city, o.shipping_address, o.currency, o.total_amount_cents,
	o.carrier, o.tracking_number, o.created_at, o.updated_at`

const orderItemsQuery = `
SELECT i.id, i.order_id, i.product_id, i.variant_id, i.sku, i.quantity, i.unit_price_cents,
	COALESCE(p.name, ''),
	COALESCE(NULLIF(v.image_url, ''), img.url, '')
FROM order_items i
LEFT JOIN products p ON p.id = i.product_id
LEFT JOIN product_variants v ON v.id = i.variant_id
LEFT JOIN LATERAL (
	SELECT pi.url FROM product_images pi
	WHERE pi.product_id = i.product_id
	ORDER BY pi.position
	LIMIT 1
) img ON TRUE
WHERE i.order_id = ANY($1)
ORDER BY i.order_id, i.position`

const orderHistoryQuery = `
SELECT id, order_id, status, source, note, recorded_at
FROM order_status_history
WHERE order_id = ANY($1)
ORDER BY order_id, recorded_at DESC, id DESC`

// OrderRepository stores orders, their line items and the append-only status ledger.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(db *sql.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires database")
	}
	return &OrderRepository{db: db}, nil
}

// Insert writes the header, items and history of a new order in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return repositories.NewError("orders.insert", repositories.ErrorKindInvalidInput, "encode shipping address", err)
	}

	return ppostgres.RunInTx(ctx, r.db, func(ctx context.Context) error {
		q := ppostgres.Conn(ctx, r.db)
		if _, err := q.ExecContext(ctx, `
INSERT INTO orders (id, order_number, profile_id, customer_email, customer_phone, shipping_city,
	shipping_address, currency, total_amount_cents, carrier, tracking_number, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			order.ID, order.OrderNumber, order.ProfileID, order.CustomerEmail, order.CustomerPhone,
			order.ShippingCity, address, order.Currency, order.TotalAmount.MinorUnits(),
			order.Carrier, order.TrackingNumber, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			return ppostgres.WrapError("orders.insert", err)
		}

		for pos, item := range order.Items {
			if _, err := q.ExecContext(ctx, `
INSERT INTO order_items (id, order_id, position, product_id, variant_id, sku, quantity, unit_price_cents)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				item.ID, order.ID, pos, item.ProductID, item.VariantID, item.SKU, item.Quantity, item.UnitPrice.MinorUnits(),
			); err != nil {
				return ppostgres.WrapError("orders.insert_item", err)
			}
		}

		for _, entry := range order.History {
			if _, err := r.AppendStatus(ctx, order.ID, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByID loads an order with its items and history.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find", orderID, false)
}

// LockForUpdate loads the order while holding its row lock. Callers must run it inside
// a transaction for the lock to outlive the statement.
func (r *OrderRepository) LockForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	if _, ok := ppostgres.TxFromContext(ctx); !ok {
		return domain.Order{}, repositories.NewError("orders.lock", repositories.ErrorKindInvalidInput, "row lock requires a transaction", nil)
	}
	return r.findOne(ctx, "orders.lock", orderID, true)
}

func (r *OrderRepository) findOne(ctx context.Context, op, orderID string, lock bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	q := ppostgres.Conn(ctx, r.db)
	order, err := scanOrder(q.QueryRowContext(ctx, query, strings.TrimSpace(orderID)))
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	orders := []domain.Order{order}
	if err := r.hydrate(ctx, q, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// UpdateFulfilment writes carrier and tracking number. Nil pointers leave the column untouched.
func (r *OrderRepository) UpdateFulfilment(ctx context.Context, orderID string, carrier, trackingNumber *string, updatedAt time.Time) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `
UPDATE orders
SET carrier = COALESCE($2, carrier),
	tracking_number = COALESCE($3, tracking_number),
	updated_at = $4
WHERE id = $1`, orderID, carrier, trackingNumber, updatedAt)
	if err != nil {
		return ppostgres.WrapError("orders.update_fulfilment", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repositories.NewError("orders.update_fulfilment", repositories.ErrorKindNotFound, "order not found", nil)
	}
	return nil
}

// AppendStatus inserts a history row and returns it with its sequence id.
func (r *OrderRepository) AppendStatus(ctx context.Context, orderID string, entry domain.OrderStatusEntry) (domain.OrderStatusEntry, error) {
	err := ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, `
INSERT INTO order_status_history (order_id, status, source, note, recorded_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, orderID, string(entry.Status), string(entry.Source), entry.Note, entry.RecordedAt).Scan(&entry.ID)
	if err != nil {
		return domain.OrderStatusEntry{}, ppostgres.WrapError("orders.append_status", err)
	}
	return entry, nil
}

// List returns orders newest first using keyset pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewError("orders.list", repositories.ErrorKindInvalidInput, "invalid page token", err)
	}
	pageSize := pagination.Clamp(filter.Pagination.PageSize)

	var (
		where []string
		args  []any
	)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("cs.status = ANY($%d)", len(args)))
	}
	if !cursor.IsZero() {
		args = append(args, cursor.CreatedAt, cursor.ID)
		where = append(where, fmt.Sprintf("(o.created_at, o.id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, pageSize+1)

	query := `SELECT ` + orderColumns + `
FROM orders o
LEFT JOIN order_current_status cs ON cs.order_id = o.id`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\nORDER BY o.created_at DESC, o.id DESC\nLIMIT $%d", len(args))

	q := ppostgres.Conn(ctx, r.db)
	orders, err := r.queryOrders(ctx, q, "orders.list", query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > pageSize {
		last := orders[pageSize-1]
		orders = orders[:pageSize]
		token, err := pagination.EncodeToken(pagination.Keyset{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewError("orders.list", repositories.ErrorKindUnknown, "encode page token", err)
		}
		page.NextPageToken = token
	}
	page.Items = orders
	return page, nil
}

// ListByUser returns orders whose profile belongs to the user id, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.queryOrders(ctx, ppostgres.Conn(ctx, r.db), "orders.list_by_user", `
SELECT `+orderColumns+`
FROM orders o
JOIN profiles pr ON pr.id = o.profile_id
WHERE pr.user_id = $1
ORDER BY o.created_at DESC, o.id DESC`, strings.TrimSpace(userID))
}

// ListAwaitingProduction filters on the current status in SQL so settled and
// unpaid orders are never hydrated.
func (r *OrderRepository) ListAwaitingProduction(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + `
FROM orders o
JOIN order_current_status cs ON cs.order_id = o.id
WHERE cs.status = $1`
	args := []any{string(domain.OrderStatusPaid)}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND o.created_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND o.created_at < $%d", len(args))
	}
	query += `
ORDER BY o.created_at DESC, o.id DESC`
	return r.queryOrders(ctx, ppostgres.Conn(ctx, r.db), "orders.list_awaiting_production", query, args...)
}

// CountItemsForProduct counts line items referencing the product.
func (r *OrderRepository) CountItemsForProduct(ctx context.Context, productID string) (int, error) {
	var count int
	err := ppostgres.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_items WHERE product_id = $1`, productID).Scan(&count)
	if err != nil {
		return 0, ppostgres.WrapError("orders.count_items_for_product", err)
	}
	return count, nil
}

func (r *OrderRepository) queryOrders(ctx context.Context, q ppostgres.Querier, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, ppostgres.WrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	if err := r.hydrate(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// hydrate attaches items and history to the orders in place.
func (r *OrderRepository) hydrate(ctx context.Context, q ppostgres.Querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
		orders[i].Items = []domain.OrderLineItem{}
		orders[i].History = []domain.OrderStatusEntry{}
	}

	itemRows, err := q.QueryContext(ctx, orderItemsQuery, ids)
	if err != nil {
		return ppostgres.WrapError("orders.items", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var (
			item    domain.OrderLineItem
			orderID string
			variant sql.NullString
			cents   int64
		)
		if err := itemRows.Scan(&item.ID, &orderID, &item.ProductID, &variant, &item.SKU, &item.Quantity, &cents, &item.ProductName, &item.ImageURL); err != nil {
			return ppostgres.WrapError("orders.items", err)
		}
		item.VariantID = nullableString(variant)
		item.UnitPrice = domain.Money(cents)
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return ppostgres.WrapError("orders.items", err)
	}

	historyRows, err := q.QueryContext(ctx, orderHistoryQuery, ids)
	if err != nil {
		return ppostgres.WrapError("orders.history", err)
	}
	defer historyRows.Close()
	for historyRows.Next() {
		var (
			entry          domain.OrderStatusEntry
			orderID        string
			status, source string
		)
		if err := historyRows.Scan(&entry.ID, &orderID, &status, &source, &entry.Note, &entry.RecordedAt); err != nil {
			return ppostgres.WrapError("orders.history", err)
		}
		entry.Status = domain.OrderStatus(status)
		entry.Source = domain.StatusSource(source)
		entry.RecordedAt = entry.RecordedAt.UTC()
		i := index[orderID]
		orders[i].History = append(orders[i].History, entry)
	}
	return ppostgres.WrapError("orders.history", historyRows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order             domain.Order
		profileID         sql.NullString
		carrier, tracking sql.NullString
		address           []byte
		cents             int64
	)
	if err := row.Scan(&order.ID, &order.OrderNumber, &profileID, &order.CustomerEmail, &order.CustomerPhone,
		&order.ShippingCity, &address, &order.Currency, &cents, &carrier, &tracking,
		&order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
			return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	order.ProfileID = nullableString(profileID)
	order.Carrier = nullableString(carrier)
	order.TrackingNumber = nullableString(tracking)
	order.TotalAmount = domain.Money(cents)
	order.Currency = strings.TrimSpace(order.Currency)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
