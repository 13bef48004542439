package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const orderSelect = `
	SELECT id, number, user_id, email, status, subtotal, shipping, total, currency, shipping_address,
		payment_session_id, payment_reference, tracking_number, created_at, updated_at, paid_at
	FROM orders`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var (
		o       Order
		userID  sql.NullString
		address []byte
		paidAt  sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Number, &userID, &o.Email, &o.Status, &o.Subtotal, &o.Shipping, &o.Total, &o.Currency,
		&address, &o.PaymentSessionID, &o.PaymentReference, &o.TrackingNumber, &o.CreatedAt, &o.UpdatedAt, &paidAt)
	if err != nil {
		return Order{}, err
	}
	if userID.Valid {
		v := userID.String
		o.UserID = &v
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
			return Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	return o, nil
}

// CreateOrder reserves stock for every item and persists the order in one
// transaction. A shortfall on any line rolls back and returns *StockError.
func (s *PostgresStore) CreateOrder(ctx context.Context, order Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range order.Items {
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2, updated_at=NOW()
			WHERE id=$1 AND is_active AND stock >= $2
		`, item.ProductID, item.Quantity)
		if err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}
		if affected == 0 {
			return &StockError{ProductID: item.ProductID}
		}
	}

	status := order.Status
	if status == "" {
		status = OrderPending
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, number, user_id, email, status, subtotal, shipping, total, currency, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
	`, order.ID, order.Number, order.UserID, order.Email, status, order.Subtotal, order.Shipping, order.Total,
		order.Currency, string(address)); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, product_slug, image_url, unit_price, quantity, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, item.ID, order.ID, item.ProductID, item.ProductName, item.ProductSlug, item.ImageURL, item.UnitPrice,
			item.Quantity, item.LineTotal); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, orderSelect+` WHERE id=$1`, id))
	if err != nil {
		return Order{}, err
	}
	return s.withItems(ctx, order)
}

func (s *PostgresStore) GetOrderByPaymentSession(ctx context.Context, sessionID string) (Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, orderSelect+` WHERE payment_session_id=$1`, sessionID))
	if err != nil {
		return Order{}, err
	}
	return s.withItems(ctx, order)
}

func (s *PostgresStore) withItems(ctx context.Context, order Order) (Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, product_slug, image_url, unit_price, quantity, line_total
		FROM order_items
		WHERE order_id=$1
		ORDER BY product_name, id
	`, order.ID)
	if err != nil {
		return Order{}, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	order.Items = make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductSlug,
			&item.ImageURL, &item.UnitPrice, &item.Quantity, &item.LineTotal); err != nil {
			return Order{}, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("iterate order items: %w", err)
	}
	return order, nil
}

func (s *PostgresStore) listOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	items := make([]Order, 0)
	for rows.Next() {
		item, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return items, nil
}

// ListOrdersByUser returns a customer's orders, newest first, without items.
func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.listOrders(ctx, orderSelect+` WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

// ListOrders is the admin listing. An empty status lists every order.
func (s *PostgresStore) ListOrders(ctx context.Context, status string, limit, offset int) ([]Order, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	items, err := s.listOrders(ctx, orderSelect+`
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) AttachPaymentSession(ctx context.Context, orderID, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET payment_session_id=$2, updated_at=NOW() WHERE id=$1`, orderID, sessionID)
	if err != nil {
		return fmt.Errorf("attach payment session: %w", err)
	}
	return requireRow(res)
}

// UpdateOrderStatus moves an order to status when its current status is one
// of from. ErrStatusConflict is returned when no row matched.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, from []string, status, trackingNumber string) error {
	args := []any{id, status, trackingNumber}
	for _, f := range from {
		args = append(args, f)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status=$2, tracking_number=CASE WHEN $3 = '' THEN tracking_number ELSE $3 END, updated_at=NOW()
		WHERE id=$1 AND status IN (`+placeholders(4, len(from))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if err := requireRow(res); err != nil {
		if isNoRows(err) {
			return ErrStatusConflict
		}
		return err
	}
	return nil
}

// MarkOrderPaid transitions a pending order to paid. It reports false when the
// order was already past pending, so repeated webhooks are harmless.
func (s *PostgresStore) MarkOrderPaid(ctx context.Context, id, paymentReference string, paidAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status='paid', payment_reference=$2, paid_at=$3, updated_at=NOW()
		WHERE id=$1 AND status='pending'
	`, id, paymentReference, paidAt)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return affected > 0, nil
}

// CancelOrder cancels an order whose status is one of from and returns its
// reserved stock. ErrStatusConflict is returned when the status did not match.
func (s *PostgresStore) CancelOrder(ctx context.Context, id string, from []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{id}
	for _, f := range from {
		args = append(args, f)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status='cancelled', updated_at=NOW()
		WHERE id=$1 AND status IN (`+placeholders(2, len(from))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if err := requireRow(res); err != nil {
		if isNoRows(err) {
			return ErrStatusConflict
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products p SET stock = p.stock + oi.quantity, updated_at=NOW()
		FROM order_items oi
		WHERE oi.order_id=$1 AND p.id = oi.product_id
	`, id); err != nil {
		return fmt.Errorf("restock order items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	return nil
}
