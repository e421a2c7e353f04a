package order

import (
	"context"
	"fmt"
	"time"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/model"
)

const (
	selectProductSQL = `SELECT id AS product_id, name, price, stock, reserved_stock, version FROM products WHERE id = ? AND deleted_at IS NULL`

	insertOrderSQL = `INSERT INTO orders (id, order_number, customer_id, cashier_id, subtotal, discount, tax, total, payment_method, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, product_id, product_name, unit_price, quantity, line_total) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertPaymentSQL = `INSERT INTO payments (id, order_id, method, amount, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	updateOrderStatusSQL   = `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`
	updatePaymentStatusSQL = `UPDATE payments SET status = ? WHERE order_id = ?`

	selectOrderSQL      = `SELECT id, order_number, customer_id, cashier_id, subtotal, discount, tax, total, payment_method, status, created_at, updated_at FROM orders WHERE id = ?`
	selectOrderItemsSQL = `SELECT id, order_id, product_id, product_name, unit_price, quantity, line_total FROM order_items WHERE order_id = ?`
)

// readProduct fetches the pre-flight snapshot for one line item.
func readProduct(ctx context.Context, store datastore.Store, productID uint) (*model.ProductSnapshot, error) {
	var rows []model.ProductSnapshot
	err := store.Query(ctx, &rows, datastore.Statement{SQL: selectProductSQL, Args: []any{productID}})
	if err != nil {
		return nil, fmt.Errorf("read product %d: %w", productID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// readOrder fetches one order row, or nil when it does not exist.
func readOrder(ctx context.Context, store datastore.Store, orderID string) (*model.Order, error) {
	var rows []model.Order
	err := store.Query(ctx, &rows, datastore.Statement{SQL: selectOrderSQL, Args: []any{orderID}})
	if err != nil {
		return nil, fmt.Errorf("read order %s: %w", orderID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// readOrderItems fetches the line items of an order.
func readOrderItems(ctx context.Context, store datastore.Store, orderID string) ([]model.OrderItem, error) {
	var rows []model.OrderItem
	err := store.Query(ctx, &rows, datastore.Statement{SQL: selectOrderItemsSQL, Args: []any{orderID}})
	if err != nil {
		return nil, fmt.Errorf("read items for order %s: %w", orderID, err)
	}
	return rows, nil
}

func orderInsert(o *model.Order) datastore.Statement {
	return datastore.Statement{
		SQL: insertOrderSQL,
		Args: []any{o.ID, o.OrderNumber, o.CustomerID, o.CashierID, o.Subtotal, o.Discount,
			o.Tax, o.Total, o.PaymentMethod, o.Status, o.CreatedAt, o.UpdatedAt},
	}
}

func orderItemInsert(it *model.OrderItem) datastore.Statement {
	return datastore.Statement{
		SQL:  insertOrderItemSQL,
		Args: []any{it.ID, it.OrderID, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity, it.LineTotal},
	}
}

func paymentInsert(p *model.Payment) datastore.Statement {
	return datastore.Statement{
		SQL:  insertPaymentSQL,
		Args: []any{p.ID, p.OrderID, p.Method, p.Amount, p.Status, p.CreatedAt},
	}
}

func orderStatusUpdate(orderID, status string, at time.Time) datastore.Statement {
	return datastore.Statement{
		SQL:        updateOrderStatusSQL,
		Args:       []any{status, at, orderID},
		ExpectRows: 1,
	}
}

func paymentStatusUpdate(orderID, status string) datastore.Statement {
	return datastore.Statement{
		SQL:        updatePaymentStatusSQL,
		Args:       []any{status, orderID},
		ExpectRows: 1,
	}
}
