package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/model"
)

// The product stock row is mutated through exactly one statement shape:
// a conditional write guarded by the version captured at read time. Both
// quantities are always written together so a single guarded update covers
// sales, adjustments, reservations and hold consumption alike.
const (
	selectStockSQL = `SELECT id AS product_id, stock, reserved_stock, version FROM products WHERE id = ? AND deleted_at IS NULL`

	updateStockSQL = `UPDATE products SET stock = ?, reserved_stock = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`

	insertTransactionSQL = `INSERT INTO inventory_transactions (id, product_id, quantity, stock_before, stock_after, reference_type, reference_id, reason, actor_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertReservationSQL = `INSERT INTO inventory_reservations (id, product_id, order_id, quantity, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	deleteReservationSQL = `DELETE FROM inventory_reservations WHERE id = ?`

	selectReservationSQL         = `SELECT id, product_id, order_id, quantity, expires_at, created_at FROM inventory_reservations WHERE id = ?`
	selectReservationsByOrderSQL = `SELECT id, product_id, order_id, quantity, expires_at, created_at FROM inventory_reservations WHERE order_id = ?`
	selectExpiredReservationsSQL = `SELECT id, product_id, order_id, quantity, expires_at, created_at FROM inventory_reservations WHERE expires_at <= ?`
)

// ReadStock fetches the current stock record for a product.
func ReadStock(ctx context.Context, store datastore.Store, productID uint) (*model.StockRecord, error) {
	var rows []model.StockRecord
	err := store.Query(ctx, &rows, datastore.Statement{SQL: selectStockSQL, Args: []any{productID}})
	if err != nil {
		return nil, fmt.Errorf("read stock for product %d: %w", productID, err)
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{ProductID: productID}
	}
	return &rows[0], nil
}

// StockWrite builds the version-guarded conditional write for a product
// row. Zero affected rows means another writer mutated the row between
// read and write; the containing batch then aborts with ErrConflict.
func StockWrite(rec *model.StockRecord, newStock, newReserved int, at time.Time) datastore.Statement {
	return datastore.Statement{
		SQL:        updateStockSQL,
		Args:       []any{newStock, newReserved, at, rec.ProductID, rec.Version},
		ExpectRows: 1,
	}
}

// AuditInsert builds the append-only inventory transaction row that
// accompanies a stock mutation in the same batch.
func AuditInsert(txn *model.InventoryTransaction) datastore.Statement {
	return datastore.Statement{
		SQL: insertTransactionSQL,
		Args: []any{txn.ID, txn.ProductID, txn.Quantity, txn.StockBefore, txn.StockAfter,
			txn.ReferenceType, txn.ReferenceID, txn.Reason, txn.ActorID, txn.CreatedAt},
	}
}

// ReservationInsert builds the reservation row insert.
func ReservationInsert(res *model.Reservation) datastore.Statement {
	return datastore.Statement{
		SQL:  insertReservationSQL,
		Args: []any{res.ID, res.ProductID, res.OrderID, res.Quantity, res.ExpiresAt, res.CreatedAt},
	}
}

// ReservationDelete builds the guarded reservation row delete. The guard
// makes a racing double-release visible as a conflict instead of a silent
// double decrement of reserved stock.
func ReservationDelete(id string) datastore.Statement {
	return datastore.Statement{
		SQL:        deleteReservationSQL,
		Args:       []any{id},
		ExpectRows: 1,
	}
}

// readReservation fetches one reservation row, or nil when it is gone.
func readReservation(ctx context.Context, store datastore.Store, id string) (*model.Reservation, error) {
	var rows []model.Reservation
	err := store.Query(ctx, &rows, datastore.Statement{SQL: selectReservationSQL, Args: []any{id}})
	if err != nil {
		return nil, fmt.Errorf("read reservation %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ReservationsForOrder fetches all reservations held by an order.
func ReservationsForOrder(ctx context.Context, store datastore.Store, orderID string) ([]model.Reservation, error) {
	var rows []model.Reservation
	err := store.Query(ctx, &rows, datastore.Statement{SQL: selectReservationsByOrderSQL, Args: []any{orderID}})
	if err != nil {
		return nil, fmt.Errorf("read reservations for order %s: %w", orderID, err)
	}
	return rows, nil
}

// expiredReservations fetches all reservations whose expiry has passed.
func expiredReservations(ctx context.Context, store datastore.Store, now time.Time) ([]model.Reservation, error) {
	var rows []model.Reservation
	err := store.Query(ctx, &rows, datastore.Statement{SQL: selectExpiredReservationsSQL, Args: []any{now}})
	if err != nil {
		return nil, fmt.Errorf("read expired reservations: %w", err)
	}
	return rows, nil
}
