package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/model"
)

// DefaultReservationTTL is used when the caller does not supply a hold
// duration.
const DefaultReservationTTL = 30 * time.Minute

// retry bounds for the manager's own guarded writes
const (
	reserveAttempts = 3
	reserveBackoff  = 20 * time.Millisecond
)

// Manager earmarks stock for in-progress orders without committing a
// sale. Reservations expire and are reclaimed by SweepExpired; releases
// are idempotent so a manual release racing the sweep settles cleanly.
type Manager struct {
	store      datastore.Store
	log        *zap.Logger
	defaultTTL time.Duration
}

// NewManager creates a reservation manager. ttl <= 0 falls back to
// DefaultReservationTTL.
func NewManager(store datastore.Store, log *zap.Logger, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &Manager{store: store, log: log, defaultTTL: ttl}
}

// Reserve holds quantity units of a product for an order. The hold
// expires after ttl (the manager default when ttl <= 0).
func (m *Manager) Reserve(ctx context.Context, productID uint, quantity int, orderID string, ttl time.Duration) (*model.Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("reservation requires a positive quantity, got %d", quantity)
	}
	if orderID == "" {
		return nil, fmt.Errorf("reservation requires an order id")
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	var res *model.Reservation
	err := RetryOnConflict(ctx, reserveAttempts, reserveBackoff, func(ctx context.Context) error {
		rec, err := ReadStock(ctx, m.store, productID)
		if err != nil {
			return err
		}
		if quantity > rec.Available() {
			return &InsufficientStockError{
				ProductID: productID,
				Requested: quantity,
				Available: rec.Available(),
			}
		}

		now := time.Now()
		res = &model.Reservation{
			ID:        uuid.New().String(),
			ProductID: productID,
			OrderID:   orderID,
			Quantity:  quantity,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		_, err = m.store.Batch(ctx, []datastore.Statement{
			StockWrite(rec, rec.Stock, rec.ReservedStock+quantity, now),
			ReservationInsert(res),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("stock reserved",
		zap.String("reservation_id", res.ID),
		zap.Uint("product_id", productID),
		zap.Int("quantity", quantity),
		zap.String("order_id", orderID),
		zap.Time("expires_at", res.ExpiresAt))
	return res, nil
}

// Release drops every reservation held by an order and returns reserved
// stock to the pool. Releasing an order with no reservations is a no-op.
func (m *Manager) Release(ctx context.Context, orderID string) (int, error) {
	reservations, err := ReservationsForOrder(ctx, m.store, orderID)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range reservations {
		if err := m.releaseOne(ctx, &reservations[i]); err != nil {
			return released, err
		}
		released++
	}

	if released > 0 {
		m.log.Info("reservations released",
			zap.String("order_id", orderID),
			zap.Int("count", released))
	}
	return released, nil
}

// SweepExpired reclaims every reservation whose expiry has passed and
// returns the count. Safe to run concurrently with itself and with
// manual releases: a row that vanished under us is simply skipped.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := expiredReservations(ctx, m.store, time.Now())
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for i := range expired {
		if err := m.releaseOne(ctx, &expired[i]); err != nil {
			m.log.Warn("failed to reclaim expired reservation",
				zap.String("reservation_id", expired[i].ID),
				zap.Error(err))
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		m.log.Info("expired reservations swept", zap.Int("count", cleaned))
	}
	return cleaned, nil
}

// releaseOne returns a single reservation's quantity to the pool and
// deletes its row in one guarded batch. Each retry re-reads the row, so
// a concurrent releaser winning the race turns this into a no-op instead
// of a double decrement.
func (m *Manager) releaseOne(ctx context.Context, res *model.Reservation) error {
	return RetryOnConflict(ctx, reserveAttempts, reserveBackoff, func(ctx context.Context) error {
		current, err := readReservation(ctx, m.store, res.ID)
		if err != nil {
			return err
		}
		if current == nil {
			// already released or swept
			return nil
		}

		rec, err := ReadStock(ctx, m.store, current.ProductID)
		if err != nil {
			return err
		}
		newReserved := rec.ReservedStock - current.Quantity
		if newReserved < 0 {
			newReserved = 0
		}

		now := time.Now()
		txn := &model.InventoryTransaction{
			ID:            uuid.New().String(),
			ProductID:     current.ProductID,
			Quantity:      0,
			StockBefore:   rec.Stock,
			StockAfter:    rec.Stock,
			ReferenceType: model.ReferenceReservationRelease,
			ReferenceID:   current.OrderID,
			Reason:        "reservation released",
			CreatedAt:     now,
		}
		_, err = m.store.Batch(ctx, []datastore.Statement{
			StockWrite(rec, rec.Stock, newReserved, now),
			ReservationDelete(current.ID),
			AuditInsert(txn),
		})
		return err
	})
}
