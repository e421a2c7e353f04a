package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/datastore/memstore"
	"github.com/namhbcf1/kho1-sub001/internal/inventory"
)

func newManager(t *testing.T) (*inventory.Manager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return inventory.NewManager(store, zap.NewNop(), 0), store
}

func TestReserveReducesAvailability(t *testing.T) {
	mgr, store := newManager(t)
	seed(store, 1, 10, 0)

	res, err := mgr.Reserve(context.Background(), 1, 4, "order-1", 0)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Quantity != 4 || res.OrderID != "order-1" {
		t.Fatalf("reservation = %+v", res)
	}
	if res.ExpiresAt.Before(time.Now()) {
		t.Fatal("reservation expired immediately")
	}

	rec, _ := store.ProductState(1)
	if rec.Stock != 10 || rec.ReservedStock != 4 {
		t.Fatalf("stock/reserved = %d/%d, want 10/4", rec.Stock, rec.ReservedStock)
	}
	if rec.Version != 1 {
		t.Fatalf("version = %d, want 1", rec.Version)
	}

	// only 6 left for anyone else
	if _, err := mgr.Reserve(context.Background(), 1, 7, "order-2", 0); err == nil {
		t.Fatal("reserving beyond availability succeeded")
	}
	var insufficient *inventory.InsufficientStockError
	_, err = mgr.Reserve(context.Background(), 1, 7, "order-2", 0)
	if !errors.As(err, &insufficient) || insufficient.Available != 6 {
		t.Fatalf("err = %v, want InsufficientStockError with available 6", err)
	}
}

func TestReserveValidatesInput(t *testing.T) {
	mgr, store := newManager(t)
	seed(store, 1, 10, 0)
	ctx := context.Background()

	if _, err := mgr.Reserve(ctx, 1, 0, "order-1", 0); err == nil {
		t.Error("zero quantity accepted")
	}
	if _, err := mgr.Reserve(ctx, 1, 2, "", 0); err == nil {
		t.Error("missing order id accepted")
	}
	var notFound *inventory.NotFoundError
	if _, err := mgr.Reserve(ctx, 99, 2, "order-1", 0); !errors.As(err, &notFound) {
		t.Errorf("unknown product err = %v, want NotFoundError", err)
	}
}

func TestReleaseRestoresAvailability(t *testing.T) {
	mgr, store := newManager(t)
	seed(store, 1, 10, 0)
	ctx := context.Background()

	if _, err := mgr.Reserve(ctx, 1, 3, "order-1", 0); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := mgr.Reserve(ctx, 1, 2, "order-1", 0); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	released, err := mgr.Release(ctx, "order-1")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released != 2 {
		t.Fatalf("released = %d, want 2", released)
	}
	rec, _ := store.ProductState(1)
	if rec.ReservedStock != 0 || rec.Stock != 10 {
		t.Fatalf("stock/reserved = %d/%d, want 10/0", rec.Stock, rec.ReservedStock)
	}
	if got := len(store.Reservations()); got != 0 {
		t.Fatalf("reservation rows = %d, want 0", got)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	mgr, store := newManager(t)
	seed(store, 1, 10, 0)
	ctx := context.Background()

	if _, err := mgr.Reserve(ctx, 1, 3, "order-1", 0); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := mgr.Release(ctx, "order-1"); err != nil {
		t.Fatalf("first Release: %v", err)
	}

	released, err := mgr.Release(ctx, "order-1")
	if err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if released != 0 {
		t.Fatalf("second release returned %d, want 0", released)
	}
	rec, _ := store.ProductState(1)
	if rec.ReservedStock != 0 {
		t.Fatalf("reserved = %d after double release, want 0", rec.ReservedStock)
	}
}

func TestSweepReclaimsOnlyExpired(t *testing.T) {
	mgr, store := newManager(t)
	seed(store, 1, 10, 0)
	ctx := context.Background()

	if _, err := mgr.Reserve(ctx, 1, 2, "order-stale", 10*time.Millisecond); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := mgr.Reserve(ctx, 1, 3, "order-live", time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	swept, err := mgr.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	rec, _ := store.ProductState(1)
	if rec.ReservedStock != 3 {
		t.Fatalf("reserved = %d, want 3 (live hold kept)", rec.ReservedStock)
	}

	// nothing left to reclaim
	swept, err = mgr.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second SweepExpired: %v", err)
	}
	if swept != 0 {
		t.Fatalf("second sweep reclaimed %d, want 0", swept)
	}
}
