package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/datastore/memstore"
	"github.com/namhbcf1/kho1-sub001/internal/inventory"
	"github.com/namhbcf1/kho1-sub001/internal/model"
)

func newLedger(t *testing.T) (*inventory.Ledger, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return inventory.NewLedger(store, zap.NewNop()), store
}

func seed(store *memstore.Store, id uint, stock, reserved int) {
	store.SeedProduct(model.Product{
		ID: id, Name: "keyboard", SKU: "KB-01", Price: 25.00,
		Stock: stock, ReservedStock: reserved,
	})
}

func TestMutateStockModes(t *testing.T) {
	tests := []struct {
		name      string
		mode      inventory.Mode
		start     int
		quantity  int
		wantStock int
	}{
		{"add", inventory.ModeAdd, 10, 5, 15},
		{"subtract", inventory.ModeSubtract, 10, 4, 6},
		{"set", inventory.ModeSet, 10, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, store := newLedger(t)
			seed(store, 1, tt.start, 0)

			res, err := ledger.MutateStock(context.Background(), inventory.MutationRequest{
				ProductID: 1, Mode: tt.mode, Quantity: tt.quantity, Reason: "test", ActorID: 7,
			})
			if err != nil {
				t.Fatalf("MutateStock: %v", err)
			}
			if res.PreviousStock != tt.start || res.NewStock != tt.wantStock {
				t.Fatalf("result = %d -> %d, want %d -> %d",
					res.PreviousStock, res.NewStock, tt.start, tt.wantStock)
			}
			rec, _ := store.ProductState(1)
			if rec.Stock != tt.wantStock {
				t.Fatalf("stored stock = %d, want %d", rec.Stock, tt.wantStock)
			}
			if rec.Version != 1 {
				t.Fatalf("version = %d, want 1", rec.Version)
			}
		})
	}
}

func TestSubtractBeyondAvailableFails(t *testing.T) {
	ledger, store := newLedger(t)
	seed(store, 1, 10, 8)

	_, err := ledger.MutateStock(context.Background(), inventory.MutationRequest{
		ProductID: 1, Mode: inventory.ModeSubtract, Quantity: 5,
	})
	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if insufficient.Available != 2 || insufficient.Requested != 5 {
		t.Fatalf("error reports %d/%d, want requested 5 available 2",
			insufficient.Requested, insufficient.Available)
	}
	rec, _ := store.ProductState(1)
	if rec.Stock != 10 || rec.Version != 0 {
		t.Fatalf("failed mutation touched the row: stock=%d version=%d", rec.Stock, rec.Version)
	}
}

func TestSetBelowReservedFails(t *testing.T) {
	ledger, store := newLedger(t)
	seed(store, 1, 10, 6)

	_, err := ledger.MutateStock(context.Background(), inventory.MutationRequest{
		ProductID: 1, Mode: inventory.ModeSet, Quantity: 4,
	})
	var reserved *inventory.ReservedStockError
	if !errors.As(err, &reserved) {
		t.Fatalf("err = %v, want ReservedStockError", err)
	}
}

func TestMutateUnknownProduct(t *testing.T) {
	ledger, _ := newLedger(t)
	_, err := ledger.MutateStock(context.Background(), inventory.MutationRequest{
		ProductID: 99, Mode: inventory.ModeAdd, Quantity: 1,
	})
	var notFound *inventory.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestInvalidMutationRequests(t *testing.T) {
	ledger, store := newLedger(t)
	seed(store, 1, 10, 0)
	ctx := context.Background()

	cases := []inventory.MutationRequest{
		{ProductID: 1, Mode: "divide", Quantity: 2},
		{ProductID: 1, Mode: inventory.ModeAdd, Quantity: 0},
		{ProductID: 1, Mode: inventory.ModeSubtract, Quantity: -3},
		{ProductID: 1, Mode: inventory.ModeSet, Quantity: -1},
	}
	for _, req := range cases {
		if _, err := ledger.MutateStock(ctx, req); err == nil {
			t.Errorf("MutateStock(%+v) succeeded, want error", req)
		}
	}
}

func TestAuditTrailReplaysToCurrentStock(t *testing.T) {
	ledger, store := newLedger(t)
	seed(store, 1, 20, 0)
	ctx := context.Background()

	steps := []inventory.MutationRequest{
		{ProductID: 1, Mode: inventory.ModeSubtract, Quantity: 5, Reason: "sale"},
		{ProductID: 1, Mode: inventory.ModeAdd, Quantity: 12, Reason: "restock"},
		{ProductID: 1, Mode: inventory.ModeSet, Quantity: 8, Reason: "recount"},
	}
	for _, req := range steps {
		if _, err := ledger.MutateStock(ctx, req); err != nil {
			t.Fatalf("MutateStock(%+v): %v", req, err)
		}
	}

	rows := store.Transactions(1)
	if len(rows) != len(steps) {
		t.Fatalf("audit rows = %d, want %d", len(rows), len(steps))
	}
	replayed := 20
	for i, row := range rows {
		if row.StockBefore != replayed {
			t.Fatalf("row %d StockBefore = %d, want %d", i, row.StockBefore, replayed)
		}
		replayed += row.Quantity
		if row.StockAfter != replayed {
			t.Fatalf("row %d StockAfter = %d, want %d", i, row.StockAfter, replayed)
		}
	}
	rec, _ := store.ProductState(1)
	if replayed != rec.Stock {
		t.Fatalf("replayed stock = %d, stored = %d", replayed, rec.Stock)
	}
	if rec.Version != int64(len(steps)) {
		t.Fatalf("version = %d, want %d", rec.Version, len(steps))
	}
}

// conflictStore forces the first n batches to lose the version race.
type conflictStore struct {
	datastore.Store
	remaining int
}

func (c *conflictStore) Batch(ctx context.Context, stmts []datastore.Statement) ([]datastore.Result, error) {
	if c.remaining > 0 {
		c.remaining--
		return nil, datastore.ErrConflict
	}
	return c.Store.Batch(ctx, stmts)
}

func TestRetryOnConflictRecovers(t *testing.T) {
	store := memstore.New()
	seed(store, 1, 10, 0)
	flaky := &conflictStore{Store: store, remaining: 2}
	ledger := inventory.NewLedger(flaky, zap.NewNop())

	attempts := 0
	err := inventory.RetryOnConflict(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		attempts++
		_, err := ledger.MutateStock(ctx, inventory.MutationRequest{
			ProductID: 1, Mode: inventory.ModeSubtract, Quantity: 2,
		})
		return err
	})
	if err != nil {
		t.Fatalf("retry loop failed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	rec, _ := store.ProductState(1)
	if rec.Stock != 8 {
		t.Fatalf("stock = %d, want 8", rec.Stock)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	flaky := &conflictStore{Store: memstore.New(), remaining: 10}
	calls := 0
	err := inventory.RetryOnConflict(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		_, err := flaky.Batch(ctx, nil)
		return err
	})
	if !errors.Is(err, datastore.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryOnConflictClampsNonPositiveBackoff(t *testing.T) {
	store := memstore.New()
	seed(store, 1, 10, 0)
	flaky := &conflictStore{Store: store, remaining: 1}
	ledger := inventory.NewLedger(flaky, zap.NewNop())

	err := inventory.RetryOnConflict(context.Background(), 3, -time.Second, func(ctx context.Context) error {
		_, err := ledger.MutateStock(ctx, inventory.MutationRequest{
			ProductID: 1, Mode: inventory.ModeSubtract, Quantity: 2,
		})
		return err
	})
	if err != nil {
		t.Fatalf("retry with negative backoff failed: %v", err)
	}
	rec, _ := store.ProductState(1)
	if rec.Stock != 8 {
		t.Fatalf("stock = %d, want 8", rec.Stock)
	}
}

func TestRetryOnConflictDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := inventory.RetryOnConflict(context.Background(), 5, time.Millisecond, func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
