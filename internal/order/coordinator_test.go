package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/datastore/memstore"
	"github.com/namhbcf1/kho1-sub001/internal/inventory"
	"github.com/namhbcf1/kho1-sub001/internal/model"
	"github.com/namhbcf1/kho1-sub001/internal/order"
)

func newCoordinator(t *testing.T) (*order.Coordinator, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	log := zap.NewNop()
	ledger := inventory.NewLedger(store, log)
	reservations := inventory.NewManager(store, log, 0)
	return order.NewCoordinator(store, ledger, reservations, log, order.Config{
		RetryBackoff: time.Millisecond,
	}), store
}

func seedCatalog(store *memstore.Store) {
	store.SeedProduct(model.Product{ID: 1, Name: "espresso", SKU: "C-01", Price: 3.50, Stock: 20})
	store.SeedProduct(model.Product{ID: 2, Name: "croissant", SKU: "B-01", Price: 2.25, Stock: 5})
}

func TestCreateOrderCommitsEverything(t *testing.T) {
	coord, store := newCoordinator(t)
	seedCatalog(store)

	customerID := uint(42)
	res, err := coord.CreateOrder(context.Background(), order.CreateOrderRequest{
		CustomerID: &customerID,
		CashierID:  7,
		Items: []order.ItemRequest{
			{ProductID: 1, Quantity: 2, Price: 3.50},
			{ProductID: 2, Quantity: 1, Price: 2.25},
		},
		Discount:      0.25,
		Tax:           0.50,
		Total:         9.50,
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}

	o, ok := store.Order(res.OrderID)
	if !ok {
		t.Fatal("order row missing")
	}
	if o.Status != model.OrderStatusCompleted {
		t.Fatalf("status = %q, want completed", o.Status)
	}
	if o.OrderNumber != res.OrderNumber || o.Total != 9.50 {
		t.Fatalf("order row = %+v", o)
	}
	if o.CustomerID == nil || *o.CustomerID != 42 {
		t.Fatalf("customer id = %v, want 42", o.CustomerID)
	}

	full, err := coord.GetOrder(context.Background(), res.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(full.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(full.Items))
	}

	pay, ok := store.Payment(res.OrderID)
	if !ok || pay.Status != model.PaymentStatusPaid || pay.Amount != 9.50 {
		t.Fatalf("payment = %+v", pay)
	}

	rec1, _ := store.ProductState(1)
	rec2, _ := store.ProductState(2)
	if rec1.Stock != 18 || rec2.Stock != 4 {
		t.Fatalf("stock = %d/%d, want 18/4", rec1.Stock, rec2.Stock)
	}
	if rec1.Version != 1 || rec2.Version != 1 {
		t.Fatalf("versions = %d/%d, want 1/1", rec1.Version, rec2.Version)
	}

	audits := store.Transactions(0)
	if len(audits) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(audits))
	}
	for _, a := range audits {
		if a.ReferenceType != model.ReferenceOrder || a.ReferenceID != res.OrderID {
			t.Fatalf("audit row = %+v", a)
		}
	}
}

func TestCreateOrderMergesDuplicateLines(t *testing.T) {
	coord, store := newCoordinator(t)
	seedCatalog(store)

	res, err := coord.CreateOrder(context.Background(), order.CreateOrderRequest{
		CashierID: 7,
		Items: []order.ItemRequest{
			{ProductID: 1, Quantity: 2, Price: 3.50},
			{ProductID: 1, Quantity: 3, Price: 3.50},
		},
		Total:         17.50,
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	rec, _ := store.ProductState(1)
	if rec.Stock != 15 {
		t.Fatalf("stock = %d, want 15", rec.Stock)
	}
	// both lines funnel into one guarded write
	if rec.Version != 1 {
		t.Fatalf("version = %d, want 1", rec.Version)
	}
	if got := len(store.Transactions(1)); got != 1 {
		t.Fatalf("audit rows = %d, want 1", got)
	}

	full, err := coord.GetOrder(context.Background(), res.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(full.Items) != 2 {
		t.Fatalf("items = %d, want the two submitted lines", len(full.Items))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	coord, store := newCoordinator(t)
	seedCatalog(store)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      order.CreateOrderRequest
		wantCode string
	}{
		{
			name:     "no items",
			req:      order.CreateOrderRequest{CashierID: 7, PaymentMethod: "cash"},
			wantCode: order.CodeEmptyOrder,
		},
		{
			name: "zero quantity",
			req: order.CreateOrderRequest{
				CashierID:     7,
				Items:         []order.ItemRequest{{ProductID: 1, Quantity: 0, Price: 3.50}},
				PaymentMethod: "cash",
			},
			wantCode: order.CodeInvalidItem,
		},
		{
			name: "missing payment method",
			req: order.CreateOrderRequest{
				CashierID: 7,
				Items:     []order.ItemRequest{{ProductID: 1, Quantity: 1, Price: 3.50}},
				Total:     3.50,
			},
			wantCode: order.CodeInvalidItem,
		},
		{
			name: "total does not add up",
			req: order.CreateOrderRequest{
				CashierID:     7,
				Items:         []order.ItemRequest{{ProductID: 1, Quantity: 2, Price: 3.50}},
				Total:         5.00,
				PaymentMethod: "cash",
			},
			wantCode: order.CodeCalculationMismatch,
		},
		{
			name: "price disagrees with catalog",
			req: order.CreateOrderRequest{
				CashierID:     7,
				Items:         []order.ItemRequest{{ProductID: 1, Quantity: 1, Price: 1.00}},
				Total:         1.00,
				PaymentMethod: "cash",
			},
			wantCode: order.CodePriceMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.CreateOrder(ctx, tt.req)
			var ve *order.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", ve.Code, tt.wantCode)
			}
		})
	}

	if store.OrderCount() != 0 {
		t.Fatalf("rejected orders left %d rows behind", store.OrderCount())
	}
	rec, _ := store.ProductState(1)
	if rec.Stock != 20 || rec.Version != 0 {
		t.Fatalf("rejected orders touched stock: %+v", rec)
	}
}

func TestCreateOrderInsufficientStockLeavesNothingBehind(t *testing.T) {
	coord, store := newCoordinator(t)
	seedCatalog(store)

	_, err := coord.CreateOrder(context.Background(), order.CreateOrderRequest{
		CashierID: 7,
		Items: []order.ItemRequest{
			{ProductID: 1, Quantity: 1, Price: 3.50},
			{ProductID: 2, Quantity: 6, Price: 2.25}, // only 5 in stock
		},
		Total:         17.00,
		PaymentMethod: "cash",
	})
	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if insufficient.ProductID != 2 {
		t.Fatalf("failing product = %d, want 2", insufficient.ProductID)
	}

	if store.OrderCount() != 0 {
		t.Fatal("failed order left an order row behind")
	}
	rec1, _ := store.ProductState(1)
	if rec1.Stock != 20 || rec1.Version != 0 {
		t.Fatalf("failed order touched product 1: %+v", rec1)
	}
	if got := len(store.Transactions(0)); got != 0 {
		t.Fatalf("failed order wrote %d audit rows", got)
	}
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	coord, store := newCoordinator(t)
	seedCatalog(store)

	_, err := coord.CreateOrder(context.Background(), order.CreateOrderRequest{
		CashierID:     7,
		Items:         []order.ItemRequest{{ProductID: 99, Quantity: 1, Price: 1.00}},
		Total:         1.00,
		PaymentMethod: "cash",
	})
	var notFound *inventory.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestConcurrentOrdersDoNotOversell(t *testing.T) {
	coord, store := newCoordinator(t)
	store.SeedProduct(model.Product{ID: 1, Name: "limited", SKU: "L-01", Price: 10.00, Stock: 5})

	req := order.CreateOrderRequest{
		CashierID:     7,
		Items:         []order.ItemRequest{{ProductID: 1, Quantity: 3, Price: 10.00}},
		Total:         30.00,
		PaymentMethod: "cash",
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.CreateOrder(context.Background(), req)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var insufficient *inventory.InsufficientStockError
		if !errors.As(err, &insufficient) {
			t.Fatalf("loser err = %v, want InsufficientStockError", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}

	rec, _ := store.ProductState(1)
	if rec.Stock != 2 {
		t.Fatalf("final stock = %d, want 2", rec.Stock)
	}
	if store.OrderCount() != 1 {
		t.Fatalf("orders = %d, want 1", store.OrderCount())
	}
}

func TestCreateOrderConsumesHold(t *testing.T) {
	coord, store := newCoordinator(t)
	store.SeedProduct(model.Product{ID: 1, Name: "limited", SKU: "L-01", Price: 10.00, Stock: 5})
	ctx := context.Background()

	held, err := coord.ReserveInventory(ctx, []order.ItemRequest{{ProductID: 1, Quantity: 4}}, "hold-1", time.Hour)
	if err != nil {
		t.Fatalf("ReserveInventory: %v", err)
	}
	if len(held) != 1 {
		t.Fatalf("reservations = %d, want 1", len(held))
	}

	// another till cannot take what the hold set aside
	_, err = coord.CreateOrder(ctx, order.CreateOrderRequest{
		CashierID:     8,
		Items:         []order.ItemRequest{{ProductID: 1, Quantity: 2, Price: 10.00}},
		Total:         20.00,
		PaymentMethod: "cash",
	})
	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("competing order err = %v, want InsufficientStockError", err)
	}

	// the holder converts the hold into a sale
	res, err := coord.CreateOrder(ctx, order.CreateOrderRequest{
		CashierID:     7,
		Items:         []order.ItemRequest{{ProductID: 1, Quantity: 4, Price: 10.00}},
		Total:         40.00,
		PaymentMethod: "card",
		HoldID:        "hold-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder with hold: %v", err)
	}

	rec, _ := store.ProductState(1)
	if rec.Stock != 1 || rec.ReservedStock != 0 {
		t.Fatalf("stock/reserved = %d/%d, want 1/0", rec.Stock, rec.ReservedStock)
	}
	if got := len(store.Reservations()); got != 0 {
		t.Fatalf("hold not consumed: %d reservation rows remain", got)
	}
	if _, ok := store.Order(res.OrderID); !ok {
		t.Fatal("order row missing")
	}
}

func TestReserveInventoryRollsBackPartialFailure(t *testing.T) {
	coord, store := newCoordinator(t)
	seedCatalog(store)

	_, err := coord.ReserveInventory(context.Background(), []order.ItemRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 9}, // only 5 in stock
	}, "hold-1", time.Hour)
	if err == nil {
		t.Fatal("partial reservation succeeded")
	}

	rec1, _ := store.ProductState(1)
	if rec1.ReservedStock != 0 {
		t.Fatalf("product 1 reserved = %d after rollback, want 0", rec1.ReservedStock)
	}
	if got := len(store.Reservations()); got != 0 {
		t.Fatalf("reservation rows = %d after rollback, want 0", got)
	}
}

func TestCancelOrderRestoresStockAndRefunds(t *testing.T) {
	coord, store := newCoordinator(t)
	seedCatalog(store)
	ctx := context.Background()

	res, err := coord.CreateOrder(ctx, order.CreateOrderRequest{
		CashierID:     7,
		Items:         []order.ItemRequest{{ProductID: 2, Quantity: 3, Price: 2.25}},
		Total:         6.75,
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := coord.CancelOrder(ctx, res.OrderID, 9); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	o, _ := store.Order(res.OrderID)
	if o.Status != model.OrderStatusCancelled {
		t.Fatalf("status = %q, want cancelled", o.Status)
	}
	pay, _ := store.Payment(res.OrderID)
	if pay.Status != model.PaymentStatusRefunded {
		t.Fatalf("payment status = %q, want refunded", pay.Status)
	}
	rec, _ := store.ProductState(2)
	if rec.Stock != 5 {
		t.Fatalf("stock = %d after cancel, want 5", rec.Stock)
	}

	var sawCancellation bool
	for _, a := range store.Transactions(2) {
		if a.ReferenceType == model.ReferenceCancellation && a.ReferenceID == res.OrderID {
			sawCancellation = true
		}
	}
	if !sawCancellation {
		t.Fatal("no cancellation audit row written")
	}

	// cancelling again is rejected, not repeated
	_, err = coord.CancelOrder(ctx, res.OrderID, 9)
	var ve *order.ValidationError
	if !errors.As(err, &ve) || ve.Code != order.CodeAlreadyCancelled {
		t.Fatalf("double cancel err = %v, want already_cancelled", err)
	}
	rec, _ = store.ProductState(2)
	if rec.Stock != 5 {
		t.Fatalf("double cancel changed stock to %d", rec.Stock)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	coord, _ := newCoordinator(t)
	_, err := coord.CancelOrder(context.Background(), "nope", 1)
	var notFound *order.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestGetOrderUnknown(t *testing.T) {
	coord, _ := newCoordinator(t)
	_, err := coord.GetOrder(context.Background(), "nope")
	var notFound *order.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}
