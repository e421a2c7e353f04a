// Package order implements the order transaction coordinator: the single
// "place an order" use case with all-or-nothing semantics across the
// order row, its line items, the stock decrements and the payment record.
package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/inventory"
	"github.com/namhbcf1/kho1-sub001/internal/model"
)

// Config tunes the coordinator's retry loop and validation tolerance.
type Config struct {
	// MaxRetries bounds the number of attempts on version conflicts.
	MaxRetries int
	// RetryBackoff is the base delay between attempts (jittered, doubled).
	RetryBackoff time.Duration
	// TotalTolerance is the accepted rounding difference on money figures.
	TotalTolerance float64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 25 * time.Millisecond
	}
	if c.TotalTolerance <= 0 {
		c.TotalTolerance = 0.01
	}
	return c
}

// ItemRequest is one line of an order as submitted by the till.
type ItemRequest struct {
	ProductID uint    `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// CreateOrderRequest is the payload for placing an order.
type CreateOrderRequest struct {
	CustomerID    *uint         `json:"customer_id,omitempty"`
	CashierID     uint          `json:"-"`
	Items         []ItemRequest `json:"items"`
	Discount      float64       `json:"discount"`
	Tax           float64       `json:"tax"`
	Total         float64       `json:"total"`
	PaymentMethod string        `json:"payment_method"`
	// HoldID names the order id the till reserved stock under during a
	// multi-step checkout. Its reservations count as available to this
	// order and are consumed in the same batch that commits the sale.
	HoldID string `json:"hold_id,omitempty"`
}

// CreateOrderResult reports a committed order.
type CreateOrderResult struct {
	OrderID     string  `json:"order_id"`
	OrderNumber string  `json:"order_number"`
	Total       float64 `json:"total"`
	ItemCount   int     `json:"item_count"`
	// Attempts is how many passes the version-conflict loop took.
	Attempts int `json:"-"`
}

// CancelOrderResult reports a cancelled order.
type CancelOrderResult struct {
	OrderID string `json:"order_id"`
}

// Coordinator validates an order payload, re-verifies live stock and
// pricing, and commits the order, items, stock decrements and payment as
// one guarded batch, retrying the whole attempt on version conflicts.
type Coordinator struct {
	store        datastore.Store
	ledger       *inventory.Ledger
	reservations *inventory.Manager
	log          *zap.Logger
	cfg          Config
	seq          *orderNumberSeq
}

// NewCoordinator wires the coordinator over the shared datastore.
func NewCoordinator(store datastore.Store, ledger *inventory.Ledger, reservations *inventory.Manager, log *zap.Logger, cfg Config) *Coordinator {
	return &Coordinator{
		store:        store,
		ledger:       ledger,
		reservations: reservations,
		log:          log,
		cfg:          cfg.withDefaults(),
		seq:          newOrderNumberSeq(),
	}
}

// CreateOrder places an order. On any failure the system is left exactly
// as it was: the batch either commits every row or none.
func (c *Coordinator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	subtotal, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	orderID := uuid.New().String()
	orderNumber := c.seq.next(now)

	result := &CreateOrderResult{
		OrderID:     orderID,
		OrderNumber: orderNumber,
		Total:       req.Total,
		ItemCount:   len(req.Items),
	}

	err = inventory.RetryOnConflict(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) error {
		result.Attempts++
		return c.attempt(ctx, req, orderID, orderNumber, subtotal)
	})
	if err != nil {
		if errors.Is(err, datastore.ErrConflict) {
			c.log.Warn("order creation lost the version race on every attempt",
				zap.String("order_id", orderID),
				zap.Int("attempts", result.Attempts))
			return nil, fmt.Errorf("order creation failed after %d attempts: %w", result.Attempts, err)
		}
		return nil, err
	}

	c.log.Info("order committed",
		zap.String("order_id", orderID),
		zap.String("order_number", orderNumber),
		zap.Float64("total", req.Total),
		zap.Int("items", len(req.Items)),
		zap.Int("attempts", result.Attempts))
	return result, nil
}

// attempt is one pass of the create loop: fresh reads, pre-flight
// checks, then the single atomic batch. A version conflict aborts the
// batch and the caller retries from the top.
func (c *Coordinator) attempt(ctx context.Context, req CreateOrderRequest, orderID, orderNumber string, subtotal float64) error {
	now := time.Now()

	// Quantities are verified per product, not per line, so an order
	// listing the same product twice issues a single guarded update.
	productOrder, wanted := groupQuantities(req.Items)

	held, holdRows, err := c.holdCredits(ctx, req.HoldID, wanted)
	if err != nil {
		return err
	}

	snapshots := make(map[uint]*model.ProductSnapshot, len(wanted))
	for _, productID := range productOrder {
		snap, err := readProduct(ctx, c.store, productID)
		if err != nil {
			return &TransactionError{Op: "stock verification", Err: err}
		}
		if snap == nil {
			return &inventory.NotFoundError{ProductID: productID}
		}
		available := snap.Available() + held[productID]
		if wanted[productID] > available {
			return &inventory.InsufficientStockError{
				ProductID: productID,
				Requested: wanted[productID],
				Available: available,
			}
		}
		snapshots[productID] = snap
	}

	// Pricing re-verification: the till's unit price must match the
	// catalog at sale time.
	for _, item := range req.Items {
		catalog := snapshots[item.ProductID].Price
		if math.Abs(item.Price-catalog) > c.cfg.TotalTolerance {
			return &ValidationError{
				Code: CodePriceMismatch,
				Message: fmt.Sprintf("product %d priced %.2f, catalog says %.2f",
					item.ProductID, item.Price, catalog),
			}
		}
	}

	stmts := make([]datastore.Statement, 0, 3+2*len(req.Items)+len(holdRows))

	stmts = append(stmts, orderInsert(&model.Order{
		ID:            orderID,
		OrderNumber:   orderNumber,
		CustomerID:    req.CustomerID,
		CashierID:     req.CashierID,
		Subtotal:      subtotal,
		Discount:      req.Discount,
		Tax:           req.Tax,
		Total:         req.Total,
		PaymentMethod: req.PaymentMethod,
		Status:        model.OrderStatusCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	for _, item := range req.Items {
		stmts = append(stmts, orderItemInsert(&model.OrderItem{
			ID:          uuid.New().String(),
			OrderID:     orderID,
			ProductID:   item.ProductID,
			ProductName: snapshots[item.ProductID].Name,
			UnitPrice:   item.Price,
			Quantity:    item.Quantity,
			LineTotal:   float64(item.Quantity) * item.Price,
		}))
	}

	for _, productID := range productOrder {
		snap := snapshots[productID]
		qty := wanted[productID]
		newStock := snap.Stock - qty
		newReserved := snap.ReservedStock - held[productID]
		stmts = append(stmts, inventory.StockWrite(snap.StockRecord(), newStock, newReserved, now))
		stmts = append(stmts, inventory.AuditInsert(&model.InventoryTransaction{
			ID:            uuid.New().String(),
			ProductID:     productID,
			Quantity:      -qty,
			StockBefore:   snap.Stock,
			StockAfter:    newStock,
			ReferenceType: model.ReferenceOrder,
			ReferenceID:   orderID,
			Reason:        "sale",
			ActorID:       req.CashierID,
			CreatedAt:     now,
		}))
	}

	for _, res := range holdRows {
		stmts = append(stmts, inventory.ReservationDelete(res.ID))
	}

	stmts = append(stmts, paymentInsert(&model.Payment{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Method:    req.PaymentMethod,
		Amount:    req.Total,
		Status:    model.PaymentStatusPaid,
		CreatedAt: now,
	}))

	if _, err := c.store.Batch(ctx, stmts); err != nil {
		if errors.Is(err, datastore.ErrConflict) {
			return err
		}
		return &TransactionError{Op: "order commit", Err: err}
	}
	return nil
}

// validate recomputes the money figures and rejects inconsistent input
// before anything touches the datastore.
func (c *Coordinator) validate(req CreateOrderRequest) (float64, error) {
	if len(req.Items) == 0 {
		return 0, &ValidationError{Code: CodeEmptyOrder, Message: "order has no items"}
	}
	if req.Discount < 0 || req.Tax < 0 || req.Total < 0 {
		return 0, &ValidationError{Code: CodeInvalidItem, Message: "discount, tax and total must not be negative"}
	}
	if req.PaymentMethod == "" {
		return 0, &ValidationError{Code: CodeInvalidItem, Message: "payment method is required"}
	}

	subtotal := 0.0
	for i, item := range req.Items {
		if item.ProductID == 0 {
			return 0, &ValidationError{Code: CodeInvalidItem, Message: fmt.Sprintf("item %d has no product id", i)}
		}
		if item.Quantity <= 0 {
			return 0, &ValidationError{Code: CodeInvalidItem, Message: fmt.Sprintf("item %d has non-positive quantity %d", i, item.Quantity)}
		}
		if item.Price < 0 {
			return 0, &ValidationError{Code: CodeInvalidItem, Message: fmt.Sprintf("item %d has negative price %.2f", i, item.Price)}
		}
		subtotal += float64(item.Quantity) * item.Price
	}

	expected := subtotal - req.Discount + req.Tax
	if math.Abs(expected-req.Total) > c.cfg.TotalTolerance {
		return 0, &ValidationError{
			Code:    CodeCalculationMismatch,
			Message: fmt.Sprintf("submitted total %.2f, computed %.2f", req.Total, expected),
		}
	}
	return subtotal, nil
}

// groupQuantities merges line items into per-product totals, preserving
// first-appearance order for deterministic batch layout.
func groupQuantities(items []ItemRequest) ([]uint, map[uint]int) {
	order := make([]uint, 0, len(items))
	wanted := make(map[uint]int, len(items))
	for _, item := range items {
		if _, seen := wanted[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		wanted[item.ProductID] += item.Quantity
	}
	return order, wanted
}

// holdCredits loads the reservations the request's hold carries for the
// ordered products. Those units are already set aside for this checkout,
// so they count as available and their rows are consumed by the commit.
func (c *Coordinator) holdCredits(ctx context.Context, holdID string, wanted map[uint]int) (map[uint]int, []model.Reservation, error) {
	held := make(map[uint]int)
	if holdID == "" {
		return held, nil, nil
	}
	reservations, err := inventory.ReservationsForOrder(ctx, c.store, holdID)
	if err != nil {
		return nil, nil, &TransactionError{Op: "hold lookup", Err: err}
	}
	now := time.Now()
	consumed := make([]model.Reservation, 0, len(reservations))
	for _, res := range reservations {
		if _, ordered := wanted[res.ProductID]; !ordered {
			continue
		}
		if res.ExpiresAt.Before(now) {
			// expired holds are the sweeper's business
			continue
		}
		held[res.ProductID] += res.Quantity
		consumed = append(consumed, res)
	}
	return held, consumed, nil
}

// CancelOrder reverses a completed order: each line's stock is re-added
// through the ledger (a compensating action, not a rollback), lingering
// reservations are released, and the order and payment are marked
// cancelled/refunded.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string, actorID uint) (*CancelOrderResult, error) {
	o, err := readOrder(ctx, c.store, orderID)
	if err != nil {
		return nil, &TransactionError{Op: "order lookup", Err: err}
	}
	if o == nil {
		return nil, &NotFoundError{OrderID: orderID}
	}
	if o.Status == model.OrderStatusCancelled {
		return nil, &ValidationError{Code: CodeAlreadyCancelled, Message: fmt.Sprintf("order %s is already cancelled", orderID)}
	}

	wasCompleted := o.Status == model.OrderStatusCompleted
	if wasCompleted {
		items, err := readOrderItems(ctx, c.store, orderID)
		if err != nil {
			return nil, &TransactionError{Op: "item lookup", Err: err}
		}
		for _, productID := range groupedItemOrder(items) {
			qty := groupedItemQuantity(items, productID)
			err := inventory.RetryOnConflict(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) error {
				_, err := c.ledger.MutateStock(ctx, inventory.MutationRequest{
					ProductID:     productID,
					Mode:          inventory.ModeAdd,
					Quantity:      qty,
					Reason:        "order cancelled",
					ActorID:       actorID,
					ReferenceType: model.ReferenceCancellation,
					ReferenceID:   orderID,
				})
				return err
			})
			if err != nil {
				return nil, fmt.Errorf("reverse stock for product %d: %w", productID, err)
			}
		}
	}

	if _, err := c.reservations.Release(ctx, orderID); err != nil {
		return nil, fmt.Errorf("release reservations for order %s: %w", orderID, err)
	}

	now := time.Now()
	stmts := []datastore.Statement{orderStatusUpdate(orderID, model.OrderStatusCancelled, now)}
	if wasCompleted {
		stmts = append(stmts, paymentStatusUpdate(orderID, model.PaymentStatusRefunded))
	}
	if _, err := c.store.Batch(ctx, stmts); err != nil {
		return nil, &TransactionError{Op: "cancel commit", Err: err}
	}

	c.log.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.Uint("actor_id", actorID),
		zap.Bool("stock_reversed", wasCompleted))
	return &CancelOrderResult{OrderID: orderID}, nil
}

// ReserveInventory places one reservation per line under the given order
// id. On any failure every reservation already made for that order is
// released before the error is returned.
func (c *Coordinator) ReserveInventory(ctx context.Context, items []ItemRequest, orderID string, ttl time.Duration) ([]model.Reservation, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Code: CodeEmptyOrder, Message: "nothing to reserve"}
	}
	made := make([]model.Reservation, 0, len(items))
	for _, item := range items {
		res, err := c.reservations.Reserve(ctx, item.ProductID, item.Quantity, orderID, ttl)
		if err != nil {
			if _, relErr := c.reservations.Release(ctx, orderID); relErr != nil {
				c.log.Error("failed to roll back partial reservations",
					zap.String("order_id", orderID),
					zap.Error(relErr))
			}
			return nil, err
		}
		made = append(made, *res)
	}
	return made, nil
}

// ReleaseReservation drops every reservation held by an order.
func (c *Coordinator) ReleaseReservation(ctx context.Context, orderID string) (int, error) {
	return c.reservations.Release(ctx, orderID)
}

// SweepExpiredReservations reclaims expired reservations and returns the
// count. Invoked by the background sweeper.
func (c *Coordinator) SweepExpiredReservations(ctx context.Context) (int, error) {
	return c.reservations.SweepExpired(ctx)
}

// GetOrder returns an order with its line items.
func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := readOrder(ctx, c.store, orderID)
	if err != nil {
		return nil, &TransactionError{Op: "order lookup", Err: err}
	}
	if o == nil {
		return nil, &NotFoundError{OrderID: orderID}
	}
	items, err := readOrderItems(ctx, c.store, orderID)
	if err != nil {
		return nil, &TransactionError{Op: "item lookup", Err: err}
	}
	o.Items = items
	return o, nil
}

func groupedItemOrder(items []model.OrderItem) []uint {
	order := make([]uint, 0, len(items))
	seen := make(map[uint]bool, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			order = append(order, it.ProductID)
		}
	}
	return order
}

func groupedItemQuantity(items []model.OrderItem, productID uint) int {
	total := 0
	for _, it := range items {
		if it.ProductID == productID {
			total += it.Quantity
		}
	}
	return total
}
