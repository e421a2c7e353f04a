// Package memstore is an in-memory datastore.Store used by tests. It
// understands the fixed statement set the engines emit and honors the
// same batch semantics as the SQL-backed store: guarded statements abort
// the whole batch with datastore.ErrConflict and nothing is applied.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
	"github.com/namhbcf1/kho1-sub001/internal/model"
)

type productRow struct {
	ID            uint
	Name          string
	Price         float64
	Stock         int
	ReservedStock int
	Version       int64
	Deleted       bool
	UpdatedAt     time.Time
}

type state struct {
	products     map[uint]*productRow
	transactions []model.InventoryTransaction
	reservations []model.Reservation
	orders       map[string]*model.Order
	orderItems   []model.OrderItem
	payments     map[string]*model.Payment // keyed by order id
}

func newState() *state {
	return &state{
		products: make(map[uint]*productRow),
		orders:   make(map[string]*model.Order),
		payments: make(map[string]*model.Payment),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, p := range s.products {
		cp := *p
		c.products[id] = &cp
	}
	c.transactions = append(c.transactions, s.transactions...)
	c.reservations = append(c.reservations, s.reservations...)
	for id, o := range s.orders {
		co := *o
		c.orders[id] = &co
	}
	c.orderItems = append(c.orderItems, s.orderItems...)
	for id, p := range s.payments {
		cp := *p
		c.payments[id] = &cp
	}
	return c
}

// Store is the in-memory implementation of datastore.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

var _ datastore.Store = (*Store)(nil)

// SeedProduct loads a product row, bypassing the guarded write path.
func (s *Store) SeedProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = &productRow{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		Stock:         p.Stock,
		ReservedStock: p.ReservedStock,
		Version:       p.Version,
		UpdatedAt:     p.UpdatedAt,
	}
}

// Execute runs one statement on the live state.
func (s *Store) Execute(ctx context.Context, stmt datastore.Statement) (datastore.Result, error) {
	if err := ctx.Err(); err != nil {
		return datastore.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	affected, err := apply(s.st, stmt)
	if err != nil {
		return datastore.Result{}, err
	}
	if stmt.ExpectRows > 0 && affected != stmt.ExpectRows {
		return datastore.Result{}, fmt.Errorf("statement affected %d rows, expected %d: %w",
			affected, stmt.ExpectRows, datastore.ErrConflict)
	}
	return datastore.Result{RowsAffected: affected}, nil
}

// Batch applies all statements to a copy of the state and swaps the copy
// in only when every statement succeeds, so a failing guard leaves the
// store untouched.
func (s *Store) Batch(ctx context.Context, stmts []datastore.Statement) ([]datastore.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st.clone()
	results := make([]datastore.Result, 0, len(stmts))
	for i, stmt := range stmts {
		affected, err := apply(next, stmt)
		if err != nil {
			return nil, err
		}
		if stmt.ExpectRows > 0 && affected != stmt.ExpectRows {
			return nil, fmt.Errorf("statement %d affected %d rows, expected %d: %w",
				i, affected, stmt.ExpectRows, datastore.ErrConflict)
		}
		results = append(results, datastore.Result{RowsAffected: affected})
	}
	s.st = next
	return results, nil
}

// Query scans matching rows into dest, which must be a pointer to a
// slice of one of the engines' row types.
func (s *Store) Query(ctx context.Context, dest any, stmt datastore.Statement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch out := dest.(type) {
	case *[]model.StockRecord:
		p, ok := s.product(stmt)
		if ok {
			*out = append(*out, model.StockRecord{
				ProductID:     p.ID,
				Stock:         p.Stock,
				ReservedStock: p.ReservedStock,
				Version:       p.Version,
			})
		}
		return nil
	case *[]model.ProductSnapshot:
		p, ok := s.product(stmt)
		if ok {
			*out = append(*out, model.ProductSnapshot{
				ProductID:     p.ID,
				Name:          p.Name,
				Price:         p.Price,
				Stock:         p.Stock,
				ReservedStock: p.ReservedStock,
				Version:       p.Version,
			})
		}
		return nil
	case *[]model.Reservation:
		return s.queryReservations(out, stmt)
	case *[]model.Order:
		id := asString(stmt.Args[0])
		if o, ok := s.st.orders[id]; ok {
			*out = append(*out, *o)
		}
		return nil
	case *[]model.OrderItem:
		id := asString(stmt.Args[0])
		for _, it := range s.st.orderItems {
			if it.OrderID == id {
				*out = append(*out, it)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported query destination %T", dest)
	}
}

func (s *Store) product(stmt datastore.Statement) (*productRow, bool) {
	id := asUint(stmt.Args[0])
	p, ok := s.st.products[id]
	if !ok || p.Deleted {
		return nil, false
	}
	return p, true
}

func (s *Store) queryReservations(out *[]model.Reservation, stmt datastore.Statement) error {
	switch {
	case strings.Contains(stmt.SQL, "WHERE id = ?"):
		id := asString(stmt.Args[0])
		for _, r := range s.st.reservations {
			if r.ID == id {
				*out = append(*out, r)
			}
		}
	case strings.Contains(stmt.SQL, "WHERE order_id = ?"):
		id := asString(stmt.Args[0])
		for _, r := range s.st.reservations {
			if r.OrderID == id {
				*out = append(*out, r)
			}
		}
	case strings.Contains(stmt.SQL, "WHERE expires_at <= ?"):
		cutoff := asTime(stmt.Args[0])
		for _, r := range s.st.reservations {
			if !r.ExpiresAt.After(cutoff) {
				*out = append(*out, r)
			}
		}
	default:
		return fmt.Errorf("unsupported reservation query: %s", stmt.SQL)
	}
	return nil
}

// apply executes one write statement against st and returns the affected
// row count. Statements are recognized by their table and verb.
func apply(st *state, stmt datastore.Statement) (int64, error) {
	sql := stmt.SQL
	switch {
	case strings.HasPrefix(sql, "UPDATE products SET stock"):
		// args: newStock, newReserved, updatedAt, productID, version
		id := asUint(stmt.Args[3])
		version := asInt64(stmt.Args[4])
		p, ok := st.products[id]
		if !ok || p.Deleted || p.Version != version {
			return 0, nil
		}
		p.Stock = asInt(stmt.Args[0])
		p.ReservedStock = asInt(stmt.Args[1])
		p.UpdatedAt = asTime(stmt.Args[2])
		p.Version++
		return 1, nil

	case strings.HasPrefix(sql, "INSERT INTO inventory_transactions"):
		st.transactions = append(st.transactions, model.InventoryTransaction{
			ID:            asString(stmt.Args[0]),
			ProductID:     asUint(stmt.Args[1]),
			Quantity:      asInt(stmt.Args[2]),
			StockBefore:   asInt(stmt.Args[3]),
			StockAfter:    asInt(stmt.Args[4]),
			ReferenceType: asString(stmt.Args[5]),
			ReferenceID:   asString(stmt.Args[6]),
			Reason:        asString(stmt.Args[7]),
			ActorID:       asUint(stmt.Args[8]),
			CreatedAt:     asTime(stmt.Args[9]),
		})
		return 1, nil

	case strings.HasPrefix(sql, "INSERT INTO inventory_reservations"):
		st.reservations = append(st.reservations, model.Reservation{
			ID:        asString(stmt.Args[0]),
			ProductID: asUint(stmt.Args[1]),
			OrderID:   asString(stmt.Args[2]),
			Quantity:  asInt(stmt.Args[3]),
			ExpiresAt: asTime(stmt.Args[4]),
			CreatedAt: asTime(stmt.Args[5]),
		})
		return 1, nil

	case strings.HasPrefix(sql, "DELETE FROM inventory_reservations"):
		id := asString(stmt.Args[0])
		for i, r := range st.reservations {
			if r.ID == id {
				st.reservations = append(st.reservations[:i], st.reservations[i+1:]...)
				return 1, nil
			}
		}
		return 0, nil

	case strings.HasPrefix(sql, "INSERT INTO orders"):
		o := model.Order{
			ID:            asString(stmt.Args[0]),
			OrderNumber:   asString(stmt.Args[1]),
			CustomerID:    asUintPtr(stmt.Args[2]),
			CashierID:     asUint(stmt.Args[3]),
			Subtotal:      asFloat(stmt.Args[4]),
			Discount:      asFloat(stmt.Args[5]),
			Tax:           asFloat(stmt.Args[6]),
			Total:         asFloat(stmt.Args[7]),
			PaymentMethod: asString(stmt.Args[8]),
			Status:        asString(stmt.Args[9]),
			CreatedAt:     asTime(stmt.Args[10]),
			UpdatedAt:     asTime(stmt.Args[11]),
		}
		if _, exists := st.orders[o.ID]; exists {
			return 0, fmt.Errorf("duplicate order id %s", o.ID)
		}
		st.orders[o.ID] = &o
		return 1, nil

	case strings.HasPrefix(sql, "INSERT INTO order_items"):
		st.orderItems = append(st.orderItems, model.OrderItem{
			ID:          asString(stmt.Args[0]),
			OrderID:     asString(stmt.Args[1]),
			ProductID:   asUint(stmt.Args[2]),
			ProductName: asString(stmt.Args[3]),
			UnitPrice:   asFloat(stmt.Args[4]),
			Quantity:    asInt(stmt.Args[5]),
			LineTotal:   asFloat(stmt.Args[6]),
		})
		return 1, nil

	case strings.HasPrefix(sql, "INSERT INTO payments"):
		p := model.Payment{
			ID:        asString(stmt.Args[0]),
			OrderID:   asString(stmt.Args[1]),
			Method:    asString(stmt.Args[2]),
			Amount:    asFloat(stmt.Args[3]),
			Status:    asString(stmt.Args[4]),
			CreatedAt: asTime(stmt.Args[5]),
		}
		st.payments[p.OrderID] = &p
		return 1, nil

	case strings.HasPrefix(sql, "UPDATE orders SET status"):
		// args: status, updatedAt, orderID
		o, ok := st.orders[asString(stmt.Args[2])]
		if !ok {
			return 0, nil
		}
		o.Status = asString(stmt.Args[0])
		o.UpdatedAt = asTime(stmt.Args[1])
		return 1, nil

	case strings.HasPrefix(sql, "UPDATE payments SET status"):
		// args: status, orderID
		p, ok := st.payments[asString(stmt.Args[1])]
		if !ok {
			return 0, nil
		}
		p.Status = asString(stmt.Args[0])
		return 1, nil
	}
	return 0, fmt.Errorf("unsupported statement: %s", sql)
}

// inspection helpers for tests

// ProductState returns the current stock record for a product.
func (s *Store) ProductState(id uint) (model.StockRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok || p.Deleted {
		return model.StockRecord{}, false
	}
	return model.StockRecord{ProductID: p.ID, Stock: p.Stock, ReservedStock: p.ReservedStock, Version: p.Version}, true
}

// Transactions returns the audit rows for a product in insertion order.
// A zero product id returns every row.
func (s *Store) Transactions(productID uint) []model.InventoryTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.InventoryTransaction
	for _, t := range s.st.transactions {
		if productID == 0 || t.ProductID == productID {
			out = append(out, t)
		}
	}
	return out
}

// Reservations returns every live reservation sorted by creation time.
func (s *Store) Reservations() []model.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]model.Reservation(nil), s.st.reservations...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Order returns a stored order row.
func (s *Store) Order(id string) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

// Payment returns the payment row attached to an order.
func (s *Store) Payment(orderID string) (model.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.payments[orderID]
	if !ok {
		return model.Payment{}, false
	}
	return *p, true
}

// argument coercion; statement builders pass a few concrete types each

func asUint(v any) uint {
	switch n := v.(type) {
	case uint:
		return n
	case uint64:
		return uint(n)
	case int:
		return uint(n)
	case int64:
		return uint(n)
	default:
		panic(fmt.Sprintf("unexpected uint argument %T", v))
	}
}

func asUintPtr(v any) *uint {
	if v == nil {
		return nil
	}
	if p, ok := v.(*uint); ok {
		return p
	}
	u := asUint(v)
	return &u
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint:
		return int(n)
	default:
		panic(fmt.Sprintf("unexpected int argument %T", v))
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		panic(fmt.Sprintf("unexpected int64 argument %T", v))
	}
}

func asFloat(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	panic(fmt.Sprintf("unexpected float argument %T", v))
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	panic(fmt.Sprintf("unexpected string argument %T", v))
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	panic(fmt.Sprintf("unexpected time argument %T", v))
}
