package inventory

import "fmt"

// NotFoundError reports a mutation or read against a product that does
// not exist.
type NotFoundError struct {
	ProductID uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product not found: %d", e.ProductID)
}

// InsufficientStockError reports a requested quantity that exceeds the
// stock available for sale (stock minus active reservations).
type InsufficientStockError struct {
	ProductID uint
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ReservedStockError reports a set-stock target below the quantity
// currently held by reservations, which would break the
// stock >= reserved_stock invariant.
type ReservedStockError struct {
	ProductID uint
	Target    int
	Reserved  int
}

func (e *ReservedStockError) Error() string {
	return fmt.Sprintf("cannot set stock of product %d to %d: %d units are reserved",
		e.ProductID, e.Target, e.Reserved)
}
