package order

import "fmt"

// Validation error codes
const (
	CodeEmptyOrder          = "empty_order"
	CodeInvalidItem         = "invalid_item"
	CodePriceMismatch       = "price_mismatch"
	CodeCalculationMismatch = "calculation_mismatch"
	CodeAlreadyCancelled    = "already_cancelled"
)

// ValidationError reports malformed or inconsistent order input. It is
// never retried; the caller must fix the request.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order validation failed (%s): %s", e.Code, e.Message)
}

// NotFoundError reports an order id that does not exist.
type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order not found: %s", e.OrderID)
}

// TransactionError reports a datastore failure other than a version
// conflict. The batch is all-or-nothing, so nothing was written; the
// failure is surfaced as-is without retrying.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("order transaction failed during %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
