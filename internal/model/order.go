package model

import "time"

// Order status values
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// Payment status values
const (
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

// Order is a sales order. It is created atomically with its items, the
// stock decrements and the payment record in one batch; later status
// transitions (cancel, refund) are separate compensating operations.
type Order struct {
	ID            string      `json:"id" gorm:"type:varchar(36);primarykey"`
	OrderNumber   string      `json:"order_number" gorm:"type:varchar(32);uniqueIndex;not null"`
	CustomerID    *uint       `json:"customer_id,omitempty" gorm:"index"`
	CashierID     uint        `json:"cashier_id" gorm:"index;not null"`
	Subtotal      float64     `json:"subtotal" gorm:"not null"`
	Discount      float64     `json:"discount" gorm:"not null;default:0"`
	Tax           float64     `json:"tax" gorm:"not null;default:0"`
	Total         float64     `json:"total" gorm:"not null"`
	PaymentMethod string      `json:"payment_method" gorm:"type:varchar(32);not null"`
	Status        string      `json:"status" gorm:"type:varchar(16);index;not null"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Items         []OrderItem `json:"items,omitempty" gorm:"-"`
}

// OrderItem is one sold line. Name and unit price are snapshots taken at
// sale time so later product edits do not rewrite history.
type OrderItem struct {
	ID          string  `json:"id" gorm:"type:varchar(36);primarykey"`
	OrderID     string  `json:"order_id" gorm:"type:varchar(36);index;not null"`
	ProductID   uint    `json:"product_id" gorm:"index;not null"`
	ProductName string  `json:"product_name" gorm:"type:varchar(255);not null"`
	UnitPrice   float64 `json:"unit_price" gorm:"not null"`
	Quantity    int     `json:"quantity" gorm:"not null"`
	LineTotal   float64 `json:"line_total" gorm:"not null"`
}

// Payment is the single payment record attached to an order.
type Payment struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primarykey"`
	OrderID   string    `json:"order_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	Method    string    `json:"method" gorm:"type:varchar(32);not null"`
	Amount    float64   `json:"amount" gorm:"not null"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null"`
	CreatedAt time.Time `json:"created_at"`
}
