package model

import "time"

// Reservation is a time-bounded hold on stock for an order that has not
// been finalized yet. It is deleted when the owning order completes or
// cancels, or reclaimed by the expiry sweep once ExpiresAt has passed.
// The sum of active reservations for a product never exceeds that
// product's reserved_stock.
type Reservation struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primarykey"`
	ProductID uint      `json:"product_id" gorm:"index;not null"`
	OrderID   string    `json:"order_id" gorm:"type:varchar(64);index;not null"`
	Quantity  int       `json:"quantity" gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the table aligned with the persisted state layout.
func (Reservation) TableName() string {
	return "inventory_reservations"
}
