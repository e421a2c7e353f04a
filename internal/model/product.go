package model

import (
	"time"

	"gorm.io/gorm"
)

// Product represents the product master data together with its stock record.
// Stock and ReservedStock are never written directly: every mutation goes
// through the inventory ledger's version-guarded update so that concurrent
// writers cannot lose updates. Version increments by exactly one on every
// successful stock mutation.
type Product struct {
	ID            uint           `json:"id" gorm:"primarykey"`
	Name          string         `json:"name" gorm:"type:varchar(255);not null"`
	Description   string         `json:"description" gorm:"type:text"`
	SKU           string         `json:"sku" gorm:"type:varchar(100);unique;not null"`
	Price         float64        `json:"price" gorm:"not null"`
	Stock         int            `json:"stock" gorm:"not null;default:0"`
	ReservedStock int            `json:"reserved_stock" gorm:"not null;default:0"`
	Version       int64          `json:"version" gorm:"not null;default:0"` // optimistic locking
	CategoryID    uint           `json:"category_id"`
	IsActive      bool           `json:"is_active" gorm:"default:true"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Available returns the stock that can still be sold or reserved.
func (p *Product) Available() int {
	return p.Stock - p.ReservedStock
}

// StockRecord is the slice of a product row read under the optimistic
// concurrency protocol: the current quantities plus the version guard.
type StockRecord struct {
	ProductID     uint
	Stock         int
	ReservedStock int
	Version       int64
}

// Available returns the stock not held by reservations.
func (r *StockRecord) Available() int {
	return r.Stock - r.ReservedStock
}

// ProductSnapshot is the pre-flight read the order coordinator takes per
// line item: the sellable identity (name, price) plus the stock record.
type ProductSnapshot struct {
	ProductID     uint
	Name          string
	Price         float64
	Stock         int
	ReservedStock int
	Version       int64
}

// Available returns the stock not held by reservations.
func (s *ProductSnapshot) Available() int {
	return s.Stock - s.ReservedStock
}

// StockRecord returns the concurrency-relevant slice of the snapshot.
func (s *ProductSnapshot) StockRecord() *StockRecord {
	return &StockRecord{
		ProductID:     s.ProductID,
		Stock:         s.Stock,
		ReservedStock: s.ReservedStock,
		Version:       s.Version,
	}
}

// Reference types recorded on inventory transactions
const (
	ReferenceOrder              = "order"
	ReferenceAdjustment         = "adjustment"
	ReferenceReservationRelease = "reservation-release"
	ReferenceCancellation       = "cancellation"
)

// InventoryTransaction is one append-only audit entry per stock mutation.
// Rows are never updated or deleted; replaying the deltas for a product
// reconstructs its current stock value.
type InventoryTransaction struct {
	ID            string    `json:"id" gorm:"type:varchar(36);primarykey"`
	ProductID     uint      `json:"product_id" gorm:"index;not null"`
	Quantity      int       `json:"quantity" gorm:"not null"` // signed delta
	StockBefore   int       `json:"stock_before" gorm:"not null"`
	StockAfter    int       `json:"stock_after" gorm:"not null"`
	ReferenceType string    `json:"reference_type" gorm:"type:varchar(32);not null"`
	ReferenceID   string    `json:"reference_id" gorm:"type:varchar(64);index"`
	Reason        string    `json:"reason" gorm:"type:varchar(255)"`
	ActorID       uint      `json:"actor_id"`
	CreatedAt     time.Time `json:"created_at"`
}
