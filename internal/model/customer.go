package model

import (
	"time"

	"gorm.io/gorm"
)

// Customer represents a customer record for receipts and loyalty lookups
type Customer struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	Name      string         `json:"name" gorm:"type:varchar(255);not null"`
	Phone     string         `json:"phone" gorm:"type:varchar(32);index"`
	Email     string         `json:"email" gorm:"type:varchar(100)"`
	Address   string         `json:"address" gorm:"type:varchar(255)"`
	Notes     string         `json:"notes" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
