package models

import "time"

// WishlistRecord is one user's whole wishlist snapshot, stored the same way
// as CartRecord.
type WishlistRecord struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	Payload   []byte    `gorm:"column:payload;type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (WishlistRecord) TableName() string { return "wishlist_records" }
