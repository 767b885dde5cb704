package models

import "time"

// CartRecord is one user's whole cart snapshot. The payload column carries
// the serialized record verbatim; writes always replace the full row.
type CartRecord struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	Payload   []byte    `gorm:"column:payload;type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName pins the table name used by migrations and triggers.
func (CartRecord) TableName() string { return "cart_records" }
