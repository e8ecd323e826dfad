package snapshotdb

import "time"

// SnapshotRecord holds one durable snapshot document under a key.
type SnapshotRecord struct {
	Key       string    `gorm:"type:varchar(191);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null;index:idx_snapshot_updated_at"`
}

// TableName overrides the default table name for GORM.
func (SnapshotRecord) TableName() string {
	return "price_snapshot"
}
