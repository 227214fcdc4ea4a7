package registry

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MarketRecord is the persisted row behind a deployed market. Runtime engine
// instances are rebuilt from it on startup; the row is the durable identity.
type MarketRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Owner        string    `gorm:"size:64;uniqueIndex:idx_owner_base"`
	BaseAsset    string    `gorm:"size:32;uniqueIndex:idx_owner_base"`
	Name         string    `gorm:"size:64"`
	Symbol       string    `gorm:"size:16"`
	BaseDecimals uint8     `gorm:"not null"`
	CoreAddress  string    `gorm:"size:64;uniqueIndex"`
	VaultAddress string    `gorm:"size:64;uniqueIndex"`
	FeedAddress  string    `gorm:"size:64;uniqueIndex"`
	Active       bool      `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AutoMigrate performs the registry schema migration.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&MarketRecord{})
}
