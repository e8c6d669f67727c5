package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tradebot/internal/history"
)

// NewDatabase opens the sqlite database at the given path and migrates the
// trade history schema. The trade history must survive process restarts: it
// is both the audit log and the source for daily-loss recomputation.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	if err := db.AutoMigrate(&history.TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}
