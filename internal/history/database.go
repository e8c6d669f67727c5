package history

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateTrade(record *TradeRecord) error {
	return d.db.Create(record).Error
}

// LatestOpenBySymbol returns the most recently opened OPEN trade for a
// symbol, or nil when none exists.
func (d *Database) LatestOpenBySymbol(symbol string) (*TradeRecord, error) {
	var record TradeRecord
	err := d.db.
		Where("symbol = ? AND status = ?", symbol, StatusOpen).
		Order("opened_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) UpdateTrade(record *TradeRecord) error {
	return d.db.Save(record).Error
}

func (d *Database) ListByStatus(status string) ([]TradeRecord, error) {
	var records []TradeRecord
	err := d.db.Where("status = ?", status).Order("opened_at ASC").Find(&records).Error
	return records, err
}

func (d *Database) ListAll() ([]TradeRecord, error) {
	var records []TradeRecord
	err := d.db.Order("opened_at ASC").Find(&records).Error
	return records, err
}

func (d *Database) ListOpenedSince(since time.Time) ([]TradeRecord, error) {
	var records []TradeRecord
	err := d.db.Where("opened_at >= ?", since).Order("opened_at ASC").Find(&records).Error
	return records, err
}

// SumRealizedSince totals realized P&L over trades closed at or after the
// given boundary.
func (d *Database) SumRealizedSince(since time.Time) (float64, error) {
	var total *float64
	err := d.db.Model(&TradeRecord{}).
		Where("status = ? AND closed_at >= ?", StatusClosed, since).
		Select("SUM(realized_pl)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
