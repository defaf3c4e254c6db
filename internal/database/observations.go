package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Observation operations

// SaveWhaleTransaction inserts tx unless its hash was already recorded.
// It reports whether the row is new.
func (d *Database) SaveWhaleTransaction(tx *WhaleTransaction) (bool, error) {
	res := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SaveLiquidationEvent records one liquidation unless the same order was
// already stored. It reports whether the row is new.
func (d *Database) SaveLiquidationEvent(ev *LiquidationEvent) (bool, error) {
	res := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// LatestLiquidationTime returns the newest stored liquidation for symbol on
// exchange, or the zero time.
func (d *Database) LatestLiquidationTime(symbol, exchange string) (time.Time, error) {
	var ev LiquidationEvent
	err := d.db.Where("symbol = ? AND exchange = ?", symbol, exchange).Order("timestamp DESC").First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return ev.Timestamp, nil
}

// RecentWhaleTransactions returns the newest whale rows for symbol.
func (d *Database) RecentWhaleTransactions(symbol string, limit int) ([]WhaleTransaction, error) {
	var txs []WhaleTransaction
	err := d.db.Where("symbol = ?", symbol).Order("timestamp DESC").Limit(limit).Find(&txs).Error
	return txs, err
}
