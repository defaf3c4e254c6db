package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error
	isPostgres := strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://")

	if isPostgres {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		// SQLite fallback
		if dbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(sqliteDSN(dbPath)), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		// One connection serialises writers, so the claim-and-send
		// transaction of the dispatcher never races a monitor insert.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	// Auto migrate all models
	if err := db.AutoMigrate(&UserSubscription{}, &WhaleTransaction{}, &LiquidationEvent{}, &SystemAlert{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Database{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000"
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Stats operations

// Stats summarises table sizes for /status and /info.
type Stats struct {
	PendingAlerts       int64
	SentAlerts          int64
	ActiveSubscriptions int64
	WhaleTransactions   int64
	LiquidationEvents   int64
}

func (d *Database) GetStats() (Stats, error) {
	var s Stats
	if err := d.db.Model(&SystemAlert{}).Where("is_sent = ?", false).Count(&s.PendingAlerts).Error; err != nil {
		return s, err
	}
	if err := d.db.Model(&SystemAlert{}).Where("is_sent = ?", true).Count(&s.SentAlerts).Error; err != nil {
		return s, err
	}
	if err := d.db.Model(&UserSubscription{}).Where("is_active = ?", true).Count(&s.ActiveSubscriptions).Error; err != nil {
		return s, err
	}
	if err := d.db.Model(&WhaleTransaction{}).Count(&s.WhaleTransactions).Error; err != nil {
		return s, err
	}
	if err := d.db.Model(&LiquidationEvent{}).Count(&s.LiquidationEvents).Error; err != nil {
		return s, err
	}
	return s, nil
}

// Retention operations

// CleanupSentAlerts deletes sent alerts created before cutoff.
func (d *Database) CleanupSentAlerts(cutoff time.Time) (int64, error) {
	res := d.db.Where("is_sent = ? AND created_at < ?", true, cutoff).Delete(&SystemAlert{})
	return res.RowsAffected, res.Error
}

// PruneObservations deletes whale and liquidation rows older than cutoff.
func (d *Database) PruneObservations(cutoff time.Time) (int64, error) {
	whales := d.db.Where("timestamp < ?", cutoff).Delete(&WhaleTransaction{})
	if whales.Error != nil {
		return 0, whales.Error
	}
	liqs := d.db.Where("timestamp < ?", cutoff).Delete(&LiquidationEvent{})
	if liqs.Error != nil {
		return whales.RowsAffected, liqs.Error
	}
	return whales.RowsAffected + liqs.RowsAffected, nil
}
