// Package cleanup enforces retention on the outbox and observation tables.
package cleanup

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the retention surface of the database.
type Store interface {
	CleanupSentAlerts(cutoff time.Time) (int64, error)
	PruneObservations(cutoff time.Time) (int64, error)
}

// Cleaner deletes sent alerts and observations older than the retention.
// Pending alerts are never touched.
type Cleaner struct {
	store     Store
	retention time.Duration
	now       func() time.Time
}

func New(store Store, retention time.Duration) *Cleaner {
	return &Cleaner{store: store, retention: retention, now: time.Now}
}

// Run performs one retention pass.
func (c *Cleaner) Run(ctx context.Context) error {
	if c.retention <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cutoff := c.now().Add(-c.retention)

	alerts, alertErr := c.store.CleanupSentAlerts(cutoff)
	observations, obsErr := c.store.PruneObservations(cutoff)
	if err := errors.Join(alertErr, obsErr); err != nil {
		return err
	}

	if alerts > 0 || observations > 0 {
		log.Info().
			Int64("alerts", alerts).
			Int64("observations", observations).
			Time("cutoff", cutoff).
			Msg("🧹 Retention cleanup")
	}
	return nil
}
