// Package monitor polls CoinGlass, keeps rolling histories, runs the signal
// heuristics and writes qualifying signals to the alert outbox.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/metrics"
	"github.com/web3guy0/glasswatch/internal/signals"
)

// Store is the persistence the monitors need.
type Store interface {
	AddSystemAlert(alertType, message string, data any) (*database.SystemAlert, error)
	LastAlertTime(alertType, symbol string) (time.Time, error)
	MatchingSubscriptions(symbol, alertType string, usd decimal.Decimal) ([]database.UserSubscription, error)
	SaveWhaleTransaction(tx *database.WhaleTransaction) (bool, error)
	SaveLiquidationEvent(ev *database.LiquidationEvent) (bool, error)
	LatestLiquidationTime(symbol, exchange string) (time.Time, error)
}

// Notifier pushes a message to a single Telegram user.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, text string) error
}

// Options shared by every monitor.
type Options struct {
	MinConfidence float64
	Cooldown      time.Duration
	// Push to matching subscribers; otherwise they are only logged.
	NotifySubscribers bool
	Notifier          Notifier
}

// emitter gates signals on confidence and cooldown, then writes the outbox row.
type emitter struct {
	store Store
	opts  Options
	now   func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func newEmitter(store Store, opts Options) *emitter {
	return &emitter{
		store: store,
		opts:  opts,
		now:   time.Now,
		last:  make(map[string]time.Time),
	}
}

// emit persists sig when it clears the gates. It reports whether an alert was written.
func (e *emitter) emit(ctx context.Context, sig signals.Signal, usd decimal.Decimal) (bool, error) {
	metrics.SignalsDetected.WithLabelValues(string(sig.Type)).Inc()

	if sig.Confidence < e.opts.MinConfidence {
		log.Debug().
			Str("symbol", sig.Symbol).
			Str("signal", string(sig.Type)).
			Float64("confidence", sig.Confidence).
			Msg("Signal below confidence floor")
		return false, nil
	}

	alertType := sig.AlertType()
	if e.coolingDown(alertType, sig.Symbol) {
		log.Debug().Str("symbol", sig.Symbol).Str("alert_type", alertType).Msg("Signal debounced")
		return false, nil
	}

	msg := signals.Render(sig)
	alert, err := e.store.AddSystemAlert(alertType, msg, sig.Data())
	if err != nil {
		return false, err
	}
	e.mark(alertType, sig.Symbol)
	metrics.AlertsCreated.WithLabelValues(alertType).Inc()

	log.Info().
		Uint("alert_id", alert.ID).
		Str("symbol", sig.Symbol).
		Str("signal", string(sig.Type)).
		Float64("confidence", sig.Confidence).
		Msg("🚨 Alert queued")

	e.notify(ctx, sig.Symbol, alertType, msg, usd)
	return true, nil
}

func (e *emitter) coolingDown(alertType, symbol string) bool {
	if e.opts.Cooldown <= 0 {
		return false
	}
	key := alertType + "|" + symbol

	e.mu.Lock()
	last, seen := e.last[key]
	e.mu.Unlock()

	if !seen {
		// First look after a restart: trust the outbox.
		t, err := e.store.LastAlertTime(alertType, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Could not read last alert time")
		}
		last = t
		e.mu.Lock()
		e.last[key] = t
		e.mu.Unlock()
	}
	return !last.IsZero() && e.now().Sub(last) < e.opts.Cooldown
}

func (e *emitter) mark(alertType, symbol string) {
	e.mu.Lock()
	e.last[alertType+"|"+symbol] = e.now()
	e.mu.Unlock()
}

func (e *emitter) notify(ctx context.Context, symbol, alertType, msg string, usd decimal.Decimal) {
	subs, err := e.store.MatchingSubscriptions(symbol, alertType, usd)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Subscription lookup failed")
		return
	}
	for _, sub := range subs {
		if !e.opts.NotifySubscribers || e.opts.Notifier == nil {
			log.Info().Int64("user_id", sub.UserID).Str("symbol", symbol).Str("alert_type", alertType).Msg("Would notify subscriber")
			continue
		}
		if err := e.opts.Notifier.NotifyUser(ctx, sub.UserID, msg); err != nil {
			log.Warn().Err(err).Int64("user_id", sub.UserID).Msg("Subscriber notification failed")
		}
	}
}

func symbolSet(symbols []string) map[string]struct{} {
	if len(symbols) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}
