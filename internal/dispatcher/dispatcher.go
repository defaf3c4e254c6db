// Package dispatcher drains the alert outbox into the Telegram channel.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/metrics"
	"github.com/web3guy0/glasswatch/internal/signals"
)

// BroadcastPolicy decides which alert types reach the channel.
type BroadcastPolicy struct {
	// BroadcastAll sends every alert type.
	BroadcastAll bool
	// WhaleOverride sends whale alerts even when BroadcastAll is off.
	WhaleOverride bool
}

// AllowedTypes returns the alert types to dispatch. A nil slice with ok=true
// means every type; ok=false means nothing is dispatched.
func (p BroadcastPolicy) AllowedTypes() (types []string, ok bool) {
	switch {
	case p.BroadcastAll:
		return nil, true
	case p.WhaleOverride:
		return []string{signals.AlertWhale}, true
	default:
		return nil, false
	}
}

// Allows reports whether alertType may be broadcast.
func (p BroadcastPolicy) Allows(alertType string) bool {
	types, ok := p.AllowedTypes()
	if !ok {
		return false
	}
	if types == nil {
		return true
	}
	for _, t := range types {
		if t == alertType {
			return true
		}
	}
	return false
}

// Outbox is the alert store the dispatcher drains.
type Outbox interface {
	GetPendingAlerts(limit int, types ...string) ([]database.SystemAlert, error)
	DeliverAlert(ctx context.Context, id uint, send func(database.SystemAlert) error) error
}

// Sender delivers a rendered alert to the broadcast channel.
type Sender interface {
	SendToChannel(ctx context.Context, text string) error
}

// Publisher receives every alert after it was delivered.
type Publisher interface {
	Publish(alert database.SystemAlert)
}

// Dispatcher moves pending alerts to the channel, at most once each.
type Dispatcher struct {
	outbox    Outbox
	sender    Sender
	publisher Publisher
	policy    BroadcastPolicy
	batchSize int
	breaker   *Breaker
}

// New creates a dispatcher. publisher may be nil.
func New(outbox Outbox, sender Sender, publisher Publisher, policy BroadcastPolicy, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Dispatcher{
		outbox:    outbox,
		sender:    sender,
		publisher: publisher,
		policy:    policy,
		batchSize: batchSize,
		breaker:   NewBreaker(DefaultMaxFailures, DefaultBreakerCooldown),
	}
}

// Delivery breaker defaults.
const (
	DefaultMaxFailures     = 3
	DefaultBreakerCooldown = 2 * time.Minute
)

// WithBreaker replaces the delivery breaker; nil disables it.
func (d *Dispatcher) WithBreaker(b *Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// Result summarises one dispatch pass.
type Result struct {
	Sent    int
	Failed  int
	Skipped int
}

// Dispatch sends one batch of pending alerts. Send failures are logged and
// leave the alert pending for the next pass; only a failed read is returned.
func (d *Dispatcher) Dispatch(ctx context.Context) (Result, error) {
	var res Result

	types, ok := d.policy.AllowedTypes()
	if !ok {
		log.Debug().Msg("Broadcast disabled, outbox left untouched")
		return res, nil
	}
	if !d.breaker.Allow() {
		log.Debug().Msg("Delivery breaker open, skipping pass")
		return res, nil
	}

	pending, err := d.outbox.GetPendingAlerts(d.batchSize, types...)
	if err != nil {
		return res, err
	}

	for _, alert := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if d.breaker.IsTripped() {
			break
		}

		var delivered database.SystemAlert
		err := d.outbox.DeliverAlert(ctx, alert.ID, func(a database.SystemAlert) error {
			delivered = a
			return d.sender.SendToChannel(ctx, a.Message)
		})
		switch {
		case err == nil:
			res.Sent++
			d.breaker.RecordSuccess()
			metrics.AlertsDispatched.WithLabelValues(alert.AlertType, "sent").Inc()
			log.Info().Uint("alert_id", alert.ID).Str("alert_type", alert.AlertType).Msg("📣 Alert broadcast")
			if d.publisher != nil {
				d.publisher.Publish(delivered)
			}
		case errors.Is(err, database.ErrAlertAlreadySent):
			res.Skipped++
			metrics.AlertsDispatched.WithLabelValues(alert.AlertType, "skipped").Inc()
		default:
			res.Failed++
			d.breaker.RecordFailure()
			metrics.AlertsDispatched.WithLabelValues(alert.AlertType, "failed").Inc()
			log.Error().Err(err).Uint("alert_id", alert.ID).Str("alert_type", alert.AlertType).Msg("Alert delivery failed")
		}
	}

	if res.Sent+res.Failed > 0 {
		log.Debug().Int("sent", res.Sent).Int("failed", res.Failed).Msg("Dispatch pass complete")
	}
	return res, nil
}

// Run adapts Dispatch to a scheduler task.
func (d *Dispatcher) Run(ctx context.Context) error {
	_, err := d.Dispatch(ctx)
	return err
}
