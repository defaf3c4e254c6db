package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrAlertAlreadySent is returned when an alert was claimed by someone else.
var ErrAlertAlreadySent = errors.New("alert already sent")

// Alert (outbox) operations

// AddSystemAlert writes a pending alert. data is stored as JSON.
func (d *Database) AddSystemAlert(alertType, message string, data any) (*SystemAlert, error) {
	payload := "{}"
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode alert data: %w", err)
		}
		payload = string(b)
	}

	alert := &SystemAlert{
		AlertType: alertType,
		Message:   message,
		Data:      payload,
		IsSent:    false,
		CreatedAt: time.Now(),
	}
	if err := d.db.Create(alert).Error; err != nil {
		return nil, err
	}
	return alert, nil
}

// GetPendingAlerts returns up to limit unsent alerts, oldest first. When types
// are given only those alert types are returned.
func (d *Database) GetPendingAlerts(limit int, types ...string) ([]SystemAlert, error) {
	var alerts []SystemAlert
	q := d.db.Where("is_sent = ?", false)
	if len(types) > 0 {
		q = q.Where("alert_type IN ?", types)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("created_at ASC").Order("id ASC").Find(&alerts).Error
	return alerts, err
}

// MarkAlertSent flips a pending alert to sent.
func (d *Database) MarkAlertSent(id uint) error {
	now := time.Now()
	res := d.db.Model(&SystemAlert{}).
		Where("id = ? AND is_sent = ?", id, false).
		Updates(map[string]any{"is_sent": true, "sent_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := d.db.Model(&SystemAlert{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
		return ErrAlertAlreadySent
	}
	return nil
}

// DeliverAlert claims alert id and calls send inside one transaction. The
// claim only succeeds while the row is unsent, and a send error rolls it back,
// so an alert is delivered at most once even with overlapping dispatchers.
func (d *Database) DeliverAlert(ctx context.Context, id uint, send func(SystemAlert) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&SystemAlert{}).
			Where("id = ? AND is_sent = ?", id, false).
			Updates(map[string]any{"is_sent": true, "sent_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlertAlreadySent
		}

		var alert SystemAlert
		if err := tx.First(&alert, id).Error; err != nil {
			return err
		}
		return send(alert)
	})
}

// RecentAlerts returns the newest alerts regardless of state.
func (d *Database) RecentAlerts(limit int) ([]SystemAlert, error) {
	var alerts []SystemAlert
	err := d.db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}

// LastAlertTime returns when the newest alert of alertType mentioning symbol
// was created, or the zero time.
func (d *Database) LastAlertTime(alertType, symbol string) (time.Time, error) {
	var alert SystemAlert
	err := d.db.Where("alert_type = ? AND data LIKE ?", alertType, `%"symbol":"`+symbol+`"%`).
		Order("created_at DESC").First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return alert.CreatedAt, nil
}

// PendingCount returns the number of unsent alerts.
func (d *Database) PendingCount() (int64, error) {
	var n int64
	err := d.db.Model(&SystemAlert{}).Where("is_sent = ?", false).Count(&n).Error
	return n, err
}
