package database

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Subscription operations

// Subscribe creates or reactivates the subscription for (userID, symbol).
func (d *Database) Subscribe(userID int64, symbol string, alertTypes []string, threshold *decimal.Decimal) (*UserSubscription, error) {
	symbol = strings.ToUpper(symbol)

	var sub UserSubscription
	err := d.db.Where("user_id = ? AND symbol = ?", userID, symbol).First(&sub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = UserSubscription{
			UserID:       userID,
			Symbol:       symbol,
			AlertTypes:   StringList(alertTypes),
			ThresholdUSD: threshold,
			IsActive:     true,
		}
		if err := d.db.Create(&sub).Error; err != nil {
			return nil, err
		}
		return &sub, nil
	case err != nil:
		return nil, err
	}

	sub.AlertTypes = StringList(alertTypes)
	sub.ThresholdUSD = threshold
	sub.IsActive = true
	if err := d.db.Save(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe soft-deletes the subscription. It reports whether an active
// subscription existed.
func (d *Database) Unsubscribe(userID int64, symbol string) (bool, error) {
	res := d.db.Model(&UserSubscription{}).
		Where("user_id = ? AND symbol = ? AND is_active = ?", userID, strings.ToUpper(symbol), true).
		Update("is_active", false)
	return res.RowsAffected > 0, res.Error
}

// ListSubscriptions returns the user's active subscriptions.
func (d *Database) ListSubscriptions(userID int64) ([]UserSubscription, error) {
	var subs []UserSubscription
	err := d.db.Where("user_id = ? AND is_active = ?", userID, true).Order("symbol ASC").Find(&subs).Error
	return subs, err
}

// MatchingSubscriptions returns active subscriptions for symbol that want
// alertType at amount usd.
func (d *Database) MatchingSubscriptions(symbol, alertType string, usd decimal.Decimal) ([]UserSubscription, error) {
	var subs []UserSubscription
	if err := d.db.Where("symbol = ? AND is_active = ?", strings.ToUpper(symbol), true).Find(&subs).Error; err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, s := range subs {
		if s.Wants(alertType, usd) {
			out = append(out, s)
		}
	}
	return out, nil
}
