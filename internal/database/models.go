package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Models

type UserSubscription struct {
	ID           uint             `gorm:"primaryKey;autoIncrement"`
	UserID       int64            `gorm:"not null;uniqueIndex:idx_user_symbol"`
	Symbol       string           `gorm:"size:32;not null;uniqueIndex:idx_user_symbol"`
	AlertTypes   StringList       `gorm:"type:text"` // empty = every type
	ThresholdUSD *decimal.Decimal `gorm:"type:decimal(20,2)"`
	IsActive     bool             `gorm:"not null;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserSubscription) TableName() string { return "user_subscriptions" }

// Wants reports whether the subscription covers alertType at amount usd.
// A zero amount (funding alerts carry no size) skips the threshold check.
func (s UserSubscription) Wants(alertType string, usd decimal.Decimal) bool {
	if !s.IsActive {
		return false
	}
	if len(s.AlertTypes) > 0 && !s.AlertTypes.Contains(alertType) {
		return false
	}
	if s.ThresholdUSD != nil && !usd.IsZero() && usd.LessThan(*s.ThresholdUSD) {
		return false
	}
	return true
}

type WhaleTransaction struct {
	ID              uint            `gorm:"primaryKey;autoIncrement"`
	TransactionHash string          `gorm:"size:191;not null;uniqueIndex"`
	Symbol          string          `gorm:"size:32;index"`
	Side            string          `gorm:"size:8"` // "buy" or "sell"
	AmountUSD       decimal.Decimal `gorm:"type:decimal(20,2)"`
	Timestamp       time.Time       `gorm:"index"`
}

func (WhaleTransaction) TableName() string { return "whale_transactions" }

// LiquidationEvent is one liquidation order. The upstream feed has no order
// id, so the order's fields together form its identity.
type LiquidationEvent struct {
	ID             uint            `gorm:"primaryKey;autoIncrement"`
	Symbol         string          `gorm:"size:32;index:idx_liq_symbol_exchange;uniqueIndex:idx_liq_order"`
	Exchange       string          `gorm:"size:32;index:idx_liq_symbol_exchange;uniqueIndex:idx_liq_order"`
	LiquidationUSD decimal.Decimal `gorm:"type:decimal(20,2);uniqueIndex:idx_liq_order"`
	Price          decimal.Decimal `gorm:"type:decimal(24,8);uniqueIndex:idx_liq_order"`
	Side           string          `gorm:"size:8;uniqueIndex:idx_liq_order"` // "long" or "short"
	Timestamp      time.Time       `gorm:"index;uniqueIndex:idx_liq_order"`
}

func (LiquidationEvent) TableName() string { return "liquidation_events" }

// SystemAlert is an outbox row: written by producers, flipped to sent once by
// the dispatcher.
type SystemAlert struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AlertType string `gorm:"size:32;index"`
	Message   string `gorm:"type:text"`
	Data      string `gorm:"type:text"` // JSON
	IsSent    bool   `gorm:"not null;index"`
	SentAt    *time.Time
	CreatedAt time.Time `gorm:"index"`
}

func (SystemAlert) TableName() string { return "system_alerts" }

// ParsedData decodes the JSON payload.
func (a SystemAlert) ParsedData() (map[string]any, error) {
	out := map[string]any{}
	if a.Data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(a.Data), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StringList is a []string persisted as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported StringList source %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
