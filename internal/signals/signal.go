// Package signals turns rolling observation windows into typed trading signals.
//
// Each heuristic is a pure function over a window of observations: it sums,
// takes ratios, classifies, and scores confidence in [0, 1] from fixed weights.
package signals

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Type is the kind of signal a heuristic emits.
type Type string

const (
	Pump          Type = "pump"
	Dump          Type = "dump"
	Accumulation  Type = "accumulation"
	Distribution  Type = "distribution"
	ReversalLong  Type = "reversal_long"
	ReversalShort Type = "reversal_short"
)

// Alert types stored in the outbox.
const (
	AlertLiquidation = "liquidation"
	AlertWhale       = "whale"
	AlertFunding     = "funding"
)

// Signal is an ephemeral heuristic result. Only its rendered message and
// metrics are persisted.
type Signal struct {
	Type       Type               `json:"signal_type"`
	Symbol     string             `json:"symbol"`
	Metrics    map[string]float64 `json:"metrics"`
	Confidence float64            `json:"confidence"`
	Timestamp  time.Time          `json:"timestamp"`
}

// AlertType maps the signal onto its outbox alert type.
func (s Signal) AlertType() string {
	switch s.Type {
	case Pump, Dump:
		return AlertLiquidation
	case Accumulation, Distribution:
		return AlertWhale
	default:
		return AlertFunding
	}
}

// Data is the JSON payload stored alongside the rendered alert.
func (s Signal) Data() map[string]any {
	return map[string]any{
		"signal_type": string(s.Type),
		"symbol":      s.Symbol,
		"confidence":  round(s.Confidence, 4),
		"metrics":     s.Metrics,
		"timestamp":   s.Timestamp.UTC().Format(time.RFC3339),
	}
}

// Render formats the signal as a Telegram Markdown message.
func Render(s Signal) string {
	var b strings.Builder
	m := s.Metrics
	symbol := EscapeMarkdown(s.Symbol)
	label := EscapeMarkdown(strings.ToUpper(string(s.Type)))

	switch s.Type {
	case Dump, Pump:
		emoji, title := "🔴", "LONG SQUEEZE"
		if s.Type == Pump {
			emoji, title = "🟢", "SHORT SQUEEZE"
		}
		fmt.Fprintf(&b, "%s *%s %s* (%s)\n\n", emoji, symbol, title, label)
		fmt.Fprintf(&b, "💥 Liquidations: *%s*\n", FormatUSD(m["total_usd"]))
		fmt.Fprintf(&b, "├ Longs: %s\n", FormatUSD(m["long_usd"]))
		fmt.Fprintf(&b, "├ Shorts: %s\n", FormatUSD(m["short_usd"]))
		fmt.Fprintf(&b, "└ Long/Short: %.2f\n", m["ratio"])
	case Accumulation, Distribution:
		emoji, side := "🐋🟢", "BUY"
		if s.Type == Distribution {
			emoji, side = "🐋🔴", "SELL"
		}
		fmt.Fprintf(&b, "%s *%s WHALE %s* (%s)\n\n", emoji, symbol, side, label)
		fmt.Fprintf(&b, "💰 Size: *%s*\n", FormatUSD(m["amount_usd"]))
		fmt.Fprintf(&b, "📊 Same-side last hour: %.0f/%.0f\n", m["same_side"], m["recent_count"])
	case ReversalShort, ReversalLong:
		emoji, bias := "⚠️🔴", "crowded longs"
		if s.Type == ReversalLong {
			emoji, bias = "⚠️🟢", "crowded shorts"
		}
		fmt.Fprintf(&b, "%s *%s FUNDING EXTREME* (%s)\n\n", emoji, symbol, label)
		fmt.Fprintf(&b, "💸 Avg funding: *%.4f%%* (%s)\n", m["avg_rate"], bias)
		fmt.Fprintf(&b, "📈 24h avg: %.4f%%\n", m["trailing_avg"])
		fmt.Fprintf(&b, "🏦 Exchanges: %.0f\n", m["exchanges"])
	default:
		fmt.Fprintf(&b, "*%s* %s\n", symbol, EscapeMarkdown(string(s.Type)))
	}

	fmt.Fprintf(&b, "\n🎯 Confidence: *%.0f%%*\n", s.Confidence*100)
	fmt.Fprintf(&b, "_%s UTC_", s.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	return b.String()
}

// EscapeMarkdown escapes the characters legacy Telegram Markdown treats as
// entity delimiters.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"`", "\\`",
)

// FormatUSD renders an amount as $1.23B / $4.56M / $7.89K.
func FormatUSD(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%s$%.2fB", sign, v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%s$%.2fM", sign, v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%s$%.2fK", sign, v/1e3)
	default:
		return fmt.Sprintf("%s$%.2f", sign, v)
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
