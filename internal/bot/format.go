package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/market"
	"github.com/web3guy0/glasswatch/internal/signals"
)

const unavailable = "_unavailable_"

func formatRaw(s *market.RawSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *%s Market Snapshot*\n\n", s.Symbol)

	if s.Available(market.SectionMarket) {
		fmt.Fprintf(&b, "💵 *Price:* %s (%s)\n", formatPrice(s.Price), formatPct(s.PriceChange24h))
		fmt.Fprintf(&b, "📈 *Open Interest:* %s (%s)\n", signals.FormatUSD(s.OpenInterestUSD), formatPct(s.OIChange24h))
		fmt.Fprintf(&b, "💸 *Funding (OI-weighted):* %.4f%%\n", s.FundingRate)
		fmt.Fprintf(&b, "⚖️ *Long/Short 24h:* %.2f\n", s.LongShortRatio)
		fmt.Fprintf(&b, "💥 *Liquidations 24h:* %s\n", signals.FormatUSD(s.Liquidations24h))
		fmt.Fprintf(&b, "├ Longs: %s\n", signals.FormatUSD(s.LongLiquidations))
		fmt.Fprintf(&b, "└ Shorts: %s\n", signals.FormatUSD(s.ShortLiquidations))
	} else {
		b.WriteString("💵 *Market:* " + unavailable + "\n")
	}

	b.WriteString("\n*Open interest by exchange:*\n")
	switch {
	case !s.Available(market.SectionOpenInterest):
		b.WriteString(unavailable + "\n")
	case len(s.OpenInterestByVenue) == 0:
		b.WriteString("No data\n")
	default:
		for i, v := range s.OpenInterestByVenue {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "• %s: %s\n", signals.EscapeMarkdown(v.Exchange), signals.FormatUSD(v.OpenInterestUSD))
		}
	}

	b.WriteString("\n*Funding by exchange:*\n")
	switch {
	case !s.Available(market.SectionFunding):
		b.WriteString(unavailable + "\n")
	case len(s.FundingByVenue) == 0:
		b.WriteString("No data\n")
	default:
		for i, f := range s.FundingByVenue {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "• %s: %.4f%%\n", signals.EscapeMarkdown(f.Exchange), f.Rate)
		}
	}

	fmt.Fprintf(&b, "\n🕐 %s UTC", s.UpdatedAt.UTC().Format("15:04:05"))
	return b.String()
}

func formatWhales(symbol string, whales []market.Whale) string {
	if len(whales) == 0 {
		return fmt.Sprintf("🐋 No recent whale activity for *%s*.", symbol)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🐋 *%s Whale Activity*\n\n", symbol)
	for _, w := range whales {
		emoji := "🟢"
		if w.Side == signals.SideSell {
			emoji = "🔴"
		}
		fmt.Fprintf(&b, "%s %s %s *%s* @ %s\n", emoji, strings.ToUpper(w.Side), w.Action, signals.FormatUSD(w.AmountUSD), formatPrice(w.EntryPrice))
		fmt.Fprintf(&b, "   `%s` · %s\n", shortAddr(w.User), ago(w.At))
	}
	return b.String()
}

func formatLiquidations(l *market.Liquidations) string {
	if len(l.Windows) == 0 {
		return fmt.Sprintf("💥 No liquidation data for *%s*.", l.Symbol)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💥 *%s Liquidations*\n\n", l.Symbol)
	for _, w := range l.Windows {
		side := "balanced"
		switch w.Dominant() {
		case "long":
			side = "🔴 longs"
		case "short":
			side = "🟢 shorts"
		}
		fmt.Fprintf(&b, "*%s:* %s (L %s / S %s) %s\n", w.Window, signals.FormatUSD(w.Total), signals.FormatUSD(w.Long), signals.FormatUSD(w.Short), side)
	}
	return b.String()
}

func formatOrderbook(ob *market.Orderbook) string {
	bias := "⚖️ Balanced"
	switch {
	case ob.Imbalance > 0.1:
		bias = "🟢 Bid heavy"
	case ob.Imbalance < -0.1:
		bias = "🔴 Ask heavy"
	}
	return fmt.Sprintf(`📚 *%s Orderbook* (%s, ±1%%)

🟢 *Bids:* %s (%s)
🔴 *Asks:* %s (%s)
📐 *Imbalance:* %+.2f %s

🕐 %s UTC`,
		ob.Pair, signals.EscapeMarkdown(ob.Exchange),
		signals.FormatUSD(ob.BidsUSD), signedUSD(ob.BidsDelta),
		signals.FormatUSD(ob.AsksUSD), signedUSD(ob.AsksDelta),
		ob.Imbalance, bias,
		ob.At.UTC().Format("15:04"),
	)
}

func formatSubscriptions(subs []database.UserSubscription) string {
	if len(subs) == 0 {
		return "🔕 You have no subscriptions.\n\nUse /subscribe SYMBOL [types] [min\\_usd]"
	}
	var b strings.Builder
	b.WriteString("🔔 *Your subscriptions*\n\n")
	for _, s := range subs {
		types := "all"
		if len(s.AlertTypes) > 0 {
			types = strings.Join(s.AlertTypes, ", ")
		}
		fmt.Fprintf(&b, "• *%s*: %s", s.Symbol, types)
		if s.ThresholdUSD != nil {
			fmt.Fprintf(&b, " ≥ %s", signals.FormatUSD(s.ThresholdUSD.InexactFloat64()))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatAlertList(title string, alerts []database.SystemAlert) string {
	if len(alerts) == 0 {
		return fmt.Sprintf("%s\n\nNothing here.", title)
	}
	var b strings.Builder
	b.WriteString(title + "\n\n")
	for _, a := range alerts {
		state := "⏳"
		if a.IsSent {
			state = "✅"
		}
		symbol := ""
		if data, err := a.ParsedData(); err == nil {
			if s, ok := data["symbol"].(string); ok {
				symbol = s
			}
		}
		fmt.Fprintf(&b, "%s #%d %s %s · %s\n", state, a.ID, a.AlertType, symbol, a.CreatedAt.UTC().Format("Jan 02 15:04"))
	}
	return b.String()
}

// parseSubscribeArgs parses "SYMBOL [types] [threshold]". types is a comma
// list of alert types; threshold a USD amount with an optional K/M suffix.
func parseSubscribeArgs(args string) (symbol string, types []string, threshold *decimal.Decimal, err error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", nil, nil, fmt.Errorf("missing symbol")
	}
	symbol = fields[0]

	for _, f := range fields[1:] {
		if d, ok := parseAmount(f); ok {
			if threshold != nil {
				return "", nil, nil, fmt.Errorf("threshold given twice")
			}
			threshold = &d
			continue
		}
		for _, t := range strings.Split(strings.ToLower(f), ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			switch t {
			case signals.AlertWhale, signals.AlertLiquidation, signals.AlertFunding:
				types = append(types, t)
			case "all":
				types = nil
			default:
				return "", nil, nil, fmt.Errorf("unknown alert type %q", t)
			}
		}
	}
	return symbol, types, threshold, nil
}

func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimPrefix(strings.ToUpper(s), "$")
	mult := decimal.NewFromInt(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = decimal.NewFromInt(1_000), strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = decimal.NewFromInt(1_000_000), strings.TrimSuffix(s, "M")
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, "_", ""))
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d.Mul(mult), true
}

func formatPrice(price float64) string {
	switch {
	case price >= 1000:
		return fmt.Sprintf("$%.2f", price)
	case price >= 1:
		return fmt.Sprintf("$%.4f", price)
	default:
		return fmt.Sprintf("$%.6f", price)
	}
}

func formatPct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func signedUSD(v float64) string {
	if v >= 0 {
		return "+" + signals.FormatUSD(v)
	}
	return signals.FormatUSD(v)
}

func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.UTC().Format("Jan 02 15:04")
	}
}
