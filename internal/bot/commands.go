package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/glasswatch/internal/coinglass"
)

const (
	serviceError = "⚠️ Service error, please try again later."
	whaleLimit   = 10
	alertsLimit  = 10
)

// Commands

func (b *Bot) cmdStart(chatID int64) {
	text := `🔭 *Welcome to glasswatch!*

I watch CoinGlass futures data and flag unusual market activity.

*What I do:*
• 💥 Detect liquidation cascades (pump/dump)
• 🐋 Track whale positions (accumulation/distribution)
• 💸 Spot funding extremes (reversal risk)
• 📣 Broadcast alerts to the channel

*Quick Start:*
1️⃣ /raw BTC for a market snapshot
2️⃣ /subscribe BTC whale 1M for personal alerts
3️⃣ /help for every command`

	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdHelp(chatID int64) {
	text := `📚 *glasswatch Commands*

*📊 Market:*
/raw SYMBOL - Price, OI, funding, liquidations
/liq SYMBOL - Liquidations 1h to 24h
/whale SYMBOL - Recent whale positions
/raw\_orderbook SYMBOL - Bid/ask depth

*🔔 Alerts:*
/subscribe SYMBOL [types] [min\_usd]
  types: whale,liquidation,funding (default all)
/unsubscribe SYMBOL
/alerts - Your subscriptions
/alerts\_recent - Latest alerts
/alerts\_pending - Alerts waiting for broadcast

*⚙️ System:*
/status - Bot & monitor status`

	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdRaw(ctx context.Context, chatID int64, args string) {
	symbol, ok := b.requireSymbol(chatID, "raw", args)
	if !ok {
		return
	}
	snap, err := b.deps.Market.Raw(ctx, symbol)
	if err != nil {
		b.replyError(chatID, symbol, err)
		return
	}
	b.sendMarkdownWithKeyboard(chatID, formatRaw(snap), refreshKeyboard("raw", snap.Symbol))
}

func (b *Bot) cmdLiquidations(ctx context.Context, chatID int64, args string) {
	symbol, ok := b.requireSymbol(chatID, "liq", args)
	if !ok {
		return
	}
	liq, err := b.deps.Market.Liquidations(ctx, symbol)
	if err != nil {
		b.replyError(chatID, symbol, err)
		return
	}
	b.sendMarkdownWithKeyboard(chatID, formatLiquidations(liq), refreshKeyboard("liq", liq.Symbol))
}

func (b *Bot) cmdWhale(ctx context.Context, chatID int64, args string) {
	symbol, ok := b.requireSymbol(chatID, "whale", args)
	if !ok {
		return
	}
	whales, err := b.deps.Market.Whales(ctx, symbol, whaleLimit)
	if err != nil {
		b.replyError(chatID, symbol, err)
		return
	}
	canonical := coinglass.NormalizeSymbol(symbol)
	b.sendMarkdownWithKeyboard(chatID, formatWhales(canonical, whales), refreshKeyboard("whale", canonical))
}

func (b *Bot) cmdOrderbook(ctx context.Context, chatID int64, args string) {
	symbol, ok := b.requireSymbol(chatID, "raw_orderbook", args)
	if !ok {
		return
	}
	exchange := ""
	if fields := strings.Fields(args); len(fields) > 1 {
		exchange = fields[1]
	}
	ob, err := b.deps.Market.Orderbook(ctx, symbol, exchange)
	if err != nil {
		b.replyError(chatID, symbol, err)
		return
	}
	if ob == nil {
		b.sendText(chatID, fmt.Sprintf("📚 No orderbook data for %s.", strings.ToUpper(symbol)))
		return
	}
	b.sendMarkdownWithKeyboard(chatID, formatOrderbook(ob), refreshKeyboard("raw_orderbook", ob.Symbol))
}

func (b *Bot) cmdSubscribe(ctx context.Context, chatID, userID int64, args string) {
	input, types, threshold, err := parseSubscribeArgs(args)
	if err != nil {
		b.sendText(chatID, fmt.Sprintf("⚠️ %s\n\nUsage: /subscribe SYMBOL [whale,liquidation,funding] [min_usd]", err))
		return
	}
	symbol, err := b.deps.Resolver.Resolve(ctx, input)
	if err != nil {
		b.replyError(chatID, input, err)
		return
	}
	sub, err := b.deps.Store.Subscribe(userID, symbol, types, threshold)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Subscribe failed")
		b.sendText(chatID, serviceError)
		return
	}

	what := "all alerts"
	if len(sub.AlertTypes) > 0 {
		what = strings.Join(sub.AlertTypes, ", ") + " alerts"
	}
	text := fmt.Sprintf("🔔 Subscribed to %s for *%s*", what, sub.Symbol)
	if sub.ThresholdUSD != nil {
		text += fmt.Sprintf(" ≥ $%s", sub.ThresholdUSD.StringFixed(0))
	}
	b.sendMarkdown(chatID, text+".")
}

func (b *Bot) cmdUnsubscribe(ctx context.Context, chatID, userID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		b.sendText(chatID, "⚠️ Usage: /unsubscribe SYMBOL")
		return
	}
	symbol := coinglass.NormalizeSymbol(fields[0])
	removed, err := b.deps.Store.Unsubscribe(userID, symbol)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Unsubscribe failed")
		b.sendText(chatID, serviceError)
		return
	}
	if !removed {
		b.sendText(chatID, fmt.Sprintf("ℹ️ You are not subscribed to %s.", symbol))
		return
	}
	b.sendText(chatID, fmt.Sprintf("🔕 Unsubscribed from %s.", symbol))
}

func (b *Bot) cmdAlerts(chatID, userID int64) {
	subs, err := b.deps.Store.ListSubscriptions(userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("List subscriptions failed")
		b.sendText(chatID, serviceError)
		return
	}
	b.sendMarkdown(chatID, formatSubscriptions(subs))
}

func (b *Bot) cmdAlertsRecent(chatID int64) {
	alerts, err := b.deps.Store.RecentAlerts(alertsLimit)
	if err != nil {
		log.Error().Err(err).Msg("Recent alerts failed")
		b.sendText(chatID, serviceError)
		return
	}
	b.sendText(chatID, formatAlertList("🕐 Recent alerts", alerts))
}

func (b *Bot) cmdAlertsPending(chatID int64) {
	alerts, err := b.deps.Store.GetPendingAlerts(alertsLimit)
	if err != nil {
		log.Error().Err(err).Msg("Pending alerts failed")
		b.sendText(chatID, serviceError)
		return
	}
	b.sendText(chatID, formatAlertList("⏳ Pending alerts", alerts))
}

func (b *Bot) cmdStatus(chatID int64) {
	var sb strings.Builder
	sb.WriteString("📊 *Bot Status*\n\n")
	fmt.Fprintf(&sb, "🤖 *Bot:* Online (up %s)\n", time.Since(b.started).Round(time.Second))
	fmt.Fprintf(&sb, "📡 *Symbols:* %s\n", strings.Join(b.cfg.MonitorSymbols, ", "))

	sb.WriteString("\n*Alerts:*\n")
	fmt.Fprintf(&sb, "• Broadcast: %s\n", onOff(b.cfg.EnableBroadcastAlerts))
	fmt.Fprintf(&sb, "• Whale: %s\n", onOff(b.cfg.EnableWhaleAlerts))
	fmt.Fprintf(&sb, "• Liquidation: %s\n", onOff(b.cfg.EnableLiquidationAlerts))
	fmt.Fprintf(&sb, "• Funding: %s\n", onOff(b.cfg.EnableFundingAlerts))

	if stats, err := b.deps.Store.GetStats(); err != nil {
		log.Warn().Err(err).Msg("Stats unavailable")
		sb.WriteString("\n*Database:* " + unavailable + "\n")
	} else {
		sb.WriteString("\n*Database:*\n")
		fmt.Fprintf(&sb, "• Pending alerts: %d\n", stats.PendingAlerts)
		fmt.Fprintf(&sb, "• Sent alerts: %d\n", stats.SentAlerts)
		fmt.Fprintf(&sb, "• Subscriptions: %d\n", stats.ActiveSubscriptions)
		fmt.Fprintf(&sb, "• Whale txs: %d\n", stats.WhaleTransactions)
		fmt.Fprintf(&sb, "• Liquidation events: %d\n", stats.LiquidationEvents)
	}

	if b.deps.HistorySizes != nil {
		sizes := b.deps.HistorySizes()
		names := make([]string, 0, len(sizes))
		for name := range sizes {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("\n*History:*\n")
		for _, name := range names {
			fmt.Fprintf(&sb, "• %s: %d\n", name, sizes[name])
		}
	}

	if b.deps.Usage != nil {
		if u := b.deps.Usage(); u.Max > 0 {
			fmt.Fprintf(&sb, "\n*CoinGlass:* %d/%d calls\n", u.Used, u.Max)
		}
	}

	b.sendMarkdown(chatID, sb.String())
}

func (b *Bot) requireSymbol(chatID int64, command, args string) (string, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		b.sendText(chatID, fmt.Sprintf("⚠️ Usage: /%s SYMBOL (e.g. /%s BTC)", command, command))
		return "", false
	}
	return fields[0], true
}

// replyError maps errors onto user-facing messages; details stay in the log.
func (b *Bot) replyError(chatID int64, input string, err error) {
	if errors.Is(err, coinglass.ErrSymbolNotSupported) {
		b.sendText(chatID, fmt.Sprintf("❌ %s is not a supported symbol. Try BTC, ETH or SOL.", strings.ToUpper(input)))
		return
	}
	log.Error().Err(err).Str("symbol", input).Msg("Command failed")
	b.sendText(chatID, serviceError)
}

func onOff(v bool) string {
	if v {
		return "🟢 ON"
	}
	return "🔴 OFF"
}
