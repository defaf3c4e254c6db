// Package bot provides the Telegram side of glasswatch: user commands and
// the channel broadcast used by the alert dispatcher.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/glasswatch/internal/coinglass"
	"github.com/web3guy0/glasswatch/internal/config"
	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/market"
)

const commandTimeout = 30 * time.Second

// ErrNoAlertChannel is returned by SendToChannel when no destination is configured.
var ErrNoAlertChannel = errors.New("no alert channel configured")

// Market answers the snapshot commands.
type Market interface {
	Raw(ctx context.Context, input string) (*market.RawSnapshot, error)
	Whales(ctx context.Context, input string, limit int) ([]market.Whale, error)
	Liquidations(ctx context.Context, input string) (*market.Liquidations, error)
	Orderbook(ctx context.Context, input, exchange string) (*market.Orderbook, error)
}

// Resolver validates symbols for subscriptions.
type Resolver interface {
	Resolve(ctx context.Context, input string) (string, error)
}

// Store is the persistence used by commands.
type Store interface {
	Subscribe(userID int64, symbol string, alertTypes []string, threshold *decimal.Decimal) (*database.UserSubscription, error)
	Unsubscribe(userID int64, symbol string) (bool, error)
	ListSubscriptions(userID int64) ([]database.UserSubscription, error)
	RecentAlerts(limit int) ([]database.SystemAlert, error)
	GetPendingAlerts(limit int, types ...string) ([]database.SystemAlert, error)
	GetStats() (database.Stats, error)
}

// Deps are the collaborators behind the commands. Usage and HistorySizes
// feed /status and may be nil.
type Deps struct {
	Market       Market
	Resolver     Resolver
	Store        Store
	Usage        func() coinglass.Usage
	HistorySizes func() map[string]int
}

// Bot handles Telegram interactions
type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     *config.Config
	deps    Deps
	started time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New connects to Telegram with cfg.TelegramToken.
func New(cfg *config.Config, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	api.Debug = false

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot connected")
	return NewWithAPI(api, cfg, deps), nil
}

// NewWithAPI wraps an existing API client.
func NewWithAPI(api *tgbotapi.BotAPI, cfg *config.Config, deps Deps) *Bot {
	return &Bot{
		api:     api,
		cfg:     cfg,
		deps:    deps,
		started: time.Now(),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the bot's command listener
func (b *Bot) Start(ctx context.Context) {
	go b.listenForCommands(ctx)

	if b.cfg.TelegramChatID != 0 {
		b.sendMarkdown(b.cfg.TelegramChatID, "🟢 *glasswatch online*\n\nMonitoring: "+strings.Join(b.cfg.MonitorSymbols, ", "))
	}
}

// Stop stops the bot
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		b.api.StopReceivingUpdates()
		close(b.stopCh)
	})
}

func (b *Bot) listenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				go b.handleMessage(ctx, update.Message)
			}
			if update.CallbackQuery != nil {
				go b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || !msg.IsCommand() {
		return
	}
	chatID := msg.Chat.ID

	log.Debug().
		Int64("chat_id", chatID).
		Str("text", msg.Text).
		Msg("Received command")

	if msg.From == nil || !b.cfg.IsAllowed(msg.From.ID) {
		b.sendText(chatID, "⛔ You are not authorized to use this bot.")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start":
		b.cmdStart(chatID)
	case "help":
		b.cmdHelp(chatID)
	case "raw":
		b.cmdRaw(ctx, chatID, args)
	case "liq":
		b.cmdLiquidations(ctx, chatID, args)
	case "whale":
		b.cmdWhale(ctx, chatID, args)
	case "raw_orderbook":
		b.cmdOrderbook(ctx, chatID, args)
	case "subscribe":
		b.cmdSubscribe(ctx, chatID, msg.From.ID, args)
	case "unsubscribe":
		b.cmdUnsubscribe(ctx, chatID, msg.From.ID, args)
	case "alerts":
		b.cmdAlerts(chatID, msg.From.ID)
	case "alerts_recent":
		b.cmdAlertsRecent(chatID)
	case "alerts_pending":
		b.cmdAlertsPending(chatID)
	case "status":
		b.cmdStatus(chatID)
	default:
		b.sendText(chatID, "❓ Unknown command. Use /help for available commands.")
	}
}

// Callback data is "<command>:<symbol>", sent by the refresh buttons.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	log.Debug().
		Int64("chat_id", chatID).
		Str("data", cb.Data).
		Msg("Received callback")

	b.api.Request(tgbotapi.NewCallback(cb.ID, ""))

	if cb.From == nil || !b.cfg.IsAllowed(cb.From.ID) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd, symbol, _ := strings.Cut(cb.Data, ":")
	switch cmd {
	case "raw":
		b.cmdRaw(ctx, chatID, symbol)
	case "liq":
		b.cmdLiquidations(ctx, chatID, symbol)
	case "whale":
		b.cmdWhale(ctx, chatID, symbol)
	case "raw_orderbook":
		b.cmdOrderbook(ctx, chatID, symbol)
	}
}

// SendToChannel posts a Markdown message to the alert channel (numeric id
// or @channelname), falling back to the admin chat.
func (b *Bot) SendToChannel(ctx context.Context, text string) error {
	var msg tgbotapi.MessageConfig
	switch ch := strings.TrimSpace(b.cfg.AlertChannel); {
	case strings.HasPrefix(ch, "@"):
		msg = tgbotapi.NewMessageToChannel(ch, text)
	case ch != "":
		id, err := strconv.ParseInt(ch, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ALERT_CHANNEL_ID %q: %w", ch, err)
		}
		msg = tgbotapi.NewMessage(id, text)
	case b.cfg.TelegramChatID != 0:
		msg = tgbotapi.NewMessage(b.cfg.TelegramChatID, text)
	default:
		return ErrNoAlertChannel
	}
	return b.sendMarkdownMessage(ctx, msg)
}

// NotifyUser sends a Markdown message to one user's private chat.
func (b *Bot) NotifyUser(ctx context.Context, userID int64, text string) error {
	return b.sendMarkdownMessage(ctx, tgbotapi.NewMessage(userID, text))
}

func (b *Bot) sendMarkdownMessage(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	_, err := b.api.Send(msg)
	if err != nil && isParseError(err) {
		// Symbols with underscores can break legacy Markdown; retry plain.
		msg.ParseMode = ""
		_, err = b.api.Send(msg)
	}
	return err
}

func isParseError(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return strings.Contains(tgErr.Message, "can't parse entities")
	}
	return strings.Contains(err.Error(), "can't parse entities")
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("Telegram send failed")
	}
	return err
}

func (b *Bot) sendMarkdown(chatID int64, text string) error {
	err := b.sendMarkdownMessage(context.Background(), tgbotapi.NewMessage(chatID, text))
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("Telegram send failed")
	}
	return err
}

func (b *Bot) sendMarkdownWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	err := b.sendMarkdownMessage(context.Background(), msg)
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("Telegram send failed")
	}
	return err
}

func refreshKeyboard(command, symbol string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", command+":"+symbol),
		),
	)
}
