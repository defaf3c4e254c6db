package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/web3guy0/glasswatch/internal/coinglass"
	"github.com/web3guy0/glasswatch/internal/config"
	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/market"
)

type sentMessage struct {
	ChatID    string
	Text      string
	ParseMode string
	Markup    string
}

// fakeTelegram answers getMe and sendMessage like the Bot API.
type fakeTelegram struct {
	mu         sync.Mutex
	sent       []sentMessage
	rejectMode bool // refuse Markdown like Telegram does on broken entities
}

func (f *fakeTelegram) handler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"glass","username":"glasswatch_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.rejectMode && r.PostForm.Get("parse_mode") != "" {
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Can't find end of the entity"}`))
			return
		}
		f.sent = append(f.sent, sentMessage{
			ChatID:    r.PostForm.Get("chat_id"),
			Text:      r.PostForm.Get("text"),
			ParseMode: r.PostForm.Get("parse_mode"),
			Markup:    r.PostForm.Get("reply_markup"),
		})
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`))
	case strings.HasSuffix(r.URL.Path, "/answerCallbackQuery"):
		w.Write([]byte(`{"ok":true,"result":true}`))
	default:
		w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (f *fakeTelegram) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTelegram) last(t *testing.T) sentMessage {
	t.Helper()
	msgs := f.messages()
	if len(msgs) == 0 {
		t.Fatal("no message sent")
	}
	return msgs[len(msgs)-1]
}

type fakeMarket struct {
	raw   *market.RawSnapshot
	err   error
	calls int
}

func (m *fakeMarket) Raw(ctx context.Context, input string) (*market.RawSnapshot, error) {
	m.calls++
	return m.raw, m.err
}

func (m *fakeMarket) Whales(ctx context.Context, input string, limit int) ([]market.Whale, error) {
	m.calls++
	return nil, m.err
}

func (m *fakeMarket) Liquidations(ctx context.Context, input string) (*market.Liquidations, error) {
	m.calls++
	return &market.Liquidations{Symbol: strings.ToUpper(input)}, m.err
}

func (m *fakeMarket) Orderbook(ctx context.Context, input, exchange string) (*market.Orderbook, error) {
	m.calls++
	return nil, m.err
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, input string) (string, error) {
	s := coinglass.NormalizeSymbol(input)
	if s == "NOPE" {
		return "", &coinglass.UnsupportedSymbolError{Input: input, Symbol: s}
	}
	return s, nil
}

func newTestBot(t *testing.T, cfg *config.Config, mkt Market) (*Bot, *fakeTelegram, *database.Database) {
	t.Helper()
	tg := &fakeTelegram{}
	srv := httptest.NewServer(http.HandlerFunc(tg.handler))
	t.Cleanup(srv.Close)

	api, err := tgbotapi.NewBotAPIWithClient("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("bot api: %v", err)
	}

	db, err := database.New(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if mkt == nil {
		mkt = &fakeMarket{}
	}
	b := NewWithAPI(api, cfg, Deps{Market: mkt, Resolver: fakeResolver{}, Store: db})
	return b, tg, db
}

func command(userID int64, text string) *tgbotapi.Message {
	cmd := strings.Fields(text)[0]
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: userID},
		From:     &tgbotapi.User{ID: userID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func TestSendToChannelNumericID(t *testing.T) {
	b, tg, _ := newTestBot(t, &config.Config{AlertChannel: "-100123"}, nil)

	if err := b.SendToChannel(context.Background(), "🐋 *BTC*"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := tg.last(t)
	if msg.ChatID != "-100123" || msg.ParseMode != "Markdown" || msg.Text != "🐋 *BTC*" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSendToChannelUsername(t *testing.T) {
	b, tg, _ := newTestBot(t, &config.Config{AlertChannel: "@glasswatch_alerts"}, nil)

	if err := b.SendToChannel(context.Background(), "alert"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := tg.last(t).ChatID; got != "@glasswatch_alerts" {
		t.Fatalf("expected channel username, got %q", got)
	}
}

func TestSendToChannelFallback(t *testing.T) {
	b, tg, _ := newTestBot(t, &config.Config{TelegramChatID: 555}, nil)
	if err := b.SendToChannel(context.Background(), "alert"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := tg.last(t).ChatID; got != "555" {
		t.Fatalf("expected admin chat fallback, got %q", got)
	}

	none, _, _ := newTestBot(t, &config.Config{}, nil)
	if err := none.SendToChannel(context.Background(), "alert"); !errors.Is(err, ErrNoAlertChannel) {
		t.Fatalf("expected ErrNoAlertChannel, got %v", err)
	}
}

func TestMarkdownFallsBackToPlainText(t *testing.T) {
	b, tg, _ := newTestBot(t, &config.Config{AlertChannel: "1"}, nil)
	tg.rejectMode = true

	if err := b.SendToChannel(context.Background(), "broken *markdown"); err != nil {
		t.Fatalf("plain retry should succeed: %v", err)
	}
	msg := tg.last(t)
	if msg.ParseMode != "" || msg.Text != "broken *markdown" {
		t.Fatalf("expected plain text retry, got %+v", msg)
	}
}

func TestUnauthorizedUser(t *testing.T) {
	mkt := &fakeMarket{}
	b, tg, _ := newTestBot(t, &config.Config{AllowedUsers: []int64{1}}, mkt)

	b.handleMessage(context.Background(), command(2, "/raw BTC"))
	if !strings.Contains(tg.last(t).Text, "not authorized") {
		t.Fatalf("expected refusal, got %q", tg.last(t).Text)
	}
	if mkt.calls != 0 {
		t.Fatal("market must not be queried for unauthorized users")
	}
}

func TestRawCommand(t *testing.T) {
	mkt := &fakeMarket{raw: &market.RawSnapshot{
		Symbol:      "BTC",
		Price:       65000,
		Unavailable: []string{market.SectionFunding},
		UpdatedAt:   time.Now(),
	}}
	b, tg, _ := newTestBot(t, &config.Config{}, mkt)

	b.handleMessage(context.Background(), command(1, "/raw btc"))
	msg := tg.last(t)
	if !strings.Contains(msg.Text, "BTC Market Snapshot") || !strings.Contains(msg.Text, "$65000.00") {
		t.Fatalf("unexpected snapshot text %q", msg.Text)
	}
	if !strings.Contains(msg.Text, unavailable) {
		t.Fatal("failed funding section should read unavailable")
	}
	if !strings.Contains(msg.Markup, "raw:BTC") {
		t.Fatalf("refresh button missing: %q", msg.Markup)
	}
}

func TestCommandWithoutSymbol(t *testing.T) {
	b, tg, _ := newTestBot(t, &config.Config{}, nil)
	b.handleMessage(context.Background(), command(1, "/liq"))
	if !strings.Contains(tg.last(t).Text, "Usage: /liq SYMBOL") {
		t.Fatalf("expected usage hint, got %q", tg.last(t).Text)
	}
}

func TestUnsupportedSymbolReply(t *testing.T) {
	mkt := &fakeMarket{err: &coinglass.UnsupportedSymbolError{Input: "doge2", Symbol: "DOGE2"}}
	b, tg, _ := newTestBot(t, &config.Config{}, mkt)

	b.handleMessage(context.Background(), command(1, "/raw doge2"))
	if !strings.Contains(tg.last(t).Text, "DOGE2 is not a supported symbol") {
		t.Fatalf("unexpected reply %q", tg.last(t).Text)
	}
}

func TestUpstreamErrorIsGeneric(t *testing.T) {
	mkt := &fakeMarket{err: &coinglass.APIError{Endpoint: "/api/futures/coins-markets", Kind: coinglass.KindUpstream, StatusCode: 502}}
	b, tg, _ := newTestBot(t, &config.Config{}, mkt)

	b.handleMessage(context.Background(), command(1, "/raw BTC"))
	if got := tg.last(t).Text; got != serviceError {
		t.Fatalf("internal error leaked to user: %q", got)
	}
}

func TestSubscribeFlow(t *testing.T) {
	b, tg, db := newTestBot(t, &config.Config{}, nil)
	ctx := context.Background()

	b.handleMessage(ctx, command(7, "/subscribe btcusdt whale 1M"))
	if !strings.Contains(tg.last(t).Text, "Subscribed to whale alerts for *BTC*") {
		t.Fatalf("unexpected reply %q", tg.last(t).Text)
	}
	subs, _ := db.ListSubscriptions(7)
	if len(subs) != 1 || subs[0].Symbol != "BTC" || subs[0].ThresholdUSD == nil || subs[0].ThresholdUSD.IntPart() != 1_000_000 {
		t.Fatalf("subscription not stored: %+v", subs)
	}

	b.handleMessage(ctx, command(7, "/subscribe NOPE"))
	if !strings.Contains(tg.last(t).Text, "not a supported symbol") {
		t.Fatalf("unsupported symbol accepted: %q", tg.last(t).Text)
	}

	b.handleMessage(ctx, command(7, "/alerts"))
	if !strings.Contains(tg.last(t).Text, "*BTC*: whale") {
		t.Fatalf("subscription list missing BTC: %q", tg.last(t).Text)
	}

	b.handleMessage(ctx, command(7, "/unsubscribe BTC"))
	if !strings.Contains(tg.last(t).Text, "Unsubscribed from BTC") {
		t.Fatalf("unexpected reply %q", tg.last(t).Text)
	}
	b.handleMessage(ctx, command(7, "/unsubscribe BTC"))
	if !strings.Contains(tg.last(t).Text, "not subscribed") {
		t.Fatalf("unexpected reply %q", tg.last(t).Text)
	}
}

func TestAlertListsAndStatus(t *testing.T) {
	b, tg, db := newTestBot(t, &config.Config{MonitorSymbols: []string{"BTC"}}, nil)
	db.AddSystemAlert("whale", "w", map[string]any{"symbol": "BTC"})
	sent, _ := db.AddSystemAlert("funding", "f", map[string]any{"symbol": "ETH"})
	db.MarkAlertSent(sent.ID)
	b.deps.HistorySizes = func() map[string]int { return map[string]int{"whale": 3} }

	b.handleMessage(context.Background(), command(1, "/alerts_pending"))
	pending := tg.last(t).Text
	if !strings.Contains(pending, "whale BTC") || strings.Contains(pending, "funding") {
		t.Fatalf("unexpected pending list %q", pending)
	}

	b.handleMessage(context.Background(), command(1, "/alerts_recent"))
	if !strings.Contains(tg.last(t).Text, "✅") {
		t.Fatalf("recent list should include the sent alert: %q", tg.last(t).Text)
	}

	b.handleMessage(context.Background(), command(1, "/status"))
	status := tg.last(t).Text
	if !strings.Contains(status, "Pending alerts: 1") || !strings.Contains(status, "whale: 3") {
		t.Fatalf("unexpected status %q", status)
	}
}

func TestParseSubscribeArgs(t *testing.T) {
	cases := []struct {
		in        string
		symbol    string
		types     []string
		threshold string
		wantErr   bool
	}{
		{in: "BTC", symbol: "BTC"},
		{in: "eth whale,funding", symbol: "eth", types: []string{"whale", "funding"}},
		{in: "SOL 250k", symbol: "SOL", threshold: "250000"},
		{in: "BTC liquidation $1.5M", symbol: "BTC", types: []string{"liquidation"}, threshold: "1500000"},
		{in: "BTC all", symbol: "BTC"},
		{in: "", wantErr: true},
		{in: "BTC candles", wantErr: true},
		{in: "BTC 1M 2M", wantErr: true},
	}
	for _, tc := range cases {
		symbol, types, threshold, err := parseSubscribeArgs(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if symbol != tc.symbol || strings.Join(types, ",") != strings.Join(tc.types, ",") {
			t.Errorf("%q: got %s %v", tc.in, symbol, types)
		}
		switch {
		case tc.threshold == "" && threshold != nil:
			t.Errorf("%q: unexpected threshold %s", tc.in, threshold)
		case tc.threshold != "" && (threshold == nil || threshold.String() != tc.threshold):
			t.Errorf("%q: threshold %v, want %s", tc.in, threshold, tc.threshold)
		}
	}
}
