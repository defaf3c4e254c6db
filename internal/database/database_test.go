package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddSystemAlertRoundTrip(t *testing.T) {
	db := newTestDB(t)
	data := map[string]any{"symbol": "BTC", "confidence": 0.75, "tags": []any{"a", "b"}}

	created, err := db.AddSystemAlert("whale", "🐋 big buy", data)
	if err != nil {
		t.Fatalf("add alert: %v", err)
	}

	pending, err := db.GetPendingAlerts(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != created.ID {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if pending[0].Message != "🐋 big buy" {
		t.Fatalf("message changed: %q", pending[0].Message)
	}
	parsed, err := pending[0].ParsedData()
	if err != nil {
		t.Fatalf("parse data: %v", err)
	}
	if parsed["symbol"] != "BTC" || parsed["confidence"] != 0.75 {
		t.Fatalf("data changed: %+v", parsed)
	}
	tags, ok := parsed["tags"].([]any)
	if !ok || len(tags) != 2 || tags[1] != "b" {
		t.Fatalf("nested data changed: %+v", parsed["tags"])
	}
}

func TestMarkAlertSentIsFinal(t *testing.T) {
	db := newTestDB(t)
	first, _ := db.AddSystemAlert("liquidation", "one", nil)
	second, _ := db.AddSystemAlert("liquidation", "two", nil)

	if err := db.MarkAlertSent(first.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	pending, err := db.GetPendingAlerts(10)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range pending {
		if a.ID == first.ID {
			t.Fatal("sent alert still pending")
		}
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if err := db.MarkAlertSent(first.ID); !errors.Is(err, ErrAlertAlreadySent) {
		t.Fatalf("second mark should report already sent, got %v", err)
	}
	if err := db.MarkAlertSent(9999); err == nil {
		t.Fatal("unknown id should fail")
	}
}

func TestGetPendingAlertsOrderAndFilter(t *testing.T) {
	db := newTestDB(t)
	db.AddSystemAlert("liquidation", "l1", nil)
	db.AddSystemAlert("whale", "w1", nil)
	db.AddSystemAlert("funding", "f1", nil)
	db.AddSystemAlert("whale", "w2", nil)

	all, _ := db.GetPendingAlerts(0)
	if len(all) != 4 || all[0].Message != "l1" || all[3].Message != "w2" {
		t.Fatalf("unexpected order %+v", all)
	}
	limited, _ := db.GetPendingAlerts(2)
	if len(limited) != 2 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
	whales, _ := db.GetPendingAlerts(10, "whale")
	if len(whales) != 2 || whales[0].Message != "w1" {
		t.Fatalf("type filter failed %+v", whales)
	}
}

func TestDeliverAlertRollsBackOnSendFailure(t *testing.T) {
	db := newTestDB(t)
	alert, _ := db.AddSystemAlert("whale", "msg", nil)

	err := db.DeliverAlert(context.Background(), alert.ID, func(SystemAlert) error {
		return errors.New("telegram down")
	})
	if err == nil {
		t.Fatal("send error should propagate")
	}
	pending, _ := db.GetPendingAlerts(10)
	if len(pending) != 1 {
		t.Fatal("failed send must leave the alert pending")
	}

	var got SystemAlert
	if err := db.DeliverAlert(context.Background(), alert.ID, func(a SystemAlert) error {
		got = a
		return nil
	}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got.Message != "msg" {
		t.Fatalf("send received %+v", got)
	}
	if err := db.DeliverAlert(context.Background(), alert.ID, func(SystemAlert) error { return nil }); !errors.Is(err, ErrAlertAlreadySent) {
		t.Fatalf("redelivery should be refused, got %v", err)
	}
}

func TestDeliverAlertAtMostOnceConcurrently(t *testing.T) {
	db := newTestDB(t)
	alert, _ := db.AddSystemAlert("whale", "msg", nil)

	var sends int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db.DeliverAlert(context.Background(), alert.ID, func(SystemAlert) error {
				atomic.AddInt32(&sends, 1)
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if sends != 1 {
		t.Fatalf("expected exactly one send, got %d", sends)
	}
}

func TestCleanupSentAlerts(t *testing.T) {
	db := newTestDB(t)
	old, _ := db.AddSystemAlert("whale", "old", nil)
	oldPending, _ := db.AddSystemAlert("whale", "old pending", nil)
	db.db.Model(&SystemAlert{}).Where("id IN ?", []uint{old.ID, oldPending.ID}).
		Update("created_at", time.Now().Add(-8*24*time.Hour))
	db.MarkAlertSent(old.ID)
	fresh, _ := db.AddSystemAlert("whale", "fresh", nil)
	db.MarkAlertSent(fresh.ID)

	n, err := db.CleanupSentAlerts(time.Now().Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	recent, _ := db.RecentAlerts(10)
	if len(recent) != 2 {
		t.Fatalf("pending and fresh alerts must survive, got %d", len(recent))
	}
}

func TestSubscriptions(t *testing.T) {
	db := newTestDB(t)
	threshold := decimal.NewFromInt(1_000_000)

	if _, err := db.Subscribe(42, "btc", []string{"whale"}, &threshold); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := db.Subscribe(42, "ETH", nil, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Upsert on (user, symbol).
	if _, err := db.Subscribe(42, "BTC", []string{"whale", "liquidation"}, &threshold); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}

	subs, _ := db.ListSubscriptions(42)
	if len(subs) != 2 || subs[0].Symbol != "BTC" || len(subs[0].AlertTypes) != 2 {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}

	match, _ := db.MatchingSubscriptions("BTC", "whale", decimal.NewFromInt(2_000_000))
	if len(match) != 1 {
		t.Fatalf("expected a match, got %d", len(match))
	}
	small, _ := db.MatchingSubscriptions("BTC", "whale", decimal.NewFromInt(500_000))
	if len(small) != 0 {
		t.Fatal("amount below user threshold must not match")
	}
	funding, _ := db.MatchingSubscriptions("BTC", "funding", decimal.NewFromInt(2_000_000))
	if len(funding) != 0 {
		t.Fatal("unsubscribed type must not match")
	}
	anyType, _ := db.MatchingSubscriptions("ETH", "funding", decimal.Zero)
	if len(anyType) != 1 {
		t.Fatal("empty type list should match everything")
	}

	ok, err := db.Unsubscribe(42, "btc")
	if err != nil || !ok {
		t.Fatalf("unsubscribe: %v %v", ok, err)
	}
	if ok, _ := db.Unsubscribe(42, "BTC"); ok {
		t.Fatal("second unsubscribe should be a no-op")
	}
	subs, _ = db.ListSubscriptions(42)
	if len(subs) != 1 || subs[0].Symbol != "ETH" {
		t.Fatalf("soft delete failed %+v", subs)
	}

	// Reactivation keeps the row unique.
	if _, err := db.Subscribe(42, "BTC", nil, nil); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	subs, _ = db.ListSubscriptions(42)
	if len(subs) != 2 {
		t.Fatalf("expected reactivated subscription, got %+v", subs)
	}
}

func TestWhaleTransactionDedup(t *testing.T) {
	db := newTestDB(t)
	tx := &WhaleTransaction{TransactionHash: "0xabc", Symbol: "BTC", Side: "buy", AmountUSD: decimal.NewFromInt(600000), Timestamp: time.Now()}

	inserted, err := db.SaveWhaleTransaction(tx)
	if err != nil || !inserted {
		t.Fatalf("first insert: %v %v", inserted, err)
	}
	dup := &WhaleTransaction{TransactionHash: "0xabc", Symbol: "BTC", Side: "buy", AmountUSD: decimal.NewFromInt(600000), Timestamp: time.Now()}
	inserted, err = db.SaveWhaleTransaction(dup)
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if inserted {
		t.Fatal("duplicate hash must not insert")
	}
}

func TestLiquidationEventsAndPrune(t *testing.T) {
	db := newTestDB(t)
	old := time.Now().Add(-10 * 24 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	db.SaveLiquidationEvent(&LiquidationEvent{Symbol: "BTC", Exchange: "Binance", LiquidationUSD: decimal.NewFromInt(1000), Side: "long", Timestamp: old})
	db.SaveLiquidationEvent(&LiquidationEvent{Symbol: "BTC", Exchange: "Binance", LiquidationUSD: decimal.NewFromInt(2000), Side: "short", Timestamp: recent})

	inserted, err := db.SaveLiquidationEvent(&LiquidationEvent{Symbol: "BTC", Exchange: "Binance", LiquidationUSD: decimal.NewFromInt(2000), Side: "short", Timestamp: recent})
	if err != nil || inserted {
		t.Fatalf("same order must be stored once: inserted=%v err=%v", inserted, err)
	}

	latest, err := db.LatestLiquidationTime("BTC", "Binance")
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Equal(recent) {
		t.Fatalf("latest %v, want %v", latest, recent)
	}

	n, err := db.PruneObservations(time.Now().Add(-7 * 24 * time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune: %d %v", n, err)
	}
	stats, _ := db.GetStats()
	if stats.LiquidationEvents != 1 {
		t.Fatalf("expected 1 event left, got %d", stats.LiquidationEvents)
	}
}
