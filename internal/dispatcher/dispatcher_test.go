package dispatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/web3guy0/glasswatch/internal/database"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]bool
}

func (s *fakeSender) SendToChannel(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails[text] {
		return errors.New("telegram: chat not found")
	}
	s.sent = append(s.sent, text)
	return nil
}

type fakePublisher struct {
	alerts []database.SystemAlert
}

func (p *fakePublisher) Publish(a database.SystemAlert) { p.alerts = append(p.alerts, a) }

func TestBroadcastPolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy BroadcastPolicy
		whale  bool
		liq    bool
	}{
		{"broadcast all", BroadcastPolicy{BroadcastAll: true}, true, true},
		{"whale override", BroadcastPolicy{WhaleOverride: true}, true, false},
		{"all off", BroadcastPolicy{}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Allows("whale"); got != tc.whale {
				t.Fatalf("whale: got %v want %v", got, tc.whale)
			}
			if got := tc.policy.Allows("liquidation"); got != tc.liq {
				t.Fatalf("liquidation: got %v want %v", got, tc.liq)
			}
		})
	}
}

func TestDispatchSendsPendingInOrder(t *testing.T) {
	db := newTestDB(t)
	db.AddSystemAlert("liquidation", "first", nil)
	db.AddSystemAlert("whale", "second", nil)
	db.AddSystemAlert("funding", "third", nil)

	sender := &fakeSender{}
	pub := &fakePublisher{}
	d := New(db, sender, pub, BroadcastPolicy{BroadcastAll: true}, 10)

	res, err := d.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Sent != 3 {
		t.Fatalf("expected 3 sent, got %+v", res)
	}
	if len(sender.sent) != 3 || sender.sent[0] != "first" || sender.sent[2] != "third" {
		t.Fatalf("unexpected send order %v", sender.sent)
	}
	if len(pub.alerts) != 3 || !pub.alerts[0].IsSent {
		t.Fatalf("published alerts should be marked sent: %+v", pub.alerts)
	}

	// Nothing left to send.
	res, _ = d.Dispatch(context.Background())
	if res.Sent != 0 || len(sender.sent) != 3 {
		t.Fatalf("alerts were sent twice: %+v", res)
	}
}

func TestDispatchWhaleOverride(t *testing.T) {
	db := newTestDB(t)
	db.AddSystemAlert("whale", "🐋 whale", nil)
	db.AddSystemAlert("liquidation", "💥 liquidation", nil)

	sender := &fakeSender{}
	d := New(db, sender, nil, BroadcastPolicy{BroadcastAll: false, WhaleOverride: true}, 10)

	if _, err := d.Dispatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "🐋 whale" {
		t.Fatalf("only the whale alert should be sent, got %v", sender.sent)
	}
	pending, _ := db.GetPendingAlerts(10)
	if len(pending) != 1 || pending[0].AlertType != "liquidation" || pending[0].IsSent {
		t.Fatalf("liquidation alert must stay pending: %+v", pending)
	}
}

func TestDispatchFilteredTypesDoNotStarveBatch(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		db.AddSystemAlert("liquidation", "liq", nil)
	}
	db.AddSystemAlert("whale", "whale", nil)

	sender := &fakeSender{}
	d := New(db, sender, nil, BroadcastPolicy{WhaleOverride: true}, 2)
	d.Dispatch(context.Background())

	if len(sender.sent) != 1 || sender.sent[0] != "whale" {
		t.Fatalf("whale alert behind filtered rows was not sent: %v", sender.sent)
	}
}

func TestDispatchBroadcastDisabled(t *testing.T) {
	db := newTestDB(t)
	db.AddSystemAlert("whale", "w", nil)

	sender := &fakeSender{}
	d := New(db, sender, nil, BroadcastPolicy{}, 10)
	res, err := d.Dispatch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 || len(sender.sent) != 0 {
		t.Fatalf("nothing should be sent: %+v", res)
	}
	if n, _ := db.PendingCount(); n != 1 {
		t.Fatalf("alert must remain pending, got %d", n)
	}
}

func TestDispatchFailureLeavesAlertPending(t *testing.T) {
	db := newTestDB(t)
	db.AddSystemAlert("whale", "bad", nil)
	db.AddSystemAlert("whale", "good", nil)

	sender := &fakeSender{fails: map[string]bool{"bad": true}}
	d := New(db, sender, nil, BroadcastPolicy{BroadcastAll: true}, 10)

	res, err := d.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("a send failure must not abort the pass: %v", err)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	pending, _ := db.GetPendingAlerts(10)
	if len(pending) != 1 || pending[0].Message != "bad" {
		t.Fatalf("failed alert should stay pending: %+v", pending)
	}

	// Retried on the next pass once the channel recovers.
	sender.fails = nil
	res, _ = d.Dispatch(context.Background())
	if res.Sent != 1 {
		t.Fatalf("retry should deliver, got %+v", res)
	}
}

func TestDispatchRespectsBatchSize(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		db.AddSystemAlert("funding", "f", nil)
	}
	d := New(db, &fakeSender{}, nil, BroadcastPolicy{BroadcastAll: true}, 2)
	res, _ := d.Dispatch(context.Background())
	if res.Sent != 2 {
		t.Fatalf("expected batch of 2, got %+v", res)
	}
	if n, _ := db.PendingCount(); n != 3 {
		t.Fatalf("expected 3 pending, got %d", n)
	}
}

func TestBreakerStopsPassAfterConsecutiveFailures(t *testing.T) {
	db := newTestDB(t)
	for _, msg := range []string{"a", "b", "c", "d"} {
		db.AddSystemAlert("whale", msg, nil)
	}

	sender := &fakeSender{fails: map[string]bool{"a": true, "b": true, "c": true, "d": true}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	breaker := NewBreaker(2, time.Minute)
	breaker.now = func() time.Time { return now }
	d := New(db, sender, nil, BroadcastPolicy{BroadcastAll: true}, 10).WithBreaker(breaker)

	res, err := d.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Failed != 2 || !breaker.IsTripped() {
		t.Fatalf("expected the pass to stop after 2 failures: %+v tripped=%v", res, breaker.IsTripped())
	}

	// Open breaker: the next pass does not touch the channel.
	sender.fails = nil
	res, _ = d.Dispatch(context.Background())
	if res.Sent != 0 || len(sender.sent) != 0 {
		t.Fatalf("sent while breaker open: %+v", res)
	}

	now = now.Add(time.Minute)
	res, _ = d.Dispatch(context.Background())
	if res.Sent != 4 {
		t.Fatalf("expected all 4 delivered after cooldown, got %+v", res)
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.IsTripped() {
		t.Fatal("non-consecutive failures must not trip")
	}
	b.RecordFailure()
	if !b.IsTripped() {
		t.Fatal("two consecutive failures must trip")
	}
}
