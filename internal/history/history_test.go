package history

import (
	"testing"
	"time"
)

func TestAddPrunesOldEntries(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New[float64](24 * time.Hour)
	s.now = func() time.Time { return now }

	s.Add("BTC", now.Add(-30*time.Hour), 1)
	s.Add("BTC", now.Add(-25*time.Hour), 2)
	s.Add("BTC", now.Add(-2*time.Hour), 3)
	s.Add("BTC", now.Add(-time.Minute), 4)

	got := s.Entries("BTC")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	cutoff := now.Add(-24 * time.Hour)
	for _, e := range got {
		if e.At.Before(cutoff) {
			t.Fatalf("entry %v older than window", e.At)
		}
	}
	if got[0].Value != 3 || got[1].Value != 4 {
		t.Fatalf("entries out of order: %+v", got)
	}
}

func TestEntriesPruneOnRead(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New[int](time.Hour)
	s.now = func() time.Time { return now }

	s.Add("ETH", now, 1)
	now = now.Add(2 * time.Hour)

	if got := s.Entries("ETH"); len(got) != 0 {
		t.Fatalf("expected expired entries to be dropped, got %d", len(got))
	}
	if s.Len() != 0 || len(s.Keys()) != 0 {
		t.Fatal("expired key should be removed")
	}
}

func TestSinceFiltersAndPreservesOrder(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New[string](48 * time.Hour)
	s.now = func() time.Time { return now }

	for i, v := range []string{"a", "b", "c", "d"} {
		s.Add("SOL|Binance", now.Add(time.Duration(i-4)*time.Hour), v)
	}

	vals := s.Values("SOL|Binance", now.Add(-2*time.Hour))
	if len(vals) != 2 || vals[0] != "c" || vals[1] != "d" {
		t.Fatalf("unexpected values %v", vals)
	}
	if s.Len() != 4 {
		t.Fatalf("Since must not drop in-window entries, len=%d", s.Len())
	}
}

func TestKeysAreIndependent(t *testing.T) {
	s := New[int](time.Hour)
	s.Add("BTC", time.Now(), 1)
	s.Add("ETH", time.Now(), 2)
	s.Add("ETH", time.Now(), 3)

	if len(s.Entries("BTC")) != 1 || len(s.Entries("ETH")) != 2 {
		t.Fatal("keys should not share entries")
	}
	if len(s.Keys()) != 2 {
		t.Fatalf("expected 2 keys, got %v", s.Keys())
	}
}
