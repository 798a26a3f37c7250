package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type overview struct {
	Indices []string `json:"indices"`
	Open    bool     `json:"marketOpen"`
}

func exerciseStore(t *testing.T, s Store, clock *fakeClock) {
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing", time.Hour); ok || err != nil {
		t.Errorf("Expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := SetJSON(ctx, s, KeyMarketOverview, overview{Indices: []string{"^GSPC"}, Open: true}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got overview
	if !GetJSON(ctx, s, KeyMarketOverview, TTLMarketOverview, &got) {
		t.Fatal("Expected a fresh hit")
	}
	if len(got.Indices) != 1 || !got.Open {
		t.Errorf("Expected round-tripped value, got %+v", got)
	}

	clock.Advance(TTLMarketOverview + time.Second)
	if GetJSON(ctx, s, KeyMarketOverview, TTLMarketOverview, &got) {
		t.Error("Expected expired entry to miss")
	}

	var stale overview
	if !GetStaleJSON(ctx, s, KeyMarketOverview, &stale) {
		t.Error("Expected stale read to hit")
	}

	if err := s.Set(ctx, KeyMarketOverview, []byte(`{"indices":[],"marketOpen":false}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !GetJSON(ctx, s, KeyMarketOverview, TTLMarketOverview, &got) {
		t.Fatal("Expected overwrite to refresh the timestamp")
	}
	if got.Open {
		t.Error("Expected overwritten value")
	}
}

func TestMemoryStore(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	exerciseStore(t, NewMemoryStoreWithClock(clock.Now), clock)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	clock := &fakeClock{t: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	exerciseStore(t, s, clock)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	value := []byte(`{"a":1}`)
	_ = s.Set(ctx, "k", value)
	value[0] = 'X'

	got, ok, _ := s.GetStale(ctx, "k")
	if !ok || string(got) != `{"a":1}` {
		t.Errorf("Expected stored copy, got %s", got)
	}
}

func TestGetJSONBadPayload(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Set(context.Background(), "k", []byte("not json"))

	var out map[string]any
	if GetJSON(context.Background(), s, "k", time.Hour, &out) {
		t.Error("Expected undecodable value to miss")
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{}, false},
		{Config{Driver: DriverMemory}, false},
		{Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "c.db")}, false},
		{Config{Driver: DriverPostgres}, true},
		{Config{Driver: "redis"}, true},
	}

	for _, tt := range tests {
		s, err := Open(context.Background(), tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("Open(%+v): expected error=%v, got %v", tt.cfg, tt.wantErr, err)
		}
		if s != nil {
			s.Close()
		}
	}
}

func TestEnsureSSLMode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db.example.com:5432/app", "postgres://u:p@db.example.com:5432/app?sslmode=require"},
		{"postgres://u:p@localhost/app?sslmode=disable", "postgres://u:p@localhost/app?sslmode=disable"},
	}

	for _, tt := range tests {
		if got := ensureSSLMode(tt.in); got != tt.want {
			t.Errorf("ensureSSLMode(%s): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
