package rotation

import (
	"context"
	"errors"
	"testing"
	"time"
)

var pool = []Sender{
	{Name: "Alice", Email: "alice@pool.example"},
	{Name: "Bob", Email: "bob@pool.example"},
	{Name: "Carol", Email: "carol@pool.example"},
}

func TestNextSenderCyclesFairly(t *testing.T) {
	svc := NewService(pool, NewMemoryStore(), 300, 5, time.UTC)

	want := []string{"alice", "bob", "carol", "alice", "bob", "carol", "alice"}
	for i, name := range want {
		sd, err := svc.NextSender(context.Background())
		if err != nil {
			t.Fatalf("NextSender #%d: %v", i, err)
		}
		if sd.Email != name+"@pool.example" {
			t.Fatalf("call %d returned %s, want %s", i, sd.Email, name)
		}
	}
}

func TestNextSenderSkipsCappedSender(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(pool, store, 2, 5, time.UTC)

	// Exhaust bob for the day.
	for i := 0; i < 2; i++ {
		if _, err := svc.RecordSent(context.Background(), "bob@pool.example", 1); err != nil {
			t.Fatalf("RecordSent: %v", err)
		}
	}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		sd, err := svc.NextSender(context.Background())
		if err != nil {
			t.Fatalf("NextSender: %v", err)
		}
		seen[sd.Email] = true
	}
	if seen["bob@pool.example"] {
		t.Fatalf("capped sender was still rotated in")
	}
}

func TestNextSenderAllCapped(t *testing.T) {
	svc := NewService(pool, NewMemoryStore(), 1, 5, time.UTC)
	for _, sd := range pool {
		if _, err := svc.RecordSent(context.Background(), sd.Email, 1); err != nil {
			t.Fatalf("RecordSent: %v", err)
		}
	}
	if _, err := svc.NextSender(context.Background()); !errors.Is(err, ErrAllCapped) {
		t.Fatalf("err = %v, want ErrAllCapped", err)
	}
}

func TestRecordSentStopsAtCap(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(pool, store, 2, 5, time.UTC)

	if n, err := svc.RecordSent(context.Background(), "alice@pool.example", 1); err != nil || n != 1 {
		t.Fatalf("first send: n=%d err=%v", n, err)
	}
	if n, err := svc.RecordSent(context.Background(), "alice@pool.example", 1); err != nil || n != 2 {
		t.Fatalf("second send: n=%d err=%v", n, err)
	}
	n, err := svc.RecordSent(context.Background(), "alice@pool.example", 1)
	if !errors.Is(err, ErrDailyCapReached) {
		t.Fatalf("third send err = %v, want ErrDailyCapReached", err)
	}
	if n != 2 {
		t.Fatalf("reported count = %d, want cap", n)
	}
	// The refused charge must not have touched the persisted counter.
	if sent, _ := store.SentCount(context.Background(), "alice@pool.example", svc.Day()); sent != 2 {
		t.Fatalf("stored counter = %d after refusal, want 2", sent)
	}
}

func TestRecordSentRefusesWholeBatchOverCap(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(pool, store, 5, 5, time.UTC)

	if _, err := svc.RecordSent(context.Background(), "alice@pool.example", 3); err != nil {
		t.Fatalf("RecordSent: %v", err)
	}
	// 3 already charged; a batch of 3 more would land at 6 > 5.
	if _, err := svc.RecordSent(context.Background(), "alice@pool.example", 3); !errors.Is(err, ErrDailyCapReached) {
		t.Fatalf("err = %v, want ErrDailyCapReached", err)
	}
	if sent, _ := store.SentCount(context.Background(), "alice@pool.example", svc.Day()); sent != 3 {
		t.Fatalf("stored counter = %d, want 3 untouched by the refused batch", sent)
	}
	// A smaller batch that fits still goes through.
	if n, err := svc.RecordSent(context.Background(), "alice@pool.example", 2); err != nil || n != 5 {
		t.Fatalf("fitting batch: n=%d err=%v", n, err)
	}
}

func TestCountersResetAtLocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	svc := NewService(pool, NewMemoryStore(), 2, 5, loc)

	now := time.Date(2026, 1, 2, 4, 30, 0, 0, time.UTC) // 23:30 on Jan 1 local
	svc.clock = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, err := svc.RecordSent(context.Background(), "alice@pool.example", 1); err != nil {
			t.Fatalf("RecordSent: %v", err)
		}
	}
	if rem, _ := svc.RemainingToday(context.Background(), "alice@pool.example"); rem != 0 {
		t.Fatalf("remaining = %d, want 0 at cap", rem)
	}

	// One local hour later it is a new day; the budget is whole again.
	now = now.Add(time.Hour)
	if svc.Day() != "2026-01-02" {
		t.Fatalf("day = %s, want rollover", svc.Day())
	}
	rem, err := svc.RemainingToday(context.Background(), "alice@pool.example")
	if err != nil || rem != 2 {
		t.Fatalf("remaining after midnight = %d err=%v, want full cap", rem, err)
	}
}

func TestScheduleReportsPerSenderState(t *testing.T) {
	svc := NewService(pool, NewMemoryStore(), 300, 5, time.UTC)
	if _, err := svc.RecordSent(context.Background(), "carol@pool.example", 1); err != nil {
		t.Fatalf("RecordSent: %v", err)
	}

	sts, err := svc.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(sts) != 3 {
		t.Fatalf("statuses = %d, want 3", len(sts))
	}
	for _, st := range sts {
		want := 300
		sent := 0
		if st.Sender.Email == "carol@pool.example" {
			want, sent = 299, 1
		}
		if st.Remaining != want || st.SentToday != sent {
			t.Fatalf("status %+v, want sent=%d remaining=%d", st, sent, want)
		}
	}
}
