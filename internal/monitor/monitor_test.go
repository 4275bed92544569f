package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"unmgate.org/internal/cache"
	"unmgate.org/internal/storage"
)

// countingStore counts GetMany calls to observe cache effectiveness.
type countingStore struct {
	storage.Store[SecurityEvent]
	mu      sync.Mutex
	getMany int
}

func (c *countingStore) GetMany(ctx context.Context, opts storage.QueryOptions) ([]SecurityEvent, error) {
	c.mu.Lock()
	c.getMany++
	c.mu.Unlock()
	return c.Store.GetMany(ctx, opts)
}

func (c *countingStore) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getMany
}

// failingStore refuses reads so the in-memory fallback is exercised.
type failingStore struct {
	storage.Store[SecurityEvent]
}

func (failingStore) GetMany(context.Context, storage.QueryOptions) ([]SecurityEvent, error) {
	return nil, storage.ErrUnavailable
}

func newTestMonitor(t *testing.T, opts ...Option) *Monitor {
	t.Helper()
	m := New(storage.NewMemoryStore[SecurityEvent](), cache.Noop{}, opts...)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

func TestLogEventPopulatesAndPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore[SecurityEvent]()
	m := New(store, cache.Noop{})
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	e := m.LogEvent(ctx, EventRequest{Type: EventUnauthorized, IP: "10.0.0.1", Path: "/api/music"})
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("event not populated: %+v", e)
	}
	if e.Severity != SeverityLow {
		t.Fatalf("severity = %q, want default low", e.Severity)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("stored event: %v", err)
	}
	if got.Type != EventUnauthorized {
		t.Fatalf("stored type = %q", got.Type)
	}
}

func TestRingBufferBounded(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(t, WithMaxEvents(3))
	for i := 0; i < 5; i++ {
		m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "10.0.0.1", Path: "/p"})
	}
	m.mu.RLock()
	n := len(m.events)
	m.mu.RUnlock()
	if n != 3 {
		t.Fatalf("buffer holds %d events, want 3", n)
	}
}

func TestSevereEventsAppendToDailyLog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m := New(storage.NewMemoryStore[SecurityEvent](), cache.Noop{},
		WithLogDir(dir),
		WithMonitorClock(func() time.Time { return now }))
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "1.2.3.4", Path: "/x", Severity: SeverityHigh})
	m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "1.2.3.4", Path: "/x", Severity: SeverityCritical})
	m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "1.2.3.4", Path: "/x", Severity: SeverityMedium})

	raw, err := os.ReadFile(filepath.Join(dir, "security-2026-08-31.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log holds %d lines, want 2 (medium excluded)", len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"severity"`) {
			t.Fatalf("line is not a JSON event: %q", line)
		}
	}
}

func TestGetEventsFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m := newTestMonitor(t, WithMonitorClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	m.LogEvent(ctx, EventRequest{Type: EventRateLimit, IP: "10.0.0.1", Path: "/a", Severity: SeverityMedium})
	m.LogEvent(ctx, EventRequest{Type: EventUnauthorized, IP: "10.0.0.2", Path: "/b", Severity: SeverityHigh})
	m.LogEvent(ctx, EventRequest{Type: EventUnauthorized, IP: "10.0.0.1", Path: "/c", Severity: SeverityHigh})

	got := m.GetEvents(ctx, QueryFilter{Type: EventUnauthorized})
	if len(got) != 2 {
		t.Fatalf("type filter returned %d events", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) {
		t.Fatal("events not sorted newest first")
	}

	got = m.GetEvents(ctx, QueryFilter{IP: "10.0.0.1", Severity: SeverityHigh})
	if len(got) != 1 || got[0].Path != "/c" {
		t.Fatalf("combined filter = %+v", got)
	}
}

func TestGetEventsDateRangePaginates(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	now := base
	m := newTestMonitor(t, WithMonitorClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	}))

	for i := 0; i < 5; i++ {
		m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "10.0.0.1", Path: "/p", Severity: SeverityMedium})
	}

	// End admits the oldest three; limit pages within that range.
	end := base.Add(3*time.Minute + time.Second)
	got := m.GetEvents(ctx, QueryFilter{End: end, Limit: 2})
	if len(got) != 2 {
		t.Fatalf("ranged query returned %d events, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("first page starts at %v", got[0].Timestamp)
	}

	got = m.GetEvents(ctx, QueryFilter{End: end, Limit: 2, Offset: 2})
	if len(got) != 1 || !got[0].Timestamp.Equal(base.Add(time.Minute)) {
		t.Fatalf("second page = %+v", got)
	}
}

func TestGetEventsFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore[SecurityEvent]()
	m := New(failingStore{mem}, cache.Noop{})
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "10.0.0.9", Path: "/z", Severity: SeverityMedium})
	got := m.GetEvents(ctx, QueryFilter{IP: "10.0.0.9"})
	if len(got) != 1 || got[0].Path != "/z" {
		t.Fatalf("fallback returned %+v", got)
	}
}

func TestGetStatsCountsAndCaches(t *testing.T) {
	ctx := context.Background()
	spy := &countingStore{Store: storage.NewMemoryStore[SecurityEvent]()}
	c := cache.NewMemory(time.Minute, 0)
	defer c.Close()
	m := New(spy, c)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for i := 0; i < 3; i++ {
		m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "1.1.1.1", Path: "/x", Severity: SeverityHigh})
	}
	for i := 0; i < 2; i++ {
		m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "2.2.2.2", Path: "/y", Severity: SeverityCritical})
	}

	st := m.GetStats(ctx)
	if st.Total != 5 {
		t.Fatalf("total = %d", st.Total)
	}
	if st.BySeverity[SeverityHigh] != 3 || st.BySeverity[SeverityCritical] != 2 {
		t.Fatalf("bySeverity = %v", st.BySeverity)
	}
	if st.ByIP["1.1.1.1"] != 3 || st.ByPath["/y"] != 2 {
		t.Fatalf("byIp = %v byPath = %v", st.ByIP, st.ByPath)
	}
	if st.ByType[EventRateLimit] != 0 {
		t.Fatal("known types must be zero-filled")
	}

	before := spy.calls()
	again := m.GetStats(ctx)
	if spy.calls() != before {
		t.Fatal("second GetStats within TTL must not re-scan storage")
	}
	if again.Total != st.Total {
		t.Fatalf("cached stats differ: %d vs %d", again.Total, st.Total)
	}
}

func TestDetectAnomalies(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(t)
	for i := 0; i < 12; i++ {
		m.LogEvent(ctx, EventRequest{Type: EventRateLimit, IP: "9.9.9.9", Path: "/hot"})
	}
	m.LogEvent(ctx, EventRequest{Type: EventRateLimit, IP: "9.9.9.9", Path: "/cold"})

	if !m.DetectAnomalies(ctx, "9.9.9.9", "/hot", time.Minute, 10) {
		t.Fatal("12 hits over threshold 10 should flag")
	}
	if m.DetectAnomalies(ctx, "9.9.9.9", "/cold", time.Minute, 10) {
		t.Fatal("single hit must not flag")
	}
	if m.DetectAnomalies(ctx, "8.8.8.8", "/hot", time.Minute, 10) {
		t.Fatal("other ip must not flag")
	}
}
