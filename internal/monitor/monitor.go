package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"unmgate.org/internal/cache"
	"unmgate.org/internal/obs"
	"unmgate.org/internal/storage"
)

const (
	defaultMaxEvents  = 1000
	defaultQueryLimit = 100
	statsTTL          = 5 * time.Minute
	perChannelTimeout = 10 * time.Second
	statsCacheKey     = "stats:security"
)

// Monitor records security events to a bounded in-memory buffer, durable
// storage and, for severe events, day-partitioned append logs, then fans
// them out to alert channels.
type Monitor struct {
	store        storage.Store[SecurityEvent]
	cache        cache.Cache
	logDir       string
	maxEvents    int
	alertEnabled bool
	log          *zap.Logger
	now          func() time.Time

	mu       sync.RWMutex
	events   []SecurityEvent
	channels []Channel

	wg sync.WaitGroup
}

// Option configures Monitor behavior.
type Option func(*Monitor)

// WithMaxEvents bounds the in-memory buffer.
func WithMaxEvents(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxEvents = n
		}
	}
}

// WithAlerting toggles channel dispatch.
func WithAlerting(enabled bool) Option {
	return func(m *Monitor) { m.alertEnabled = enabled }
}

// WithLogDir sets the directory for severe-event append logs. Empty
// disables file logging.
func WithLogDir(dir string) Option {
	return func(m *Monitor) { m.logDir = dir }
}

// WithMonitorClock overrides time source (useful for tests).
func WithMonitorClock(fn func() time.Time) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithMonitorLogger sets the monitor logger.
func WithMonitorLogger(log *zap.Logger) Option {
	return func(m *Monitor) {
		if log != nil {
			m.log = log
		}
	}
}

// New constructs a Monitor over the given event store. statsCache may be
// cache.Noop to disable stats memoization.
func New(store storage.Store[SecurityEvent], statsCache cache.Cache, opts ...Option) *Monitor {
	m := &Monitor{
		store:     store,
		cache:     statsCache,
		maxEvents: defaultMaxEvents,
		log:       zap.NewNop(),
		now:       time.Now,
	}
	if m.cache == nil {
		m.cache = cache.Noop{}
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logDir != "" {
		if err := os.MkdirAll(m.logDir, 0o750); err != nil {
			m.log.Error("security log directory create failed", zap.String("dir", m.logDir), zap.Error(err))
			m.logDir = ""
		}
	}
	return m
}

// Initialize prepares the event store.
func (m *Monitor) Initialize(ctx context.Context) error {
	return m.store.Initialize(ctx)
}

// AddChannel registers an alert sink.
func (m *Monitor) AddChannel(ch Channel) {
	m.mu.Lock()
	m.channels = append(m.channels, ch)
	m.mu.Unlock()
	m.log.Info("alert channel added", zap.String("channel", ch.Name()), zap.String("kind", ch.Kind()))
}

// LogEvent records an event and dispatches alerts asynchronously. The
// returned event is fully populated; persistence failures are logged and
// never propagated.
func (m *Monitor) LogEvent(ctx context.Context, req EventRequest) SecurityEvent {
	severity := req.Severity
	if severity == "" {
		severity = SeverityLow
	}
	event := SecurityEvent{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Timestamp: m.now().UTC(),
		IP:        req.IP,
		Path:      req.Path,
		Severity:  severity,
		Details:   req.Details,
	}

	m.mu.Lock()
	m.events = append(m.events, event)
	if len(m.events) > m.maxEvents {
		m.events = m.events[1:]
	}
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.Unlock()

	obs.RecordSecurityEvent(event.Type, string(event.Severity))
	m.log.Warn("security event",
		zap.String("eventId", event.ID),
		zap.String("type", event.Type),
		zap.String("ip", event.IP),
		zap.String("path", event.Path),
		zap.String("severity", string(event.Severity)))

	if event.Severity.AtLeast(SeverityHigh) {
		m.appendSevere(event)
	}

	if err := m.store.Create(ctx, event.ID, event); err != nil {
		m.log.Error("security event persist failed", zap.String("eventId", event.ID), zap.Error(err))
	}

	if m.alertEnabled && len(channels) > 0 {
		m.dispatch(event, channels)
	}
	return event
}

// Record adapts LogEvent for emitters that only know type, severity and
// details. IP and path are lifted from details when present.
func (m *Monitor) Record(ctx context.Context, eventType, severity string, details map[string]any) {
	ip, _ := details["ip"].(string)
	path, _ := details["path"].(string)
	if ip == "" {
		ip = "internal"
	}
	m.LogEvent(ctx, EventRequest{
		Type:     eventType,
		IP:       ip,
		Path:     path,
		Severity: Severity(severity),
		Details:  details,
	})
}

// appendSevere writes one JSON line per severe event to the current
// day's log file.
func (m *Monitor) appendSevere(event SecurityEvent) {
	if m.logDir == "" {
		return
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	name := filepath.Join(m.logDir, "security-"+event.Timestamp.Format("2006-01-02")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		m.log.Error("security log open failed", zap.String("file", name), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		m.log.Error("security log write failed", zap.String("file", name), zap.Error(err))
	}
}

// dispatch fans the event out, one goroutine and one deadline per
// channel, so a slow or failing sink never blocks another or the caller.
func (m *Monitor) dispatch(event SecurityEvent, channels []Channel) {
	for _, ch := range channels {
		if !ch.ShouldAlert(event) {
			continue
		}
		m.wg.Add(1)
		go func(ch Channel) {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), perChannelTimeout)
			defer cancel()
			res := ch.Send(ctx, event)
			obs.RecordAlertDelivery(ch.Kind(), res.Success)
			if !res.Success {
				m.log.Error("alert delivery failed",
					zap.String("channel", res.Channel),
					zap.String("kind", res.Kind),
					zap.String("eventId", event.ID),
					zap.Error(res.Err))
			}
		}(ch)
	}
}

// Flush waits for in-flight alert deliveries. Called on shutdown.
func (m *Monitor) Flush() { m.wg.Wait() }

// GetEvents returns matching events, newest first. Storage is preferred;
// on storage failure the in-memory buffer answers.
func (m *Monitor) GetEvents(ctx context.Context, f QueryFilter) []SecurityEvent {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	filter := map[string]any{}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.Severity != "" {
		filter["severity"] = string(f.Severity)
	}
	if f.IP != "" {
		filter["ip"] = f.IP
	}

	// Limit and offset apply after the date range, so the query fetches
	// unbounded and pages here.
	stored, err := m.store.GetMany(ctx, storage.QueryOptions{
		Filter: filter,
		Sort:   &storage.Sort{Field: "timestamp", Order: storage.Desc},
	})
	if err == nil {
		out := filterByDate(stored, f.Start, f.End)
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
		if len(out) > limit {
			out = out[:limit]
		}
		return out
	}
	m.log.Error("security event query fell back to memory", zap.Error(err))

	m.mu.RLock()
	buf := make([]SecurityEvent, len(m.events))
	copy(buf, m.events)
	m.mu.RUnlock()

	var out []SecurityEvent
	for _, e := range buf {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if f.IP != "" && e.IP != f.IP {
			continue
		}
		out = append(out, e)
	}
	out = filterByDate(out, f.Start, f.End)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Offset >= len(out) {
		return nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetStats aggregates event counts, serving a memoized copy for up to
// five minutes.
func (m *Monitor) GetStats(ctx context.Context) Stats {
	if raw, ok := m.cache.Get(ctx, statsCacheKey); ok {
		var st Stats
		if err := json.Unmarshal(raw, &st); err == nil {
			return st
		}
	}

	events, err := m.store.GetMany(ctx, storage.QueryOptions{})
	if err != nil {
		m.log.Error("stats query fell back to memory", zap.Error(err))
		m.mu.RLock()
		events = make([]SecurityEvent, len(m.events))
		copy(events, m.events)
		m.mu.RUnlock()
	}

	st := Stats{
		Total:      len(events),
		ByType:     make(map[string]int, len(KnownEventTypes)),
		BySeverity: make(map[Severity]int, len(KnownSeverities)),
		ByIP:       make(map[string]int),
		ByPath:     make(map[string]int),
		ByHour:     make(map[string]int),
	}
	for _, t := range KnownEventTypes {
		st.ByType[t] = 0
	}
	for _, s := range KnownSeverities {
		st.BySeverity[s] = 0
	}
	for _, e := range events {
		st.ByType[e.Type]++
		st.BySeverity[e.Severity]++
		st.ByIP[e.IP]++
		st.ByPath[e.Path]++
		st.ByHour[e.Timestamp.UTC().Format("2006-01-02T15")]++
	}

	if raw, err := json.Marshal(st); err == nil {
		m.cache.Set(ctx, statsCacheKey, raw, statsTTL)
	}
	return st
}

// DetectAnomalies reports whether ip hit path more than threshold times
// within the trailing window. A fixed-window count, not a rate.
func (m *Monitor) DetectAnomalies(ctx context.Context, ip, path string, window time.Duration, threshold int) bool {
	if window <= 0 {
		window = time.Minute
	}
	if threshold <= 0 {
		threshold = 10
	}
	now := m.now().UTC()
	events := m.GetEvents(ctx, QueryFilter{
		IP:    ip,
		Start: now.Add(-window),
		End:   now,
		Limit: m.maxEvents,
	})
	count := 0
	for _, e := range events {
		if e.Path == path {
			count++
		}
	}
	return count > threshold
}

func filterByDate(events []SecurityEvent, start, end time.Time) []SecurityEvent {
	if start.IsZero() && end.IsZero() {
		return events
	}
	out := events[:0:0]
	for _, e := range events {
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}
