package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"unmgate.org/internal/cache"
	"unmgate.org/internal/storage"
)

func TestShouldAlertGating(t *testing.T) {
	event := func(sev Severity, typ string) SecurityEvent {
		return SecurityEvent{Severity: sev, Type: typ}
	}
	cases := []struct {
		name string
		cfg  ChannelConfig
		ev   SecurityEvent
		want bool
	}{
		{"disabled", ChannelConfig{Enabled: false, MinSeverity: SeverityInfo}, event(SeverityCritical, EventSuspicious), false},
		{"below threshold", ChannelConfig{Enabled: true, MinSeverity: SeverityHigh}, event(SeverityMedium, EventSuspicious), false},
		{"at threshold", ChannelConfig{Enabled: true, MinSeverity: SeverityHigh}, event(SeverityHigh, EventSuspicious), true},
		{"above threshold", ChannelConfig{Enabled: true, MinSeverity: SeverityLow}, event(SeverityCritical, EventSuspicious), true},
		{"type allowed", ChannelConfig{Enabled: true, MinSeverity: SeverityInfo, EventTypes: []string{EventRateLimit}}, event(SeverityHigh, EventRateLimit), true},
		{"type excluded", ChannelConfig{Enabled: true, MinSeverity: SeverityInfo, EventTypes: []string{EventRateLimit}}, event(SeverityHigh, EventSuspicious), false},
	}
	for _, tc := range cases {
		g := gate{cfg: tc.cfg, kind: "test"}
		if got := g.ShouldAlert(tc.ev); got != tc.want {
			t.Errorf("%s: ShouldAlert = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if !SeverityCritical.AtLeast(SeverityHigh) || SeverityLow.AtLeast(SeverityMedium) {
		t.Fatal("AtLeast ordering broken")
	}
}

func TestWebhookChannelDelivers(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{
		ChannelConfig: ChannelConfig{Name: "hook", Enabled: true, MinSeverity: SeverityMedium},
		URL:           srv.URL,
	})
	res := ch.Send(context.Background(), SecurityEvent{ID: "e1", Type: EventSuspicious, Severity: SeverityHigh})
	if !res.Success {
		t.Fatalf("Send failed: %v", res.Err)
	}
	if got.Event.ID != "e1" || got.Source != "unmgate" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestWebhookChannelRetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{
		ChannelConfig: ChannelConfig{Name: "hook", Enabled: true},
		URL:           srv.URL,
		Retries:       2,
	})
	ch.client.RetryWaitMin = time.Millisecond
	ch.client.RetryWaitMax = 5 * time.Millisecond

	res := ch.Send(context.Background(), SecurityEvent{ID: "e1", Type: EventSuspicious, Severity: SeverityHigh})
	if res.Success {
		t.Fatal("exhausted retries must fail")
	}
	if res.Err == nil {
		t.Fatal("failure must carry the last error")
	}
	if hits.Load() != 2 {
		t.Fatalf("server hit %d times, want 2", hits.Load())
	}
}

func TestEmailChannelBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	ch := NewEmailChannel(EmailConfig{
		ChannelConfig: ChannelConfig{Name: "mail", Enabled: true, MinSeverity: SeverityHigh},
		Host:          "smtp.test",
		Port:          25,
		From:          "alerts@unmgate.test",
		To:            []string{"ops@unmgate.test"},
	})
	ch.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	res := ch.Send(context.Background(), SecurityEvent{
		ID: "e1", Type: EventSuspicious, Severity: SeverityCritical,
		IP: "1.2.3.4", Path: "/x",
	})
	if !res.Success {
		t.Fatalf("Send failed: %v", res.Err)
	}
	if gotAddr != "smtp.test:25" || gotFrom != "alerts@unmgate.test" || len(gotTo) != 1 {
		t.Fatalf("addr=%q from=%q to=%v", gotAddr, gotFrom, gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "Subject: [CRITICAL] security event suspicious") {
		t.Fatalf("message missing subject: %q", body)
	}
	if !strings.Contains(body, "IP: 1.2.3.4") {
		t.Fatalf("message missing event details: %q", body)
	}
}

// recordingChannel captures dispatched events.
type recordingChannel struct {
	gate
	mu     sync.Mutex
	events []SecurityEvent
	fail   bool
}

func (r *recordingChannel) Send(_ context.Context, event SecurityEvent) AlertResult {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if r.fail {
		return r.failure(errors.New("sink down"))
	}
	return r.success()
}

func TestDispatchRespectsGatingAndIsolation(t *testing.T) {
	ctx := context.Background()
	m := New(storage.NewMemoryStore[SecurityEvent](), cache.Noop{}, WithAlerting(true))
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	broken := &recordingChannel{gate: gate{cfg: ChannelConfig{Name: "broken", Enabled: true, MinSeverity: SeverityInfo}, kind: "test"}, fail: true}
	picky := &recordingChannel{gate: gate{cfg: ChannelConfig{Name: "picky", Enabled: true, MinSeverity: SeverityCritical}, kind: "test"}}
	open := &recordingChannel{gate: gate{cfg: ChannelConfig{Name: "open", Enabled: true, MinSeverity: SeverityInfo}, kind: "test"}}
	m.AddChannel(broken)
	m.AddChannel(picky)
	m.AddChannel(open)

	m.LogEvent(ctx, EventRequest{Type: EventSuspicious, IP: "1.1.1.1", Path: "/x", Severity: SeverityHigh})
	m.Flush()

	if len(open.events) != 1 {
		t.Fatalf("open channel got %d events, want 1", len(open.events))
	}
	if len(picky.events) != 0 {
		t.Fatal("below-threshold channel must not receive the event")
	}
	// The failing channel was attempted and its failure stayed isolated.
	if len(broken.events) != 1 {
		t.Fatal("failing channel should still be attempted")
	}
}

func TestConsoleChannelSendsAtAllSeverities(t *testing.T) {
	ch := NewConsoleChannel(ChannelConfig{Name: "console", Enabled: true, MinSeverity: SeverityInfo}, zap.NewNop())
	for _, sev := range KnownSeverities {
		res := ch.Send(context.Background(), SecurityEvent{ID: "e", Type: EventSuspicious, Severity: sev})
		if !res.Success {
			t.Fatalf("console send failed at %s", sev)
		}
	}
}
