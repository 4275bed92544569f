// Package monitor records security events, aggregates statistics and
// fans severe events out to alert channels.
package monitor

import "time"

// Severity orders security events from informational to critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric order of s; unknown severities rank lowest.
func (s Severity) Rank() int { return severityRank[s] }

// AtLeast reports whether s is min or more severe.
func (s Severity) AtLeast(min Severity) bool { return s.Rank() >= min.Rank() }

// Known event types.
const (
	EventRateLimit    = "rate_limit"
	EventInvalidInput = "invalid_input"
	EventUnauthorized = "unauthorized"
	EventSuspicious   = "suspicious"
	EventKeyCreated   = "api_key_created"
	EventKeyRevoked   = "api_key_revoked"
	EventKeyExpired   = "api_key_expired"
	EventKeyRefreshed = "api_key_refreshed"
)

// KnownEventTypes lists every bundled event type, used to zero-fill
// statistics.
var KnownEventTypes = []string{
	EventRateLimit, EventInvalidInput, EventUnauthorized, EventSuspicious,
	EventKeyCreated, EventKeyRevoked, EventKeyExpired, EventKeyRefreshed,
}

// KnownSeverities lists every severity in rank order.
var KnownSeverities = []Severity{
	SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical,
}

// SecurityEvent is an immutable record of a security-relevant occurrence.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	IP        string         `json:"ip"`
	Path      string         `json:"path"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventRequest describes an event to record. Severity defaults to low.
type EventRequest struct {
	Type     string         `json:"type"`
	IP       string         `json:"ip"`
	Path     string         `json:"path"`
	Severity Severity       `json:"severity,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// QueryFilter narrows GetEvents results. Zero values mean no constraint;
// Limit defaults to 100.
type QueryFilter struct {
	Type     string
	Severity Severity
	IP       string
	Start    time.Time
	End      time.Time
	Limit    int
	Offset   int
}

// Stats aggregates counts over all recorded events.
type Stats struct {
	Total      int              `json:"total"`
	ByType     map[string]int   `json:"byType"`
	BySeverity map[Severity]int `json:"bySeverity"`
	ByIP       map[string]int   `json:"byIp"`
	ByPath     map[string]int   `json:"byPath"`
	ByHour     map[string]int   `json:"byHour"`
}

// AlertResult reports one channel's delivery attempt.
type AlertResult struct {
	Success bool   `json:"success"`
	Channel string `json:"channel"`
	Kind    string `json:"kind"`
	Err     error  `json:"-"`
}
