package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Channel is an alert sink. Send must never panic; failures come back as
// an unsuccessful AlertResult.
type Channel interface {
	Name() string
	Kind() string
	ShouldAlert(event SecurityEvent) bool
	Send(ctx context.Context, event SecurityEvent) AlertResult
}

// ChannelConfig is the gating shared by every channel kind.
type ChannelConfig struct {
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	MinSeverity Severity `json:"minSeverity"`
	EventTypes  []string `json:"eventTypes,omitempty"`
}

// gate implements the shared ShouldAlert logic.
type gate struct {
	cfg  ChannelConfig
	kind string
}

func (g gate) Name() string { return g.cfg.Name }
func (g gate) Kind() string { return g.kind }

func (g gate) ShouldAlert(event SecurityEvent) bool {
	if !g.cfg.Enabled {
		return false
	}
	if !event.Severity.AtLeast(g.cfg.MinSeverity) {
		return false
	}
	if len(g.cfg.EventTypes) > 0 {
		for _, t := range g.cfg.EventTypes {
			if t == event.Type {
				return true
			}
		}
		return false
	}
	return true
}

func (g gate) success() AlertResult {
	return AlertResult{Success: true, Channel: g.cfg.Name, Kind: g.kind}
}

func (g gate) failure(err error) AlertResult {
	return AlertResult{Success: false, Channel: g.cfg.Name, Kind: g.kind, Err: err}
}

// formatEvent renders an event for human-readable sinks.
func formatEvent(event SecurityEvent) string {
	lines := []string{
		"ID: " + event.ID,
		"Type: " + event.Type,
		"Time: " + event.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		"IP: " + event.IP,
		"Path: " + event.Path,
		"Severity: " + string(event.Severity),
	}
	if len(event.Details) > 0 {
		lines = append(lines, "Details:")
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("  %s: %v", k, event.Details[k]))
		}
	}
	return strings.Join(lines, "\n")
}
