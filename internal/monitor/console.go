package monitor

import (
	"context"

	"go.uber.org/zap"
)

// ConsoleChannel writes alerts to the process log, mapping event severity
// to log level.
type ConsoleChannel struct {
	gate
	log *zap.Logger
}

// NewConsoleChannel constructs a console channel.
func NewConsoleChannel(cfg ChannelConfig, log *zap.Logger) *ConsoleChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleChannel{gate: gate{cfg: cfg, kind: "console"}, log: log}
}

func (c *ConsoleChannel) Send(_ context.Context, event SecurityEvent) AlertResult {
	fields := []zap.Field{
		zap.String("eventId", event.ID),
		zap.String("type", event.Type),
		zap.String("ip", event.IP),
		zap.String("path", event.Path),
		zap.String("severity", string(event.Severity)),
		zap.Any("details", event.Details),
	}
	switch event.Severity {
	case SeverityCritical, SeverityHigh:
		c.log.Error("security alert", fields...)
	case SeverityMedium:
		c.log.Warn("security alert", fields...)
	default:
		c.log.Info("security alert", fields...)
	}
	return c.success()
}

var _ Channel = (*ConsoleChannel)(nil)
