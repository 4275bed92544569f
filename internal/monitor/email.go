package monitor

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailConfig extends the shared gating with SMTP settings.
type EmailConfig struct {
	ChannelConfig
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"-"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	gate
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel constructs an email channel.
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{
		gate: gate{cfg: cfg.ChannelConfig, kind: "email"},
		cfg:  cfg,
		send: smtp.SendMail,
	}
}

func (e *EmailChannel) Send(_ context.Context, event SecurityEvent) AlertResult {
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	subject := fmt.Sprintf("[%s] security event %s", strings.ToUpper(string(event.Severity)), event.Type)
	msg := strings.Join([]string{
		"From: " + e.cfg.From,
		"To: " + strings.Join(e.cfg.To, ", "),
		"Subject: " + subject,
		"",
		formatEvent(event),
	}, "\r\n")
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, []byte(msg)); err != nil {
		return e.failure(err)
	}
	return e.success()
}

var _ Channel = (*EmailChannel)(nil)
