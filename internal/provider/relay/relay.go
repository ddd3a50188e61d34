// Package relay implements a Provider that hands messages to an upstream
// SMTP server.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/smtp-queue-lite/internal/email"
	"github.com/shineum/smtp-queue-lite/internal/provider"
)

// Config holds the upstream server settings.
type Config struct {
	// Addr is host:port of the upstream server.
	Addr string
	// Username and Password enable AUTH PLAIN when both are set.
	Username string
	Password string
	// Sender replaces the From address when set.
	Sender string
}

// Provider relays messages over SMTP. STARTTLS is used whenever the
// upstream advertises it.
type Provider struct {
	cfg      Config
	sendMail func(addr string, a sasl.Client, from string, to []string, msg []byte) error
}

var _ provider.Provider = (*Provider)(nil)

// New creates a relay Provider.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg, sendMail: sendMail}
}

func sendMail(addr string, a sasl.Client, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, a, from, to, bytes.NewReader(msg))
}

// Send renders msg and delivers it to every To, Cc and Bcc recipient.
// The rendered message never carries Bcc.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := provider.ValidateRecipients(msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.cfg.Sender != "" {
		msg = msg.WithFrom(p.cfg.Sender)
	}
	from := msg.From()
	if from == "" {
		return fmt.Errorf("message has no sender")
	}

	data, err := msg.Render()
	if err != nil {
		return fmt.Errorf("rendering message: %w", err)
	}

	var auth sasl.Client
	if p.cfg.Username != "" && p.cfg.Password != "" {
		auth = sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
	}

	rcpts := msg.Recipients()
	if err := p.sendMail(p.cfg.Addr, auth, from, rcpts, data); err != nil {
		return fmt.Errorf("relay to %s: %w", p.cfg.Addr, err)
	}

	slog.Debug("message relayed",
		"addr", p.cfg.Addr,
		"recipients", provider.JoinAddresses(rcpts),
		"size", len(data),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "relay"
}
