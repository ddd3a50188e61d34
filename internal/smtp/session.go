package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/smtp-queue-lite/internal/compose"
	"github.com/shineum/smtp-queue-lite/internal/email"
	"github.com/shineum/smtp-queue-lite/internal/parser"
	"github.com/shineum/smtp-queue-lite/internal/provider"
)

var (
	errTempFailure = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure, please try again later",
	}
	errBadMessage = &smtp.SMTPError{
		Code:         554,
		EnhancedCode: smtp.EnhancedCode{5, 6, 0},
		Message:      "Failed to process message",
	}
	errBadCredentials = &smtp.SMTPError{
		Code:         535,
		EnhancedCode: smtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication failed",
	}
)

// backend creates one session per accepted connection.
type backend struct {
	ctx      context.Context
	auth     *Authenticator
	provider provider.Provider
	parser   *parser.Parser
	logger   *slog.Logger
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{
		backend: b,
		remote:  c.Conn().RemoteAddr().String(),
	}, nil
}

// session holds one SMTP transaction at a time.
type session struct {
	*backend
	remote string
	authed bool

	mailFrom string
	rcptTo   []string
}

// AuthMechanisms advertises PLAIN when credentials are configured.
func (s *session) AuthMechanisms() []string {
	if !s.auth.Enabled() {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth starts a PLAIN exchange whose credentials are checked by AuthPlain.
// The authorization identity is ignored.
func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.auth.Enabled() || mech != sasl.Plain {
		return nil, smtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		return s.AuthPlain(username, password)
	}), nil
}

// AuthPlain verifies PLAIN credentials and marks the session authenticated.
func (s *session) AuthPlain(username, password string) error {
	if !s.auth.Enabled() {
		return smtp.ErrAuthUnsupported
	}
	if err := s.auth.Verify(username, password); err != nil {
		return errBadCredentials
	}
	s.authed = true
	return nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.auth.Enabled() && !s.authed {
		return smtp.ErrAuthRequired
	}
	s.mailFrom = from
	s.rcptTo = nil
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.rcptTo = append(s.rcptTo, to)
	return nil
}

// Data reads the message, fills envelope gaps in its header and hands it to
// the provider.
// @MX:WARN: [AUTO] Whole message is buffered in memory
// @MX:REASON: Bounded by the server's MaxMessageBytes
func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	raw := s.withEnvelope(string(data))

	parsed, err := s.parser.Parse(raw)
	if err != nil {
		s.logger.Error("failed to parse message", "remote", s.remote, "error", err)
		return errBadMessage
	}
	msg, err := compose.Build(parsed)
	if err != nil {
		s.logger.Warn("rejected message", "remote", s.remote, "error", err)
		var verr *compose.ValidationError
		if errors.As(err, &verr) {
			return &smtp.SMTPError{
				Code:         554,
				EnhancedCode: smtp.EnhancedCode{5, 6, 0},
				Message:      verr.Error(),
			}
		}
		return errBadMessage
	}
	msg.Raw = raw

	if err := s.provider.Send(s.ctx, msg); err != nil {
		s.logger.Error("provider send failed",
			"provider", s.provider.Name(),
			"remote", s.remote,
			"error", err,
		)
		return errTempFailure
	}

	s.logger.Debug("message accepted",
		"provider", s.provider.Name(),
		"from", s.mailFrom,
		"recipients", len(s.rcptTo),
		"size", len(data),
	)
	return nil
}

func (s *session) Reset() {
	s.mailFrom = ""
	s.rcptTo = nil
}

func (s *session) Logout() error {
	return nil
}

// withEnvelope prepends header fields for envelope data the message itself
// does not carry: From when absent, To when absent, and every envelope
// recipient not named in To, Cc or Bcc as a Bcc entry.
func (s *session) withEnvelope(raw string) string {
	h := email.NewHeader()
	hasHeader := false
	if split, err := parser.Split(raw, "\r\n"); err == nil && split.Headers != "" {
		h = s.parser.ParseHeaders(split.Headers, split.HeadersEOL)
		hasHeader = true
	}

	var extra []string
	if s.mailFrom != "" && !h.Has("From") {
		extra = append(extra, "From: "+s.mailFrom)
	}

	known := make(map[string]bool)
	for _, name := range []string{"To", "Cc", "Bcc"} {
		for _, addr := range h.Addresses(name) {
			known[strings.ToLower(addr)] = true
		}
	}
	var hidden []string
	for _, rcpt := range s.rcptTo {
		if !known[strings.ToLower(rcpt)] {
			hidden = append(hidden, rcpt)
		}
	}

	if !h.Has("To") && len(s.rcptTo) > 0 {
		extra = append(extra, "To: "+strings.Join(s.rcptTo, ", "))
	} else if len(hidden) > 0 {
		extra = append(extra, "Bcc: "+strings.Join(hidden, ", "))
	}

	if len(extra) == 0 {
		return raw
	}
	sep := "\r\n"
	if !hasHeader {
		sep = "\r\n\r\n"
	}
	return strings.Join(extra, "\r\n") + sep + raw
}
