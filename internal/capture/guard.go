// Package capture intercepts outgoing mail and stores it in the queue
// instead of sending it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"

	"github.com/shineum/smtp-queue-lite/internal/email"
	"github.com/shineum/smtp-queue-lite/internal/logging"
	"github.com/shineum/smtp-queue-lite/internal/provider"
	"github.com/shineum/smtp-queue-lite/internal/queue"
)

// ErrNoRawContent is returned when a message cannot produce its raw MIME text.
var ErrNoRawContent = errors.New("message has no raw content")

type dispatchKey struct{}

// WithDispatch marks ctx as belonging to a dispatch pass. Sends made with
// the returned context go straight to the wrapped provider.
func WithDispatch(ctx context.Context) context.Context {
	return context.WithValue(ctx, dispatchKey{}, true)
}

// InDispatch reports whether ctx belongs to a dispatch pass.
func InDispatch(ctx context.Context) bool {
	v, _ := ctx.Value(dispatchKey{}).(bool)
	return v
}

// Guard is a Provider that queues messages instead of sending them.
// @MX:ANCHOR: [AUTO] Every outgoing message passes through here
// @MX:REASON: Decides between queueing and immediate delivery
type Guard struct {
	next    provider.Provider
	store   queue.Store
	enabled func() bool
	logger  *slog.Logger
}

var _ provider.Provider = (*Guard)(nil)

// GuardConfig holds the dependencies of a Guard.
type GuardConfig struct {
	Next  provider.Provider
	Store queue.Store
	// Enabled is consulted on every send; nil means always enabled.
	Enabled func() bool
	Logger  *slog.Logger
}

// NewGuard creates a Guard in front of cfg.Next.
func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{
		next:    cfg.Next,
		store:   cfg.Store,
		enabled: cfg.Enabled,
		logger:  cfg.Logger,
	}
	if g.enabled == nil {
		g.enabled = func() bool { return true }
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Name returns the name of the wrapped provider.
func (g *Guard) Name() string {
	return "queue+" + g.next.Name()
}

// Send queues msg as a new Pending item. When capture is disabled or ctx
// belongs to a dispatch pass the message is sent immediately. A failure to
// persist is logged and the message is sent immediately as well.
func (g *Guard) Send(ctx context.Context, msg *email.Message) error {
	if !g.enabled() || InDispatch(ctx) {
		return g.next.Send(ctx, msg)
	}

	if msg == nil {
		return ErrNoRawContent
	}
	raw, err := rawContent(msg)
	if err != nil {
		return err
	}

	item := &queue.Item{
		Status:     queue.StatusPending,
		Subject:    NormalizeSubject(msg.Subject()),
		RawMessage: string(raw),
	}
	if err := g.store.Save(ctx, item); err != nil {
		g.logger.Log(ctx, logging.LevelCritical, "failed to queue message, sending immediately",
			"error", err,
			"subject", item.Subject,
		)
		return g.next.Send(ctx, msg)
	}

	g.logger.Debug("message queued",
		"id", item.ID,
		"subject", item.Subject,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

func rawContent(msg email.HasRawContent) ([]byte, error) {
	raw, err := msg.RawContent()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRawContent, err)
	}
	if len(raw) == 0 {
		return nil, ErrNoRawContent
	}
	return raw, nil
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// NormalizeSubject decodes RFC 2047 encoded words and collapses folding
// whitespace. Undecodable input is returned trimmed.
func NormalizeSubject(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		decoded = s
	}
	return strings.Join(strings.Fields(decoded), " ")
}
