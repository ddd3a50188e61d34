// Package dispatch sends queued messages in batches and expires old ones.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/shineum/smtp-queue-lite/internal/capture"
	"github.com/shineum/smtp-queue-lite/internal/compose"
	"github.com/shineum/smtp-queue-lite/internal/logging"
	"github.com/shineum/smtp-queue-lite/internal/parser"
	"github.com/shineum/smtp-queue-lite/internal/provider"
	"github.com/shineum/smtp-queue-lite/internal/queue"
)

// TransportError wraps a delivery failure reported by a provider.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: send failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Result summarizes one dispatch pass.
type Result struct {
	Selected   int `json:"selected"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	SaveFailed int `json:"save_failed"`
}

// Config controls a Dispatcher.
type Config struct {
	// Enabled is consulted at the start of every pass; nil means enabled.
	Enabled func() bool
	// SendingLimit caps the items selected per pass; <= 0 means no cap.
	SendingLimit int
}

// Dispatcher turns pending queue items back into messages and sends them.
type Dispatcher struct {
	store     queue.Store
	transport provider.Provider
	parser    *parser.Parser
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	group     singleflight.Group
}

// New creates a Dispatcher sending through transport. transport is normally
// the capture guard; every send is made with a dispatch-pass context so the
// guard delivers instead of queueing again.
func New(store queue.Store, transport provider.Provider, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	return &Dispatcher{
		store:     store,
		transport: transport,
		parser:    parser.New(logger),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SendEmails runs one dispatch pass. Concurrent callers share the result
// of the pass already in flight. Per-item failures are logged and counted,
// never returned; the error is reserved for failing to select items.
func (d *Dispatcher) SendEmails(ctx context.Context) (Result, error) {
	v, err, shared := d.group.Do("send", func() (any, error) {
		return d.sendEmails(ctx)
	})
	if shared {
		d.logger.Debug("joined dispatch pass already in progress")
	}
	res, _ := v.(Result)
	return res, err
}

func (d *Dispatcher) sendEmails(ctx context.Context) (Result, error) {
	var res Result
	if !d.cfg.Enabled() {
		return res, nil
	}

	items, err := d.store.Query(ctx, queue.StatusPending, d.cfg.SendingLimit)
	if err != nil {
		return res, fmt.Errorf("selecting pending items: %w", err)
	}
	res.Selected = len(items)
	if len(items) == 0 {
		return res, nil
	}

	passID := uuid.NewString()
	logger := d.logger.With("pass_id", passID)
	logger.Debug("dispatch pass started", "items", len(items))

	// The dispatch marker lives only on this context, so it ends with the pass.
	ctx = capture.WithDispatch(ctx)

	for _, item := range items {
		if err := d.process(ctx, item); err != nil {
			res.Failed++
			item.Status = queue.StatusError
			logger.Log(ctx, logging.LevelCritical, "failed to send queued email",
				"id", item.ID,
				"error", err,
			)
			if err := d.store.Save(ctx, item); err != nil {
				res.SaveFailed++
				logger.Log(ctx, logging.LevelCritical, "failed to save email status",
					"id", item.ID,
					"status", item.Status.String(),
					"error", err,
				)
			}
			continue
		}

		sentAt := d.now()
		item.Status = queue.StatusSent
		item.SentAt = &sentAt
		if err := d.store.Save(ctx, item); err != nil {
			res.SaveFailed++
			logger.Log(ctx, logging.LevelCritical, "failed to save email status",
				"id", item.ID,
				"status", item.Status.String(),
				"error", err,
			)
			continue
		}
		res.Sent++
		logger.Debug("queued email sent", "id", item.ID, "subject", item.Subject)
	}

	logger.Info("dispatch pass finished",
		"selected", res.Selected,
		"sent", res.Sent,
		"failed", res.Failed,
		"save_failed", res.SaveFailed,
	)
	return res, nil
}

func (d *Dispatcher) process(ctx context.Context, item *queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while sending item %d: %v", item.ID, r)
		}
	}()

	parsed, err := d.parser.Parse(item.RawMessage)
	if err != nil {
		return err
	}
	msg, err := compose.Build(parsed)
	if err != nil {
		return err
	}
	msg.Raw = item.RawMessage

	if err := d.transport.Send(ctx, msg); err != nil {
		return &TransportError{Provider: d.transport.Name(), Err: err}
	}
	return nil
}

// Run calls SendEmails every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.SendEmails(ctx); err != nil {
				d.logger.Error("dispatch pass failed", "error", err)
			}
		}
	}
}
