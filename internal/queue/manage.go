package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-mbox"
)

// Resend puts the given items back to Pending so the next dispatch pass
// picks them up. Missing ids are skipped. It returns how many items were reset.
func Resend(ctx context.Context, store Store, ids ...int64) (int, error) {
	n := 0
	for _, id := range ids {
		item, err := store.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		item.Status = StatusPending
		item.SentAt = nil
		if err := store.Save(ctx, item); err != nil {
			return n, fmt.Errorf("failed to reset item %d: %w", id, err)
		}
		n++
	}
	return n, nil
}

// DeleteAll removes the given items, skipping missing ids. It returns how
// many items were removed.
func DeleteAll(ctx context.Context, store Store, ids ...int64) (int, error) {
	n := 0
	for _, id := range ids {
		err := store.Delete(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ExportMbox writes every item matching opts to w in mbox format and
// returns the number of messages written.
func ExportMbox(ctx context.Context, store Store, w io.Writer, opts ListOptions) (int, error) {
	items, err := store.List(ctx, opts)
	if err != nil {
		return 0, err
	}

	mw := mbox.NewWriter(w)
	for i, item := range items {
		mr, err := mw.CreateMessage(envelopeSender(item.RawMessage), item.CreatedAt)
		if err != nil {
			return i, fmt.Errorf("failed to create mbox message for item %d: %w", item.ID, err)
		}
		if _, err := io.WriteString(mr, item.RawMessage); err != nil {
			return i, fmt.Errorf("failed to write item %d: %w", item.ID, err)
		}
	}
	if err := mw.Close(); err != nil {
		return len(items), err
	}
	return len(items), nil
}

// envelopeSender extracts the From address for the mbox separator line.
func envelopeSender(raw string) string {
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return "MAILER-DAEMON"
	}
	addr, err := mail.ParseAddress(msg.Header.Get("From"))
	if err != nil {
		return "MAILER-DAEMON"
	}
	return addr.Address
}
