// Package queue persists captured messages awaiting deferred dispatch.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the dispatch state of a queued message.
type Status int

const (
	StatusPending Status = 0
	StatusSent    Status = 1
	StatusError   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus accepts a status name or its numeric value.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending", "0":
		return StatusPending, nil
	case "sent", "1":
		return StatusSent, nil
	case "error", "2":
		return StatusError, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

var (
	// ErrNotFound is returned when no item has the requested id.
	ErrNotFound = errors.New("queue item not found")
	// ErrInvalidStatus is returned for a status outside the allowed set.
	ErrInvalidStatus = errors.New("invalid status")
)

// Item is one captured message.
type Item struct {
	ID         int64
	Status     Status
	Subject    string
	RawMessage string
	CreatedAt  time.Time
	SentAt     *time.Time
}

// ListOptions filters and pages List results. A nil Status lists every item.
type ListOptions struct {
	Status *Status
	Limit  int
	Offset int
}

// Store is the durable queue.
//
// Save inserts items with a zero ID, assigning ID and CreatedAt, and
// overwrites existing ones otherwise. Query returns the oldest items in
// status first; a limit <= 0 means no limit. DeleteOlderThan only accepts
// StatusSent and StatusError.
type Store interface {
	Save(ctx context.Context, item *Item) error
	Load(ctx context.Context, id int64) (*Item, error)
	Query(ctx context.Context, status Status, limit int) ([]*Item, error)
	List(ctx context.Context, opts ListOptions) ([]*Item, error)
	Delete(ctx context.Context, id int64) error
	DeleteOlderThan(ctx context.Context, days int, status Status) (int64, error)
	Close() error
}

// CheckRetentionStatus rejects every status except StatusSent and StatusError.
func CheckRetentionStatus(status Status) error {
	if status != StatusSent && status != StatusError {
		return fmt.Errorf("%w: retention cleanup only accepts sent or error, got %s", ErrInvalidStatus, status)
	}
	return nil
}

// cutoff returns the creation time at or before which items are expired.
func cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
