// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/shineum/smtp-queue-lite/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// The capture guard wraps a Provider, and the dispatcher sends rebuilt
// queue items through the same guard.
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// Func adapts a function to the Provider interface.
type Func struct {
	ProviderName string
	SendFunc     func(ctx context.Context, msg *email.Message) error
}

func (f Func) Send(ctx context.Context, msg *email.Message) error { return f.SendFunc(ctx, msg) }
func (f Func) Name() string                                      { return f.ProviderName }

// ValidateRecipients returns an error when msg has no recipient at all.
func ValidateRecipients(msg *email.Message) error {
	if len(msg.Recipients()) == 0 {
		return fmt.Errorf("message has no recipients")
	}
	return nil
}

// JoinAddresses renders an address list for logs.
func JoinAddresses(addrs []string) string {
	return strings.Join(addrs, ", ")
}
