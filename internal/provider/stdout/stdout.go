// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/smtp-queue-lite/internal/email"
	"github.com/shineum/smtp-queue-lite/internal/provider"
)

const separator = "========================================\n"

// Provider prints email messages in a human-readable format. It is the
// fallback transport when no real provider is configured.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
	// mime, when set, prints the rendered MIME text instead of a summary.
	mime bool
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// NewMIME creates a Provider that prints each message's rendered MIME text.
func NewMIME(w io.Writer) *Provider {
	return &Provider{writer: w, mime: true}
}

// Send prints the email message.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	b.WriteString(separator)
	if p.mime {
		raw, err := msg.Render()
		if err != nil {
			return fmt.Errorf("failed to render message: %w", err)
		}
		b.Write(raw)
		b.WriteString("\n")
	} else {
		writeSummary(&b, msg)
	}
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func writeSummary(b *strings.Builder, msg *email.Message) {
	fmt.Fprintf(b, "From: %s\n", msg.From())
	fmt.Fprintf(b, "To: %s\n", provider.JoinAddresses(msg.To()))
	if cc := msg.Cc(); len(cc) > 0 {
		fmt.Fprintf(b, "Cc: %s\n", provider.JoinAddresses(cc))
	}
	if bcc := msg.Bcc(); len(bcc) > 0 {
		fmt.Fprintf(b, "Bcc: %s\n", provider.JoinAddresses(bcc))
	}
	fmt.Fprintf(b, "Subject: %s\n", msg.DecodedSubject())
	if id := msg.MessageID(); id != "" {
		fmt.Fprintf(b, "Message-ID: <%s>\n", id)
	}
	b.WriteString("Body:\n")

	body := msg.TextBody()
	if body == "" {
		body = msg.HTMLBody()
	}
	b.WriteString(body + "\n")

	if atts := msg.Attachments(); len(atts) > 0 {
		names := make([]string, 0, len(atts))
		for _, att := range atts {
			names = append(names, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(b, "Attachments: %s\n", strings.Join(names, ", "))
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
