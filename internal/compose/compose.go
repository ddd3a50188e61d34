// Package compose turns a parsed message back into a transport-ready
// outbound message.
package compose

import (
	"errors"
	"fmt"

	"github.com/shineum/smtp-queue-lite/internal/email"
	"github.com/shineum/smtp-queue-lite/internal/parser"
)

const (
	defaultCharset = "utf-8"
	defaultSubtype = "html"
)

// ErrMissingRecipient is returned when the message has no To header.
var ErrMissingRecipient = errors.New(`email message must have at least one "To" addressee`)

// ValidationError reports input that cannot be turned into a message.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Build creates the outbound message. The parsed header collection is
// carried over unchanged; the body is a single part, a multipart/mixed
// container for two or more parts, or an empty HTML part.
func Build(msg *parser.Message) (*email.Message, error) {
	if msg == nil || !msg.Header.Has("To") {
		return nil, &ValidationError{Field: "To", Err: ErrMissingRecipient}
	}

	parts := make([]email.Part, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		parts = append(parts, convertPart(p))
	}

	var body email.Part
	switch len(parts) {
	case 0:
		body = &email.TextPart{Charset: defaultCharset, Subtype: defaultSubtype}
	case 1:
		body = parts[0]
	default:
		body = &email.MixedPart{Parts: parts}
	}

	return &email.Message{Header: msg.Header, Body: body}, nil
}

func convertPart(p parser.Part) email.Part {
	switch {
	case p.Attachment:
		return &email.DataPart{Content: p.Content, Filename: p.Filename, ContentType: p.ContentType}
	case p.IsHTML():
		return &email.TextPart{Content: p.Content, Charset: p.Charset, Subtype: "html"}
	case p.IsText():
		return &email.TextPart{Content: p.Content, Charset: p.Charset, Subtype: "plain"}
	default:
		return &email.TextPart{Content: p.Content, Charset: p.Charset, Subtype: defaultSubtype}
	}
}
