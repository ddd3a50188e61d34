// Package parser turns stored raw MIME text back into a header collection
// and a flat list of decoded body parts.
package parser

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/shineum/smtp-queue-lite/internal/email"
)

// ErrParse is returned when a raw message cannot be split at all.
var ErrParse = errors.New("failed to parse raw message")

// Message is the result of parsing a raw message.
type Message struct {
	Header *email.Header
	Parts  []Part
}

// HasParts reports whether any body part was recovered.
func (m *Message) HasParts() bool { return len(m.Parts) > 0 }

// Part is one decoded body section.
type Part struct {
	Content     []byte
	ContentType string
	Charset     string
	Filename    string
	Attachment  bool
}

// IsHTML reports whether the part is text/html.
func (p Part) IsHTML() bool { return hasPrefixFold(p.ContentType, "text/html") }

// IsText reports whether the part is text/plain.
func (p Part) IsText() bool { return hasPrefixFold(p.ContentType, "text/plain") }

// Parser parses raw messages. The zero value logs to slog.Default().
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser that reports malformed input on logger.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseRawMessage splits raw into header block and body, logging and
// returning nil on failure.
func (p *Parser) ParseRawMessage(raw, eol string) *RawMessage {
	rm, err := Split(raw, eol)
	if err != nil {
		p.log().Error("failed to parse raw message", "error", err)
		return nil
	}
	return rm
}

// Parse parses a stored raw message. Malformed headers and parts are
// dropped with a warning; only a message that cannot be split fails.
func (p *Parser) Parse(raw string) (*Message, error) {
	rm := p.ParseRawMessage(raw, "\n")
	if rm == nil {
		return nil, ErrParse
	}

	msg := &Message{Header: p.ParseHeaders(rm.Headers, rm.HeadersEOL)}
	body := normalizeCRLF(rm.Body)
	contentType := msg.Header.Text("Content-Type")

	if boundary := boundaryOf(contentType); boundary != "" {
		msg.Parts = p.SplitMultipart(body, boundary)
	}

	if len(msg.Parts) == 0 && body != "" {
		part := Part{
			Content:     DecodeContent([]byte(body), msg.Header.Text("Content-Transfer-Encoding")),
			ContentType: defaultContentType,
			Charset:     defaultCharset,
		}
		if contentType != "" {
			if m := mimeTypeRe.FindStringSubmatch(contentType); m != nil {
				part.ContentType = strings.TrimSpace(m[1])
			}
			if m := charsetRe.FindStringSubmatch(contentType); m != nil {
				part.Charset = strings.TrimSpace(m[1])
			}
		}
		msg.Parts = []Part{part}
	}

	return msg, nil
}

func (p *Parser) log() *slog.Logger {
	if p.logger == nil {
		return slog.Default()
	}
	return p.logger
}

func normalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
