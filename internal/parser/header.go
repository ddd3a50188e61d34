package parser

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/shineum/smtp-queue-lite/internal/email"
)

var (
	headerLineRe      = regexp.MustCompile(`^[\x21-\x39\x3B-\x7E]+:`)
	headerNameRe      = regexp.MustCompile(`^[\x21-\x39\x3B-\x7E]+$`)
	continuationRe    = regexp.MustCompile(`^\s+`)
	angleBracketIDsRe = regexp.MustCompile(`<([^>]+)>`)
)

// Date layouts tried after net/mail.ParseDate.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseHeaders parses a raw header block into a typed header collection.
// Malformed lines and headers are dropped with a warning; it never fails.
func (p *Parser) ParseHeaders(block, eol string) *email.Header {
	h := email.NewHeader()
	if block == "" {
		return h
	}
	if eol == "" {
		eol = "\n"
	}

	var current string
	emptyLines := 0

	for _, line := range strings.Split(block, eol) {
		if line == "" {
			emptyLines++
			if emptyLines > 2 {
				p.log().Warn("malformed header block: too many empty lines")
				break
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if emptyLines > 1 {
			p.log().Warn("malformed header block: empty lines between headers")
			break
		}

		if headerLineRe.MatchString(line) {
			if current != "" {
				p.addHeaderLine(h, current)
			}
			current = strings.TrimSpace(line)
			continue
		}
		if continuationRe.MatchString(line) {
			current += " " + strings.TrimSpace(line)
			continue
		}

		p.log().Warn("header line does not match header format, skipping", "line", line)
	}

	if current != "" {
		p.addHeaderLine(h, current)
	}
	return h
}

func (p *Parser) addHeaderLine(h *email.Header, line string) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		p.log().Warn("invalid header line: missing colon", "line", line)
		return
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	if name == "" {
		p.log().Warn("header name cannot be empty")
		return
	}
	if !headerNameRe.MatchString(name) {
		p.log().Warn("invalid header name", "name", name)
		return
	}

	v, err := ClassifyHeader(name, value)
	if err != nil {
		p.log().Warn("failed to add header", "name", name, "error", err)
		return
	}
	h.Add(name, v)
}

// ClassifyHeader builds the typed value for a header based on its
// lower-cased name. Only Date values can fail.
func ClassifyHeader(name, value string) (email.Value, error) {
	switch strings.ToLower(name) {
	case "to", "from", "cc", "bcc", "reply-to", "sender":
		return email.AddressValue(parseMailboxes(value)...), nil
	case "date":
		t, err := parseDate(value)
		if err != nil {
			return email.Value{}, err
		}
		return email.DateValue(t), nil
	case "message-id", "references", "in-reply-to", "content-id":
		return email.IdentifierValue(parseMessageIDs(value)...), nil
	default:
		return email.TextValue(value), nil
	}
}

// parseMailboxes extracts the addr-spec of every comma separated mailbox.
func parseMailboxes(value string) []string {
	var out []string
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if m := angleBracketIDsRe.FindStringSubmatch(token); m != nil {
			if addr := strings.TrimSpace(m[1]); addr != "" {
				out = append(out, addr)
			}
			continue
		}
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

func parseMessageIDs(value string) []string {
	matches := angleBracketIDsRe.FindAllStringSubmatch(value, -1)
	if len(matches) > 0 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m[1]
		}
		return ids
	}
	if trimmed := strings.Trim(value, " <>"); trimmed != "" {
		return []string{trimmed}
	}
	return []string{value}
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := mail.ParseDate(value); err == nil {
		return t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}
