package parser

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"
)

// DecodeContent reverses a Content-Transfer-Encoding. quoted-printable is
// decoded leniently, base64 strictly with the input returned unchanged when
// it is not valid base64. Every other encoding is passed through.
func DecodeContent(content []byte, encoding string) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return decodeQuotedPrintable(content)
	case "base64":
		out, err := base64.StdEncoding.Strict().DecodeString(stripBase64Whitespace(content))
		if err != nil || len(out) == 0 {
			return content
		}
		return out
	default:
		return content
	}
}

func decodeQuotedPrintable(content []byte) []byte {
	out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(content)))
	if err != nil {
		return decodeQuotedPrintableLenient(content)
	}
	return out
}

// decodeQuotedPrintableLenient decodes valid =XX escapes and soft line
// breaks and copies every malformed escape through unchanged.
func decodeQuotedPrintableLenient(content []byte) []byte {
	out := make([]byte, 0, len(content))
	for i := 0; i < len(content); i++ {
		c := content[i]
		if c != '=' {
			out = append(out, c)
			continue
		}
		switch {
		case i+2 < len(content) && content[i+1] == '\r' && content[i+2] == '\n':
			i += 2
		case i+1 < len(content) && content[i+1] == '\n':
			i++
		case i+2 < len(content) && isHex(content[i+1]) && isHex(content[i+2]):
			out = append(out, unhex(content[i+1])<<4|unhex(content[i+2]))
			i += 2
		default:
			out = append(out, c)
		}
	}
	return out
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// Line breaks between base64 lines are not part of the alphabet but are
// legal on the wire.
func stripBase64Whitespace(content []byte) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, c := range content {
		switch c {
		case '\r', '\n', ' ', '\t':
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
