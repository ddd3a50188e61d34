package email

import (
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// UTF8 returns the part content transcoded from its declared charset.
func (p *TextPart) UTF8() (string, error) {
	r, err := utf8Reader(p.Charset, p.Content)
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// utf8Text is UTF8 falling back to the undecoded bytes for unknown charsets.
func utf8Text(p *TextPart) string {
	s, err := p.UTF8()
	if err != nil {
		return string(p.Content)
	}
	return s
}

// DecodedSubject returns Subject with RFC 2047 encoded words decoded.
// Undecodable input is returned as stored.
func (m *Message) DecodedSubject() string {
	s := m.Subject()
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
