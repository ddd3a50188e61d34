package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// RawMessage is a raw message split into its header block and body.
type RawMessage struct {
	Headers string
	Body    string
	// HeadersEOL is the line terminator the header block should be split on.
	HeadersEOL string
}

var firstLineHeaderRe = regexp.MustCompile(`^\S+[^:]*:`)

// Split separates raw into header block and body. preferredEOL is the line
// terminator tried first when looking for the blank separator line; it also
// replaces every line break when raw has no header block at all.
func Split(raw, preferredEOL string) (rm *RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			rm, err = nil, fmt.Errorf("splitting raw message: %v", r)
		}
	}()

	if preferredEOL == "" {
		preferredEOL = "\n"
	}

	firstLine := raw
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		firstLine = raw[:i]
	}
	if !firstLineHeaderRe.MatchString(firstLine) {
		body := strings.ReplaceAll(raw, "\r", "")
		body = strings.ReplaceAll(body, "\n", preferredEOL)
		return &RawMessage{Body: body, HeadersEOL: preferredEOL}, nil
	}

	rm = &RawMessage{HeadersEOL: preferredEOL}
	switch {
	case strings.Contains(raw, preferredEOL+preferredEOL):
		rm.Headers, rm.Body, _ = strings.Cut(raw, preferredEOL+preferredEOL)
	case preferredEOL != "\r\n" && strings.Contains(raw, "\r\n\r\n"):
		rm.Headers, rm.Body, _ = strings.Cut(raw, "\r\n\r\n")
		rm.HeadersEOL = "\r\n"
	case preferredEOL != "\n" && strings.Contains(raw, "\n\n"):
		rm.Headers, rm.Body, _ = strings.Cut(raw, "\n\n")
		rm.HeadersEOL = "\n"
	default:
		if start, n := repeatedLineBreak(raw); n > 0 {
			rm.Headers, rm.Body = raw[:start], raw[start+2*n:]
		} else {
			rm.Headers = raw
		}
	}
	return rm, nil
}

// repeatedLineBreak finds the leftmost run of line-break characters that is
// immediately followed by an identical run, preferring the shortest run. It
// returns the start offset and run length, or n == 0 when nothing matches.
func repeatedLineBreak(s string) (start, n int) {
	for i := 0; i < len(s); i++ {
		if !isLineBreak(s[i]) {
			continue
		}
		for l := 1; i+2*l <= len(s); l++ {
			if !isLineBreak(s[i+l-1]) {
				break
			}
			if s[i:i+l] == s[i+l:i+2*l] {
				return i, l
			}
		}
	}
	return 0, 0
}

func isLineBreak(c byte) bool { return c == '\r' || c == '\n' }
