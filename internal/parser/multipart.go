package parser

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultContentType = "text/html"
	defaultCharset     = "utf-8"

	// Whitespace and NUL/VT bytes trimmed from part content.
	contentTrimSet = " \t\n\r\x00\x0B"
)

var (
	partHeaderRe    = regexp.MustCompile(`^([\w-]+):\s*(.*)$`)
	charsetRe       = regexp.MustCompile(`(?i)charset="?([^";\s]+)"?`)
	mimeTypeRe      = regexp.MustCompile(`^([^;\s]+)`)
	filenameRe      = regexp.MustCompile(`filename=([^;]+)`)
	contentNameRe   = regexp.MustCompile(`name=([^;]+)`)
	boundaryParamRe = regexp.MustCompile(`boundary="?([^";\r\n]+)"?`)
)

// SplitMultipart splits a CRLF-normalized multipart body on boundary and
// decodes every well-formed section. Sections without a header/body
// separator, and sections that fail to parse, are skipped with a warning.
func (p *Parser) SplitMultipart(body, boundary string) []Part {
	delim := regexp.MustCompile(`--` + regexp.QuoteMeta(boundary) + `(?:--|\r\n|$)`)

	var parts []Part
	for i, section := range delim.Split(body, -1) {
		if strings.Trim(section, contentTrimSet) == "" {
			continue
		}
		part, err := p.parseSection(section)
		if err != nil {
			p.log().Warn("failed to parse MIME part", "index", i, "error", err)
			continue
		}
		parts = append(parts, *part)
	}
	return parts
}

func (p *Parser) parseSection(section string) (part *Part, err error) {
	defer func() {
		if r := recover(); r != nil {
			part, err = nil, fmt.Errorf("%v", r)
		}
	}()

	headerBlock, content, ok := strings.Cut(section, "\r\n\r\n")
	if !ok {
		return nil, fmt.Errorf("missing header/body separator")
	}

	headers := parsePartHeaders(headerBlock)
	contentType, ok := headers["content-type"]
	if !ok {
		contentType = defaultContentType
	}
	disposition := headers["content-disposition"]

	part = &Part{
		Content:     DecodeContent([]byte(strings.Trim(content, contentTrimSet)), headers["content-transfer-encoding"]),
		ContentType: mediaType(contentType),
		Charset:     charsetOf(contentType),
		Attachment:  strings.HasPrefix(strings.ToLower(disposition), "attachment"),
	}
	if part.Attachment {
		part.Filename = filenameOf(disposition, contentType)
	}
	return part, nil
}

// parsePartHeaders reads a part header block into a lower-cased name to
// value map. Continuation lines are appended to the previous header.
func parsePartHeaders(block string) map[string]string {
	headers := make(map[string]string)
	current := ""
	for _, line := range strings.Split(block, "\r\n") {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if current != "" {
				headers[current] += " " + strings.TrimSpace(line)
			}
			continue
		}
		if m := partHeaderRe.FindStringSubmatch(line); m != nil {
			current = strings.ToLower(m[1])
			headers[current] = m[2]
		}
	}
	return headers
}

func mediaType(contentType string) string {
	if m := mimeTypeRe.FindStringSubmatch(contentType); m != nil {
		return strings.TrimSpace(m[1])
	}
	return contentType
}

func charsetOf(contentType string) string {
	if m := charsetRe.FindStringSubmatch(contentType); m != nil {
		return strings.TrimSpace(m[1])
	}
	return defaultCharset
}

func filenameOf(disposition, contentType string) string {
	if m := filenameRe.FindStringSubmatch(disposition); m != nil {
		return strings.Trim(m[1], `"`)
	}
	if m := contentNameRe.FindStringSubmatch(contentType); m != nil {
		return strings.Trim(m[1], `"`)
	}
	return ""
}

func boundaryOf(contentType string) string {
	if m := boundaryParamRe.FindStringSubmatch(contentType); m != nil {
		return m[1]
	}
	return ""
}
