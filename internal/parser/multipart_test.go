package parser

import (
	"strings"
	"testing"
)

func TestSplitMultipartSkipsMalformedSection(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		"preamble",
		"--sep",
		"Content-Type: text/plain",
		"",
		"first",
		"--sep",
		"no separator in this section",
		"--sep",
		"Content-Type: text/html; charset=\"windows-1252\"",
		"",
		"<b>third</b>",
		"--sep--",
		"",
	}, "\r\n")

	p, logs := newTestParser()
	parts := p.SplitMultipart(body, "sep")

	// preamble and the separator-less section are both skipped
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2: %+v", len(parts), parts)
	}
	if string(parts[0].Content) != "first" || parts[0].ContentType != "text/plain" {
		t.Errorf("part 0: got %+v", parts[0])
	}
	if parts[1].Charset != "windows-1252" || !parts[1].IsHTML() {
		t.Errorf("part 1: got %+v", parts[1])
	}
	if !strings.Contains(logs.String(), "failed to parse MIME part") {
		t.Errorf("expected a warning for the malformed section, logs:\n%s", logs.String())
	}
}

func TestSplitMultipartPartDefaults(t *testing.T) {
	t.Parallel()

	body := "--b\r\nX-Other: 1\r\n\r\n  padded content \r\n--b--"

	p, _ := newTestParser()
	parts := p.SplitMultipart(body, "b")
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	got := parts[0]
	if got.ContentType != "text/html" || got.Charset != "utf-8" {
		t.Errorf("defaults: got %q/%q", got.ContentType, got.Charset)
	}
	if string(got.Content) != "padded content" {
		t.Errorf("content should be trimmed, got %q", got.Content)
	}
	if got.Attachment || got.Filename != "" {
		t.Errorf("unexpected attachment: %+v", got)
	}
}

func TestSplitMultipartBoundaryIsLiteral(t *testing.T) {
	t.Parallel()

	body := "--a.b+c\r\nContent-Type: text/plain\r\n\r\nok\r\n--a.b+c--"

	p, _ := newTestParser()
	parts := p.SplitMultipart(body, "a.b+c")
	if len(parts) != 1 || string(parts[0].Content) != "ok" {
		t.Errorf("got %+v", parts)
	}
}

func TestFilenameFallsBackToContentTypeName(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		"--b",
		`Content-Type: image/png; name="logo.png"`,
		"Content-Disposition: ATTACHMENT",
		"",
		"data",
		"--b--",
	}, "\r\n")

	p, _ := newTestParser()
	parts := p.SplitMultipart(body, "b")
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	if !parts[0].Attachment || parts[0].Filename != "logo.png" {
		t.Errorf("got %+v", parts[0])
	}
}

func TestBoundaryOf(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		`multipart/mixed; boundary="abc"`:         "abc",
		"multipart/alternative; boundary=xyz; x=1": "xyz",
		"text/plain":                               "",
	}
	for in, want := range tests {
		if got := boundaryOf(in); got != want {
			t.Errorf("boundaryOf(%q): got %q, want %q", in, got, want)
		}
	}
}
