package parser

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shineum/smtp-queue-lite/internal/email"
)

func newTestParser() (*Parser, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(slog.New(slog.NewTextHandler(&buf, nil))), &buf
}

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"From: Sender <sender@example.com>",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain; charset=iso-8859-1",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n")

	p, _ := newTestParser()
	msg, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := msg.Header.Addresses("From"); len(got) != 1 || got[0] != "sender@example.com" {
		t.Errorf("From: got %v, want [sender@example.com]", got)
	}
	if got := msg.Header.Text("subject"); got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	id, _ := msg.Header.Get("Message-ID")
	if id.Kind != email.KindIdentifier || len(id.IDs) != 1 || id.IDs[0] != "test123@example.com" {
		t.Errorf("Message-ID: got %+v", id)
	}

	if len(msg.Parts) != 1 {
		t.Fatalf("Parts: got %d, want 1", len(msg.Parts))
	}
	part := msg.Parts[0]
	if string(part.Content) != "Hello, this is a plain text email." {
		t.Errorf("Content: got %q", part.Content)
	}
	if part.ContentType != "text/plain" || part.Charset != "iso-8859-1" {
		t.Errorf("ContentType/Charset: got %q/%q", part.ContentType, part.Charset)
	}
	if !part.IsText() || part.IsHTML() {
		t.Error("expected a text/plain part")
	}
}

func TestParseDefaultsToHTML(t *testing.T) {
	t.Parallel()

	p, _ := newTestParser()
	msg, err := p.Parse("To: a@example.com\n\n<p>hi</p>\nsecond line")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Parts) != 1 {
		t.Fatalf("Parts: got %d, want 1", len(msg.Parts))
	}
	part := msg.Parts[0]
	if part.ContentType != "text/html" || part.Charset != "utf-8" {
		t.Errorf("defaults: got %q/%q, want text/html/utf-8", part.ContentType, part.Charset)
	}
	if string(part.Content) != "<p>hi</p>\r\nsecond line" {
		t.Errorf("body should be CRLF normalized, got %q", part.Content)
	}
}

func TestParseMultipartWithAttachment(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, Bob <bob@example.com>",
		"Subject: Multipart Test",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=C3=A9",
		"--b1",
		"Content-Type: text/html",
		"",
		"<p>HTML body</p>",
		"--b1",
		`Content-Type: application/pdf; name="ignored.pdf"`,
		"Content-Disposition: attachment;",
		` filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--b1--",
	}, "\n")

	p, _ := newTestParser()
	msg, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := msg.Header.Addresses("To"); len(got) != 2 || got[1] != "bob@example.com" {
		t.Errorf("To: got %v", got)
	}
	if len(msg.Parts) != 3 {
		t.Fatalf("Parts: got %d, want 3", len(msg.Parts))
	}
	if string(msg.Parts[0].Content) != "café" {
		t.Errorf("part 0: got %q, want %q", msg.Parts[0].Content, "café")
	}
	if !msg.Parts[1].IsHTML() || string(msg.Parts[1].Content) != "<p>HTML body</p>" {
		t.Errorf("part 1: got %+v", msg.Parts[1])
	}
	att := msg.Parts[2]
	if !att.Attachment || att.Filename != "report.pdf" || att.ContentType != "application/pdf" {
		t.Errorf("attachment: got %+v", att)
	}
	if string(att.Content) != "Hello World" {
		t.Errorf("attachment content: got %q", att.Content)
	}
}

func TestParseNoHeaders(t *testing.T) {
	t.Parallel()

	p, _ := newTestParser()
	msg, err := p.Parse("just a body line\r\nand another")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Header.Len() != 0 {
		t.Errorf("expected no headers, got %d", msg.Header.Len())
	}
	if len(msg.Parts) != 1 || string(msg.Parts[0].Content) != "just a body line\r\nand another" {
		t.Errorf("Parts: got %+v", msg.Parts)
	}
}

func TestParseEmptyInput(t *testing.T) {
	t.Parallel()

	p, _ := newTestParser()
	msg, err := p.Parse("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.HasParts() || msg.Header.Len() != 0 {
		t.Errorf("expected empty message, got %+v", msg)
	}
}

func TestParseNeverPanics(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"\r\n\r\n\r\n",
		": no name\n\nbody",
		" leading continuation\n  more",
		"Bad Name: x\nGood: y\n\n",
		"Content-Type: multipart/mixed; boundary=\n\n--\r\n",
		"Content-Type: multipart/mixed; boundary=x\n\n--x\n--x--",
		"Date: not a date\nTo: a@b\n\nbody",
		"To: <>, , <a@b>\n\n",
		"Message-ID: <<>>\n\n",
		"X\x00: y\n\n",
	}

	p, _ := newTestParser()
	for _, in := range inputs {
		if _, err := p.Parse(in); err != nil {
			t.Errorf("Parse(%q): unexpected error %v", in, err)
		}
	}
}

func TestPartTypeChecksAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	if !(Part{ContentType: "TEXT/HTML"}).IsHTML() {
		t.Error("TEXT/HTML should be html")
	}
	if !(Part{ContentType: "Text/Plain"}).IsText() {
		t.Error("Text/Plain should be text")
	}
	if (Part{ContentType: "text"}).IsText() {
		t.Error("bare text should not match")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 5, 17, 8, 15, 0, 0, time.FixedZone("", 2*3600))

	h := email.NewHeader()
	h.Add("From", email.AddressValue("sender@example.com"))
	h.Add("To", email.AddressValue("a@example.com", "b@example.com"))
	h.Add("Date", email.DateValue(date))
	h.Add("Message-ID", email.IdentifierValue("one@example.com"))
	h.Add("References", email.IdentifierValue("r1@example.com", "r2@example.com"))
	h.Add("X-Campaign", email.TextValue("spring sale"))

	var block strings.Builder
	for _, f := range h.Fields() {
		block.WriteString(f.Name + ": " + f.Value.String() + "\r\n")
	}

	p, _ := newTestParser()
	got := p.ParseHeaders(strings.TrimSuffix(block.String(), "\r\n"), "\r\n")

	if got.Len() != h.Len() {
		t.Fatalf("Len: got %d, want %d", got.Len(), h.Len())
	}
	for i, want := range h.Fields() {
		f := got.Fields()[i]
		if f.Name != want.Name || f.Value.Kind != want.Value.Kind {
			t.Errorf("field %d: got %s (%s), want %s (%s)", i, f.Name, f.Value.Kind, want.Name, want.Value.Kind)
			continue
		}
		if want.Value.Kind == email.KindDate {
			if !f.Value.Date.Equal(want.Value.Date) {
				t.Errorf("Date: got %v, want %v", f.Value.Date, want.Value.Date)
			}
			continue
		}
		if f.Value.String() != want.Value.String() {
			t.Errorf("%s: got %q, want %q", want.Name, f.Value.String(), want.Value.String())
		}
	}
}

func TestEncodedSubjectSurvivesRender(t *testing.T) {
	t.Parallel()

	h := email.NewHeader()
	h.Add("To", email.AddressValue("a@example.com"))
	h.Add("Subject", email.TextValue("Überraschung"))
	raw, err := (&email.Message{Header: h, Body: &email.TextPart{Content: []byte("x"), Subtype: "plain"}}).Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	p, _ := newTestParser()
	msg, err := p.Parse(string(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := msg.Header.Text("Subject"); !strings.HasPrefix(got, "=?utf-8?q?") {
		t.Errorf("Subject should stay encoded on parse, got %q", got)
	}
	if len(msg.Parts) != 1 || string(msg.Parts[0].Content) != "x" {
		t.Errorf("Parts: got %+v", msg.Parts)
	}
}
