package parser

import (
	"strings"
	"testing"

	"github.com/shineum/smtp-queue-lite/internal/email"
)

func TestParseHeadersUnfoldsContinuations(t *testing.T) {
	t.Parallel()

	block := strings.Join([]string{
		"Subject: a long",
		"\tsubject line",
		"   continued",
		"To: a@example.com,",
		" b@example.com",
	}, "\n")

	p, _ := newTestParser()
	h := p.ParseHeaders(block, "\n")

	if got := h.Text("Subject"); got != "a long subject line continued" {
		t.Errorf("Subject: got %q", got)
	}
	if got := h.Addresses("To"); len(got) != 2 || got[1] != "b@example.com" {
		t.Errorf("To: got %v", got)
	}
}

func TestParseHeadersDropsMalformedLines(t *testing.T) {
	t.Parallel()

	block := strings.Join([]string{
		"Subject: ok",
		"not a header line",
		"Bad Name: value",
		"Date: yesterday-ish",
		"X-Keep: yes",
	}, "\r\n")

	p, logs := newTestParser()
	h := p.ParseHeaders(block, "\r\n")

	if h.Len() != 2 {
		t.Fatalf("Len: got %d, want 2 (%v)", h.Len(), h.Fields())
	}
	if h.Text("X-Keep") != "yes" || h.Text("Subject") != "ok" {
		t.Errorf("well-formed headers lost: %v", h.Fields())
	}
	if h.Has("Date") {
		t.Error("invalid Date should be dropped")
	}
	out := logs.String()
	for _, want := range []string{"does not match header format", "failed to add header"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected warning %q in logs:\n%s", want, out)
		}
	}
}

func TestParseHeadersEmptyLineHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		block string
		want  []string
	}{
		{
			name:  "single blank line tolerated",
			block: "A: 1\n\nB: 2",
			want:  []string{"A", "B"},
		},
		{
			name:  "two blank lines abort",
			block: "A: 1\n\n\nB: 2",
			want:  []string{"A"},
		},
		{
			name:  "three blank lines abort",
			block: "A: 1\n\n\n\nB: 2",
			want:  []string{"A"},
		},
		{
			name:  "whitespace-only lines skipped",
			block: "A: 1\n   \nB: 2",
			want:  []string{"A", "B"},
		},
		{
			name:  "empty block",
			block: "",
			want:  nil,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, _ := newTestParser()
			h := p.ParseHeaders(tc.block, "\n")

			var names []string
			for _, f := range h.Fields() {
				names = append(names, f.Name)
			}
			if strings.Join(names, ",") != strings.Join(tc.want, ",") {
				t.Errorf("got %v, want %v", names, tc.want)
			}
		})
	}
}

func TestClassifyHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   string
		value    string
		wantKind email.Kind
		want     string
	}{
		{"mailbox with display name", "From", `"Shop" <shop@example.com>`, email.KindAddressList, "shop@example.com"},
		{"mailbox list", "cc", "a@example.com, B <b@example.com>, ", email.KindAddressList, "a@example.com, b@example.com"},
		{"reply-to", "Reply-To", "r@example.com", email.KindAddressList, "r@example.com"},
		{"single id", "Message-ID", "<abc@host>", email.KindIdentifier, "<abc@host>"},
		{"id list", "References", "<a@h> <b@h>", email.KindIdentifier, "<a@h> <b@h>"},
		{"bare id", "In-Reply-To", " abc@host> ", email.KindIdentifier, "<abc@host>"},
		{"text", "X-Mailer", "Mailer 1.0", email.KindText, "Mailer 1.0"},
		{"date", "Date", "Mon, 02 Jan 2006 15:04:05 -0700", email.KindDate, "Mon, 02 Jan 2006 15:04:05 -0700"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v, err := ClassifyHeader(tc.header, tc.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Kind != tc.wantKind {
				t.Errorf("Kind: got %s, want %s", v.Kind, tc.wantKind)
			}
			if got := v.String(); got != tc.want {
				t.Errorf("String: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassifyHeaderInvalidDate(t *testing.T) {
	t.Parallel()

	if _, err := ClassifyHeader("DATE", "the day after tomorrow"); err == nil {
		t.Fatal("expected error for invalid date")
	}
}
