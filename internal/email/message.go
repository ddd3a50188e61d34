// Package email defines the outbound message model shared by the parser,
// the capture guard and the delivery providers.
package email

import "strings"

// Part is one node of a message body tree: *TextPart, *DataPart or *MixedPart.
type Part interface {
	isPart()
}

// TextPart is an inline text body. Subtype is "html" or "plain".
type TextPart struct {
	Content []byte
	Charset string
	Subtype string
}

// DataPart is an attachment.
type DataPart struct {
	Content     []byte
	Filename    string
	ContentType string
}

// MixedPart is a multipart/mixed container.
type MixedPart struct {
	Parts []Part
}

func (*TextPart) isPart()  {}
func (*DataPart) isPart()  {}
func (*MixedPart) isPart() {}

// HasRawContent is implemented by messages that can produce their exact raw
// MIME text. The capture guard only accepts messages with this capability.
type HasRawContent interface {
	RawContent() ([]byte, error)
}

var _ HasRawContent = (*Message)(nil)

// Message is an outbound email: the header collection carried over from the
// parsed source plus a body tree.
type Message struct {
	Header *Header
	Body   Part

	// Raw is the stored MIME text this message was rebuilt from, if any.
	Raw string
}

// RawContent returns Raw when set, otherwise the rendered MIME text.
func (m *Message) RawContent() ([]byte, error) {
	if m.Raw != "" {
		return []byte(m.Raw), nil
	}
	return m.Render()
}

// From returns the first From mailbox.
func (m *Message) From() string {
	addrs := m.Header.Addresses("From")
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

func (m *Message) To() []string  { return m.Header.Addresses("To") }
func (m *Message) Cc() []string  { return m.Header.Addresses("Cc") }
func (m *Message) Bcc() []string { return m.Header.Addresses("Bcc") }

// WithFrom returns a copy of m whose From header is addr. The body is shared.
func (m *Message) WithFrom(addr string) *Message {
	h := NewHeader()
	for _, f := range m.Header.Fields() {
		if strings.EqualFold(f.Name, "From") {
			h.Add(f.Name, AddressValue(addr))
			continue
		}
		h.Add(f.Name, f.Value)
	}
	if !h.Has("From") {
		h.Add("From", AddressValue(addr))
	}
	return &Message{Header: h, Body: m.Body}
}

// Recipients returns To, Cc and Bcc in that order.
func (m *Message) Recipients() []string {
	var out []string
	out = append(out, m.To()...)
	out = append(out, m.Cc()...)
	out = append(out, m.Bcc()...)
	return out
}

func (m *Message) Subject() string { return m.Header.Text("Subject") }

// MessageID returns the first Message-ID without angle brackets.
func (m *Message) MessageID() string {
	v, ok := m.Header.Get("Message-ID")
	if !ok || len(v.IDs) == 0 {
		return ""
	}
	return v.IDs[0]
}

// TextBody returns the first inline text/plain body as UTF-8.
func (m *Message) TextBody() string {
	if p := firstText(m.Body, "plain"); p != nil {
		return utf8Text(p)
	}
	return ""
}

// HTMLBody returns the first inline text/html body as UTF-8.
func (m *Message) HTMLBody() string {
	if p := firstText(m.Body, "html"); p != nil {
		return utf8Text(p)
	}
	return ""
}

// Attachments returns every data part in document order.
func (m *Message) Attachments() []*DataPart {
	var out []*DataPart
	walk(m.Body, func(p Part) {
		if d, ok := p.(*DataPart); ok {
			out = append(out, d)
		}
	})
	return out
}

func firstText(root Part, subtype string) *TextPart {
	var found *TextPart
	walk(root, func(p Part) {
		if t, ok := p.(*TextPart); ok && found == nil && strings.EqualFold(t.Subtype, subtype) {
			found = t
		}
	})
	return found
}

func walk(p Part, fn func(Part)) {
	switch v := p.(type) {
	case nil:
	case *MixedPart:
		for _, child := range v.Parts {
			walk(child, fn)
		}
	default:
		fn(v)
	}
}
