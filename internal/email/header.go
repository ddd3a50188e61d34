package email

import (
	"strings"
	"time"
)

// Kind identifies which field of a Value carries the header payload.
type Kind int

const (
	// KindText is an unstructured header such as Subject.
	KindText Kind = iota
	// KindAddressList holds the mailbox specs of From, To, Cc, Bcc, Reply-To and Sender.
	KindAddressList
	// KindDate holds a parsed Date header.
	KindDate
	// KindIdentifier holds Message-ID, References, In-Reply-To and Content-ID values.
	KindIdentifier
)

func (k Kind) String() string {
	switch k {
	case KindAddressList:
		return "address-list"
	case KindDate:
		return "date"
	case KindIdentifier:
		return "identifier"
	default:
		return "text"
	}
}

// Value is a typed header value. Only the field matching Kind is meaningful.
type Value struct {
	Kind      Kind
	Text      string
	Addresses []string
	Date      time.Time
	IDs       []string
}

// TextValue returns an unstructured header value.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// AddressValue returns an address-list header value.
func AddressValue(addrs ...string) Value { return Value{Kind: KindAddressList, Addresses: addrs} }

// DateValue returns a date header value.
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Date: t} }

// IdentifierValue returns an identification header value. A single id is
// stored as a one-element list.
func IdentifierValue(ids ...string) Value { return Value{Kind: KindIdentifier, IDs: ids} }

// String renders the value the way it appears on the wire, without any
// RFC 2047 encoding.
func (v Value) String() string {
	switch v.Kind {
	case KindAddressList:
		return strings.Join(v.Addresses, ", ")
	case KindDate:
		return v.Date.Format(time.RFC1123Z)
	case KindIdentifier:
		ids := make([]string, len(v.IDs))
		for i, id := range v.IDs {
			ids[i] = "<" + id + ">"
		}
		return strings.Join(ids, " ")
	default:
		return v.Text
	}
}

// Field is a single named header entry.
type Field struct {
	Name  string
	Value Value
}

// Header is an ordered collection of header fields. Lookups are
// case-insensitive, stored names keep their original spelling.
type Header struct {
	fields []Field
}

// NewHeader returns an empty header collection.
func NewHeader() *Header {
	return &Header{}
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Header) Add(name string, v Value) {
	h.fields = append(h.fields, Field{Name: name, Value: v})
}

// Set replaces all fields named name with a single field appended at the end.
func (h *Header) Set(name string, v Value) {
	h.Del(name)
	h.Add(name, v)
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Has reports whether at least one field named name exists.
func (h *Header) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Get returns the first value stored under name.
func (h *Header) Get(name string) (Value, bool) {
	if h == nil {
		return Value{}, false
	}
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Values returns every value stored under name in insertion order.
func (h *Header) Values(name string) []Value {
	if h == nil {
		return nil
	}
	var out []Value
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Text returns the wire rendering of the first value under name, or "".
func (h *Header) Text(name string) string {
	v, ok := h.Get(name)
	if !ok {
		return ""
	}
	return v.String()
}

// Addresses flattens the address lists of every field named name.
func (h *Header) Addresses(name string) []string {
	var out []string
	for _, v := range h.Values(name) {
		if v.Kind == KindAddressList {
			out = append(out, v.Addresses...)
		}
	}
	return out
}

// Fields returns a copy of all fields in insertion order.
func (h *Header) Fields() []Field {
	if h == nil {
		return nil
	}
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}

// Len returns the number of fields.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.fields)
}
