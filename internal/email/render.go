package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
)

// Fields the renderer generates itself. Bcc is never put on the wire.
var renderSkip = map[string]bool{
	"content-type":              true,
	"content-transfer-encoding": true,
	"content-disposition":       true,
	"mime-version":              true,
	"bcc":                       true,
}

// Render returns the message as RFC 5322 / MIME text.
func (m *Message) Render() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the rendered message to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	for _, f := range m.Header.Fields() {
		if renderSkip[strings.ToLower(f.Name)] {
			continue
		}
		if _, err := fmt.Fprintf(cw, "%s: %s\r\n", f.Name, encodeValue(f.Value)); err != nil {
			return cw.n, err
		}
	}

	body := m.Body
	if body == nil {
		body = &TextPart{Subtype: "html", Charset: "utf-8"}
	}
	create := func(h message.Header) (*message.Writer, error) {
		return message.CreateWriter(cw, h)
	}
	if err := writeEntity(create, body); err != nil {
		return cw.n, fmt.Errorf("rendering body: %w", err)
	}
	return cw.n, nil
}

func encodeValue(v Value) string {
	s := v.String()
	if v.Kind == KindText && !isASCII(s) {
		return mime.QEncoding.Encode("utf-8", s)
	}
	return s
}

func writeEntity(create func(message.Header) (*message.Writer, error), p Part) error {
	var h message.Header
	var body io.Reader

	switch v := p.(type) {
	case *MixedPart:
		h.SetContentType("multipart/mixed", nil)
	case *TextPart:
		subtype := v.Subtype
		if subtype == "" {
			subtype = "html"
		}
		h.SetContentType("text/"+strings.ToLower(subtype), map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		r, err := utf8Reader(v.Charset, v.Content)
		if err != nil {
			return err
		}
		body = r
	case *DataPart:
		ct := v.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.SetContentType(ct, nil)
		h.Set("Content-Transfer-Encoding", "base64")
		params := map[string]string{}
		if v.Filename != "" {
			params["filename"] = v.Filename
		}
		h.SetContentDisposition("attachment", params)
		body = bytes.NewReader(v.Content)
	default:
		return fmt.Errorf("unsupported part type %T", p)
	}

	w, err := create(h)
	if err != nil {
		return err
	}
	if mixed, ok := p.(*MixedPart); ok {
		for _, child := range mixed.Parts {
			if err := writeEntity(w.CreatePart, child); err != nil {
				return err
			}
		}
	} else if _, err := io.Copy(w, body); err != nil {
		return err
	}
	return w.Close()
}

// utf8Reader transcodes content declared in cs to UTF-8.
func utf8Reader(cs string, content []byte) (io.Reader, error) {
	r := bytes.NewReader(content)
	switch strings.ToLower(strings.TrimSpace(cs)) {
	case "", "utf-8", "utf8", "us-ascii":
		return r, nil
	}
	tr, err := charset.Reader(cs, r)
	if err != nil {
		return nil, fmt.Errorf("transcoding %s: %w", cs, err)
	}
	return tr, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
