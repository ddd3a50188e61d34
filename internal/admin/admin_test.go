package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-queue-lite/internal/dispatch"
	"github.com/shineum/smtp-queue-lite/internal/queue"
)

const htmlMessage = "From: app@example.com\r\n" +
	"To: alice@example.com\r\n" +
	"Subject: Invoice\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain <body>\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html body</p>\r\n" +
	"--b1--\r\n"

const textMessage = "From: app@example.com\r\n" +
	"To: alice@example.com\r\n" +
	"Subject: Notice\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"a < b\r\n"

type stubDispatcher struct {
	calls int
	err   error
}

func (d *stubDispatcher) SendEmails(context.Context) (dispatch.Result, error) {
	d.calls++
	return dispatch.Result{Selected: 2, Sent: 1, Failed: 1}, d.err
}

type stubCleaner struct{}

func (stubCleaner) ClearSent(context.Context) (int64, error)   { return 3, nil }
func (stubCleaner) ClearErrors(context.Context) (int64, error) { return 1, nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (http.Handler, *queue.MemoryStore, *stubDispatcher) {
	t.Helper()

	store := queue.NewMemoryStore()
	d := &stubDispatcher{}
	h := New(store, d, stubCleaner{}, quietLogger())
	return h.Routes(), store, d
}

func seed(t *testing.T, store queue.Store, status queue.Status, subject, raw string) *queue.Item {
	t.Helper()

	item := &queue.Item{Status: status, Subject: subject, RawMessage: raw}
	require.NoError(t, store.Save(context.Background(), item))
	return item
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListEmails(t *testing.T) {
	h, store, _ := setup(t)
	seed(t, store, queue.StatusPending, "one", textMessage)
	seed(t, store, queue.StatusSent, "two", textMessage)
	seed(t, store, queue.StatusPending, "three", textMessage)

	rec := do(t, h, http.MethodGet, "/emails", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Emails []itemView `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Emails, 3)

	rec = do(t, h, http.MethodGet, "/emails?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Emails, 2)
	for _, e := range resp.Emails {
		assert.Equal(t, "pending", e.Status)
	}

	rec = do(t, h, http.MethodGet, "/emails?limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Emails, 1)
}

func TestListEmailsBadQuery(t *testing.T) {
	h, _, _ := setup(t)

	for _, q := range []string{"status=unknown", "limit=-1", "offset=x"} {
		rec := do(t, h, http.MethodGet, "/emails?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestGetEmail(t *testing.T) {
	h, store, _ := setup(t)
	item := seed(t, store, queue.StatusError, "Notice", textMessage)

	rec := do(t, h, http.MethodGet, "/emails/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view itemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, item.ID, view.ID)
	assert.Equal(t, "error", view.Status)
	assert.Equal(t, "Notice", view.Subject)
	assert.Contains(t, view.Headers, "Subject: Notice")
	assert.NotContains(t, view.Headers, "a < b")
}

func TestGetEmailErrors(t *testing.T) {
	h, _, _ := setup(t)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/emails/42", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/emails/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/emails/0", "").Code)
}

func TestRawEmail(t *testing.T) {
	h, store, _ := setup(t)
	seed(t, store, queue.StatusPending, "Notice", textMessage)

	rec := do(t, h, http.MethodGet, "/emails/1/raw", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "message/rfc822", rec.Header().Get("Content-Type"))
	assert.Equal(t, textMessage, rec.Body.String())
}

func TestEmailContent(t *testing.T) {
	h, store, _ := setup(t)
	seed(t, store, queue.StatusPending, "Invoice", htmlMessage)
	seed(t, store, queue.StatusPending, "Notice", textMessage)

	rec := do(t, h, http.MethodGet, "/emails/1/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sandbox", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Body.String(), "<p>html body</p>")
	assert.NotContains(t, rec.Body.String(), "plain")

	rec = do(t, h, http.MethodGet, "/emails/2/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sandbox", rec.Header().Get("Content-Security-Policy"))
	assert.Contains(t, rec.Body.String(), "a &lt; b")
}

func TestDeleteEmail(t *testing.T) {
	h, store, _ := setup(t)
	seed(t, store, queue.StatusSent, "gone", textMessage)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/emails/1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/emails/1", "").Code)

	_, err := store.Load(context.Background(), 1)
	assert.True(t, errors.Is(err, queue.ErrNotFound))
}

func TestResendEmail(t *testing.T) {
	h, store, _ := setup(t)
	item := seed(t, store, queue.StatusError, "retry", textMessage)

	rec := do(t, h, http.MethodPost, "/emails/1/resend", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.Load(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, got.Status)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/emails/9/resend", "").Code)
}

func TestBulkResendAndDelete(t *testing.T) {
	h, store, _ := setup(t)
	seed(t, store, queue.StatusError, "a", textMessage)
	seed(t, store, queue.StatusSent, "b", textMessage)
	seed(t, store, queue.StatusError, "c", textMessage)

	rec := do(t, h, http.MethodPost, "/emails/resend", `{"ids":[1,3,99]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resent":2}`, rec.Body.String())

	pending, err := store.Query(context.Background(), queue.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	rec = do(t, h, http.MethodPost, "/emails/delete", `{"ids":[2,3]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/emails/delete", `{"ids":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/emails/resend", `not json`).Code)
}

func TestSendQueue(t *testing.T) {
	h, _, d := setup(t)

	rec := do(t, h, http.MethodPost, "/queue/send", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, d.calls)

	var res dispatch.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 1, res.Sent)

	d.err = errors.New("store down")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/queue/send", "").Code)
}

func TestClearQueue(t *testing.T) {
	h, _, _ := setup(t)

	rec := do(t, h, http.MethodPost, "/queue/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sent":3,"error":1}`, rec.Body.String())
}

func TestUnavailableActions(t *testing.T) {
	h := New(queue.NewMemoryStore(), nil, nil, quietLogger()).Routes()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/queue/send", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/queue/clear", "").Code)
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, h, quietLogger()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
