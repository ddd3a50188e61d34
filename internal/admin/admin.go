// Package admin serves the HTTP API for inspecting and managing the queue.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/smtp-queue-lite/internal/dispatch"
	"github.com/shineum/smtp-queue-lite/internal/parser"
	"github.com/shineum/smtp-queue-lite/internal/queue"
)

// defaultPageSize applies when a list request has no limit.
const defaultPageSize = 50

// Dispatcher runs a dispatch pass on demand.
type Dispatcher interface {
	SendEmails(ctx context.Context) (dispatch.Result, error)
}

// Cleaner applies retention on demand.
type Cleaner interface {
	ClearSent(ctx context.Context) (int64, error)
	ClearErrors(ctx context.Context) (int64, error)
}

// Handler holds the dependencies of the admin routes.
type Handler struct {
	store      queue.Store
	dispatcher Dispatcher
	cleaner    Cleaner
	parser     *parser.Parser
	logger     *slog.Logger
}

// New creates a Handler. dispatcher and cleaner may be nil, in which case
// their routes answer 503.
func New(store queue.Store, dispatcher Dispatcher, cleaner Cleaner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
		cleaner:    cleaner,
		parser:     parser.New(logger),
		logger:     logger,
	}
}

// Routes returns the admin router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/emails", func(r chi.Router) {
		r.Get("/", h.listEmails)
		r.Post("/resend", h.resendEmails)
		r.Post("/delete", h.deleteEmails)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getEmail)
			r.Delete("/", h.deleteEmail)
			r.Get("/raw", h.rawEmail)
			r.Get("/content", h.emailContent)
			r.Post("/resend", h.resendEmail)
		})
	})
	r.Post("/queue/send", h.sendQueue)
	r.Post("/queue/clear", h.clearQueue)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// itemView is the JSON form of a queue item.
type itemView struct {
	ID        int64      `json:"id"`
	Status    string     `json:"status"`
	Subject   string     `json:"subject"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Headers   string     `json:"headers,omitempty"`
}

func newItemView(item *queue.Item) itemView {
	return itemView{
		ID:        item.ID,
		Status:    item.Status.String(),
		Subject:   item.Subject,
		CreatedAt: item.CreatedAt,
		SentAt:    item.SentAt,
	}
}

func (h *Handler) listEmails(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list emails", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}

	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"emails": views,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func listOptions(r *http.Request) (queue.ListOptions, error) {
	q := r.URL.Query()
	opts := queue.ListOptions{Limit: defaultPageSize}

	if s := q.Get("status"); s != "" {
		status, err := queue.ParseStatus(s)
		if err != nil {
			return opts, err
		}
		opts.Status = &status
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return opts, errors.New("invalid limit")
		}
		opts.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return opts, errors.New("invalid offset")
		}
		opts.Offset = n
	}
	return opts, nil
}

func (h *Handler) getEmail(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	view := newItemView(item)
	if rm := h.parser.ParseRawMessage(item.RawMessage, "\n"); rm != nil {
		view.Headers = rm.Headers
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) rawEmail(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", "attachment; filename=\"email-"+strconv.FormatInt(item.ID, 10)+".eml\"")
	_, _ = w.Write([]byte(item.RawMessage))
}

// emailContent renders the message body for viewing: the first HTML part,
// else the escaped text part, else the undecoded body. The page is served
// sandboxed so captured markup runs without the admin origin.
func (h *Handler) emailContent(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(h.renderContent(item.RawMessage)))
}

func (h *Handler) renderContent(raw string) string {
	msg, err := h.parser.Parse(raw)
	if err == nil {
		for _, p := range msg.Parts {
			if p.IsHTML() && !p.Attachment {
				return string(p.Content)
			}
		}
		for _, p := range msg.Parts {
			if p.IsText() && !p.Attachment {
				return "<pre>" + html.EscapeString(string(p.Content)) + "</pre>"
			}
		}
	}
	if rm := h.parser.ParseRawMessage(raw, "\n"); rm != nil {
		return "<pre>" + html.EscapeString(rm.Body) + "</pre>"
	}
	return ""
}

func (h *Handler) deleteEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	err := h.store.Delete(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "email not found")
	case err != nil:
		h.logger.Error("failed to delete email", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete email")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) resendEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	n, err := queue.Resend(r.Context(), h.store, id)
	if err != nil {
		h.logger.Error("failed to resend email", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resend email")
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"resent": n})
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

func decodeIDs(w http.ResponseWriter, r *http.Request) ([]int64, bool) {
	var req idsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "no ids given")
		return nil, false
	}
	return req.IDs, true
}

func (h *Handler) resendEmails(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	n, err := queue.Resend(r.Context(), h.store, ids...)
	if err != nil {
		h.logger.Error("failed to resend emails", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resend emails")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"resent": n})
}

func (h *Handler) deleteEmails(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	n, err := queue.DeleteAll(r.Context(), h.store, ids...)
	if err != nil {
		h.logger.Error("failed to delete emails", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete emails")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) sendQueue(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatch not available")
		return
	}
	res, err := h.dispatcher.SendEmails(r.Context())
	if err != nil {
		h.logger.Error("manual dispatch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) clearQueue(w http.ResponseWriter, r *http.Request) {
	if h.cleaner == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup not available")
		return
	}
	sent, err := h.cleaner.ClearSent(r.Context())
	if err != nil {
		h.logger.Error("manual cleanup failed", "status", "sent", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	failed, err := h.cleaner.ClearErrors(r.Context())
	if err != nil {
		h.logger.Error("manual cleanup failed", "status", "error", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sent": sent, "error": failed})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid email id")
		return 0, false
	}
	return id, true
}

func (h *Handler) loadItem(w http.ResponseWriter, r *http.Request) (*queue.Item, bool) {
	id, ok := parseID(w, r)
	if !ok {
		return nil, false
	}
	item, err := h.store.Load(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "email not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load email", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load email")
		return nil, false
	}
	return item, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
