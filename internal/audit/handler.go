package audit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookmanager/internal/access"
	"bookmanager/internal/eventstore"
	"bookmanager/internal/web"
)

// Page sizes of GET /admin/events.
const (
	DefaultEventPage = 100
	MaxEventPage     = 1000
)

// EventFeed pages through the whole event log in id order.
type EventFeed interface {
	Events(ctx context.Context, afterID int64, limit int) ([]eventstore.Event, error)
}

// EventPage is one page of the event log. Next is the cursor for the
// following page and equals the request cursor when the page is empty.
type EventPage struct {
	Events []eventstore.Event `json:"events"`
	Next   int64              `json:"next"`
}

type Handler struct {
	engine *Engine
	feed   EventFeed
	policy access.Policy
	logger *slog.Logger
}

func NewHandler(engine *Engine, feed EventFeed, policy access.Policy, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, feed: feed, policy: policy, logger: logger}
}

// Routes mounts GET /admin/audit and GET /admin/events. The audit report is
// 200 when healthy and 409 when any check fails.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/admin/audit", h.handleRun)
	r.Get("/admin/events", h.handleEvents)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	p, err := web.Principal(r)
	if err == nil {
		err = h.policy.Authorize(p, access.ActionRunAudit, 0)
	}
	if err != nil {
		web.Error(w, r, h.logger, err)
		return false
	}
	return true
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	report := h.engine.Run(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusConflict
	}
	web.JSON(w, status, report)
}

// handleEvents serves ?after=<id>&limit=<n>.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	after, err := web.QueryInt(r, "after")
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	limit, err := web.QueryInt(r, "limit")
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	if limit == 0 {
		limit = DefaultEventPage
	}
	limit = min(limit, MaxEventPage)

	events, err := h.feed.Events(r.Context(), int64(after), limit)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	page := EventPage{Events: events, Next: int64(after)}
	if n := len(events); n > 0 {
		page.Next = events[n-1].ID
	}
	web.JSON(w, http.StatusOK, page)
}
