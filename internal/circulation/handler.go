// internal/circulation/handler.go
package circulation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookmanager/internal/apperr"
	"bookmanager/internal/web"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the loan endpoints on an authenticated router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/loans", func(r chi.Router) {
		r.Get("/", h.handleListLoans)
		r.Post("/", h.handleBorrow)
		r.Get("/{id}", h.handleGetLoan)
		r.Post("/{id}/return", h.handleReturn)
		r.Post("/{id}/renew", h.handleRenew)
		r.Get("/{id}/history", h.handleHistory)
	})
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	var req BorrowRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	loan, err := h.service.Borrow(r.Context(), p, req)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusCreated, loan)
}

type returnRequest struct {
	Outcome string `json:"outcome"`
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	id, err := web.IDParam(r, "id")
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	var req returnRequest
	if err := web.Decode(r, &req); err != nil && !errors.Is(err, web.ErrEmptyBody) {
		web.Error(w, r, h.logger, err)
		return
	}
	outcome, ok := ParseOutcome(req.Outcome)
	if !ok {
		web.Error(w, r, h.logger, apperr.Validationf("unknown outcome %q", req.Outcome))
		return
	}
	loan, err := h.service.Return(r.Context(), p, id, outcome)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, loan)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	id, err := web.IDParam(r, "id")
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	loan, err := h.service.Renew(r.Context(), p, id)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, loan)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	id, err := web.IDParam(r, "id")
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	loan, err := h.service.GetLoan(r.Context(), p, id)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, loan)
}

func (h *Handler) handleListLoans(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	var f LoanFilter
	if f.ReaderID, err = web.QueryID(r, "reader_id"); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	if f.TitleID, err = web.QueryID(r, "title_id"); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	if f.Limit, err = web.QueryInt(r, "limit"); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	if f.Offset, err = web.QueryInt(r, "offset"); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	f.Status = LoanStatus(q.Get("status"))
	f.OverdueOnly = q.Get("overdue") == "true"

	loans, err := h.service.ListLoans(r.Context(), p, f)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, loans)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	id, err := web.IDParam(r, "id")
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	events, err := h.service.LoanHistory(r.Context(), p, id)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, events)
}
