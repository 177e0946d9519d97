// internal/catalog/handler.go
package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookmanager/internal/access"
	"bookmanager/internal/web"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the catalog endpoints on an authenticated router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.handleListCategories)
		r.Post("/", h.handleCreateCategory)
		r.Get("/{id}", h.handleGetCategory)
		r.Put("/{id}", h.handleRenameCategory)
		r.Delete("/{id}", h.handleDeleteCategory)
	})
	r.Route("/titles", func(r chi.Router) {
		r.Get("/", h.handleListTitles)
		r.Post("/", h.handleAddTitle)
		r.Get("/{id}", h.handleGetTitle)
		r.Put("/{id}", h.handleUpdateTitle)
		r.Delete("/{id}", h.handleRemoveTitle)
		r.Get("/{id}/history", h.handleTitleHistory)
		r.Post("/{id}/purchase", h.handlePurchase)
		r.Post("/{id}/discard", h.handleDiscard)
		r.Get("/{id}/copies", h.handleListCopies)
	})
	r.Route("/copies", func(r chi.Router) {
		r.Get("/{id}", h.handleGetCopy)
		r.Put("/{id}/status", h.handleSetCopyStatus)
		r.Delete("/{id}", h.handleRemoveCopy)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	web.Error(w, r, h.logger, err)
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	categories, err := h.service.ListCategories(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, categories)
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req CategoryInput
	if err := web.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.CreateCategory(r.Context(), p, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCategory(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var req CategoryInput
	if err := web.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.RenameCategory(r.Context(), p, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteCategory(r.Context(), p, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListTitles(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var f TitleFilter
	if f.CategoryID, err = web.QueryID(r, "category_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Limit, err = web.QueryInt(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Offset, err = web.QueryInt(r, "offset"); err != nil {
		h.fail(w, r, err)
		return
	}
	titles, err := h.service.ListTitles(r.Context(), p, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, titles)
}

func (h *Handler) handleAddTitle(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req TitleInput
	if err := web.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.service.AddTitle(r.Context(), p, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, t)
}

func (h *Handler) handleGetTitle(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	t, err := h.service.GetTitle(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var req TitleInput
	if err := web.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.service.UpdateTitle(r.Context(), p, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleRemoveTitle(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveTitle(r.Context(), p, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTitleHistory(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	events, err := h.service.TitleHistory(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, events)
}

type quantityRequest struct {
	Quantity int    `json:"quantity"`
	Supplier string `json:"supplier"`
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if err := web.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	copies, err := h.service.Purchase(r.Context(), p, id, req.Quantity, req.Supplier)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusCreated, copies)
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if err := web.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	copies, err := h.service.Discard(r.Context(), p, id, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, copies)
}

func (h *Handler) handleListCopies(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	copies, err := h.service.ListCopies(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, copies)
}

func (h *Handler) handleGetCopy(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCopy(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleSetCopyStatus(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status CopyStatus `json:"status"`
	}
	if err := web.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.SetCopyStatus(r.Context(), p, id, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	web.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleRemoveCopy(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveCopy(r.Context(), p, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) principalAndID(w http.ResponseWriter, r *http.Request) (p access.Principal, id int64, ok bool) {
	p, err := web.Principal(r)
	if err != nil {
		h.fail(w, r, err)
		return p, 0, false
	}
	id, err = web.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return p, 0, false
	}
	return p, id, true
}
