// internal/membership/handler.go
package membership

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookmanager/internal/web"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// PublicRoutes mounts the endpoints reachable without a token.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/readers/register", h.handleRegister)
}

// Routes mounts the reader management endpoints on an authenticated router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/readers", func(r chi.Router) {
		r.Get("/", h.handleListReaders)
		r.Post("/", h.handleCreateReader)
		r.Get("/{id}", h.handleGetReader)
		r.Put("/{id}", h.handleUpdateReader)
		r.Delete("/{id}", h.handleDeleteReader)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	res, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req ReaderInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	reader, err := h.service.Register(r.Context(), web.ClientIP(r), req)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusCreated, reader)
}

func (h *Handler) handleListReaders(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	readers, err := h.service.ListReaders(r.Context(), p)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, readers)
}

func (h *Handler) handleCreateReader(w http.ResponseWriter, r *http.Request) {
	p, err := web.Principal(r)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	var req ReaderInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	reader, err := h.service.CreateReader(r.Context(), p, req)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusCreated, reader)
}

func (h *Handler) handleGetReader(w http.ResponseWriter, r *http.Request) {
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
	reader, err := h.service.GetReader(r.Context(), p, id)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, reader)
}

func (h *Handler) handleUpdateReader(w http.ResponseWriter, r *http.Request) {
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
	var req ReaderInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	reader, err := h.service.UpdateReader(r.Context(), p, id, req)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	web.JSON(w, http.StatusOK, reader)
}

func (h *Handler) handleDeleteReader(w http.ResponseWriter, r *http.Request) {
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
	if err := h.service.DeleteReader(r.Context(), p, id); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
