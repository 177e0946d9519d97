// Package web holds the JSON request and response helpers shared by the
// HTTP handlers of every service package.
package web

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"bookmanager/internal/access"
	"bookmanager/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ErrorBody is the envelope of every failed response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind      apperr.Kind `json:"kind"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error renders err. Unclassified errors are logged and replaced by a generic
// message.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind, msg := apperr.Public(err)
	reqID := middleware.GetReqID(r.Context())
	if kind == apperr.KindInternal {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "req_id", reqID, "error", err)
	}
	JSON(w, apperr.HTTPStatus(kind), ErrorBody{Error: ErrorDetail{Kind: kind, Message: msg, RequestID: reqID}})
}

// ErrEmptyBody is returned by Decode when the request has no body.
var ErrEmptyBody = apperr.Validation("request body is required")

// Decode reads a JSON body into v.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return apperr.Wrap(err, apperr.KindValidationFailed, "malformed JSON body")
	}
	return nil
}

// Principal returns the authenticated caller.
func Principal(r *http.Request) (access.Principal, error) {
	p, ok := access.PrincipalFrom(r.Context())
	if !ok {
		return access.Principal{}, apperr.New(apperr.KindUnauthenticated, "unauthenticated")
	}
	return p, nil
}

// ClientIP returns the caller address without its port. Behind
// middleware.RealIP this is the forwarded client address.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// IDParam parses a positive integer route parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validationf("invalid %s", name)
	}
	return id, nil
}

// QueryInt parses an optional non-negative integer query parameter.
func QueryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validationf("invalid %s", name)
	}
	return n, nil
}

// QueryID parses an optional positive id query parameter.
func QueryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validationf("invalid %s", name)
	}
	return id, nil
}
