package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/edugate/edugate/internal/api_server/middleware"
	"github.com/edugate/edugate/internal/audit"
	"github.com/edugate/edugate/internal/bypass"
	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/edugate/edugate/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// AdminHandler exposes the operator surface: whitelist management and manual
// unblocking. It is expected to sit behind platform-level operator
// authentication.
type AdminHandler struct {
	whitelist *bypass.Whitelist
	limiter   *ratelimit.Limiter
	sink      *audit.Sink
	log       logrus.FieldLogger
}

func NewAdminHandler(whitelist *bypass.Whitelist, limiter *ratelimit.Limiter, sink *audit.Sink, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{
		whitelist: whitelist,
		limiter:   limiter,
		sink:      sink,
		log:       log,
	}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/whitelist", h.ListWhitelist)
	r.Post("/whitelist", h.AddWhitelistEntry)
	r.Delete("/whitelist", h.RemoveWhitelistEntry)
	r.Delete("/blocks/{profile}/{identifier}", h.Unblock)
}

func (h *AdminHandler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries := h.whitelist.Entries()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"items": entries,
	})
}

type whitelistRequest struct {
	Address  string `json:"address"`
	Category string `json:"category,omitempty"`
}

func (h *AdminHandler) AddWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, "InvalidBody", fmt.Errorf("decoding request body: %w", err))
		return
	}

	entry := bypass.Entry{Address: req.Address, Category: bypass.Category(req.Category)}
	if err := h.whitelist.Add(entry); err != nil {
		switch {
		case errors.Is(err, gateerrors.ErrInvalidAddress):
			middleware.WriteJSONError(w, http.StatusBadRequest, "InvalidAddress", err)
		case errors.Is(err, gateerrors.ErrWhitelistEntryExists):
			middleware.WriteJSONError(w, http.StatusConflict, "AlreadyExists", err)
		default:
			middleware.WriteJSONError(w, http.StatusInternalServerError, "Internal", err)
		}
		return
	}

	h.sink.Emit(audit.Event{
		Type:       audit.EventWhitelistChange,
		Reason:     "added",
		Identifier: req.Address,
	})
	w.WriteHeader(http.StatusCreated)
}

func (h *AdminHandler) RemoveWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		middleware.WriteJSONError(w, http.StatusBadRequest, "MissingAddress", fmt.Errorf("query parameter \"address\" is required"))
		return
	}

	if err := h.whitelist.Remove(address); err != nil {
		switch {
		case errors.Is(err, gateerrors.ErrInvalidAddress):
			middleware.WriteJSONError(w, http.StatusBadRequest, "InvalidAddress", err)
		case errors.Is(err, gateerrors.ErrWhitelistEntryNotFound):
			middleware.WriteJSONError(w, http.StatusNotFound, "NotFound", err)
		default:
			middleware.WriteJSONError(w, http.StatusInternalServerError, "Internal", err)
		}
		return
	}

	h.sink.Emit(audit.Event{
		Type:       audit.EventWhitelistChange,
		Reason:     "removed",
		Identifier: address,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	profile := chi.URLParam(r, "profile")
	identifier := chi.URLParam(r, "identifier")

	if err := h.limiter.Unblock(r.Context(), profile, identifier); err != nil {
		if errors.Is(err, gateerrors.ErrUnknownProfile) {
			middleware.WriteJSONError(w, http.StatusNotFound, "UnknownProfile", err)
			return
		}
		middleware.WriteJSONError(w, http.StatusInternalServerError, "Internal", err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"event":      "identifier_unblocked",
		"profile":    profile,
		"identifier": identifier,
	}).Info("block cleared by operator")
	h.sink.Emit(audit.Event{
		Type:       audit.EventUnblock,
		Reason:     "operator request",
		Identifier: identifier,
		Profile:    profile,
	})
	w.WriteHeader(http.StatusNoContent)
}
