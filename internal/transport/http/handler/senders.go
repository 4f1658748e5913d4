package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-sender-api/internal/application/sender"
	"github.com/go-sender-api/internal/application/verification"
	"github.com/go-sender-api/internal/domain"
	"github.com/go-sender-api/internal/pkg/validate"
	"github.com/go-sender-api/internal/transport/http/middleware"
)

// SenderHandler handles sender lifecycle endpoints. The tenant identity
// always comes from the verified claims, never from the request body.
type SenderHandler struct {
	svc    sender.Service
	verSvc verification.Service
}

func NewSenderHandler(svc sender.Service, verSvc verification.Service) *SenderHandler {
	return &SenderHandler{svc: svc, verSvc: verSvc}
}

func (h *SenderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.CreateSenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snd, err := h.svc.Create(r.Context(), claims.TenantID, claims.Tier, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snd)
}

func (h *SenderHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	senders, err := h.svc.List(r.Context(), claims.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if senders == nil {
		senders = []domain.Sender{}
	}
	writeJSON(w, http.StatusOK, SenderListEnvelope{Data: senders})
}

func (h *SenderHandler) Limits(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limits, err := h.svc.Limits(r.Context(), claims.TenantID, claims.Tier)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (h *SenderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	snd, err := h.svc.Get(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snd)
}

func (h *SenderHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.UpdateSenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snd, err := h.svc.Update(r.Context(), claims.TenantID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snd)
}

func (h *SenderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Delete(r.Context(), claims.TenantID, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "sender deleted"})
}

// Reverify re-issues the verification attempt for a sender.
func (h *SenderHandler) Reverify(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	snd, err := h.verSvc.Reverify(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snd)
}

// Poll checks the provider for the current verification status and applies
// any resulting transition before returning the sender.
func (h *SenderHandler) Poll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	snd, err := h.verSvc.Poll(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snd)
}
