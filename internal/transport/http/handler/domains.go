package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-sender-api/internal/application/verification"
	"github.com/go-sender-api/internal/transport/http/middleware"
)

// DomainHandler handles domain verification record endpoints.
type DomainHandler struct {
	svc verification.Service
}

func NewDomainHandler(svc verification.Service) *DomainHandler {
	return &DomainHandler{svc: svc}
}

// Get returns the tenant's verification record for a domain, including the
// DNS record set the tenant must publish.
func (h *DomainHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rec, err := h.svc.GetDomain(r.Context(), claims.TenantID, chi.URLParam(r, "domain"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete removes the verification record. Refused while any of the tenant's
// senders still uses the domain.
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.DeleteDomain(r.Context(), claims.TenantID, chi.URLParam(r, "domain")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "domain verification record deleted"})
}
