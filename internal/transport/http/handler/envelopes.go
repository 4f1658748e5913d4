package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-sender-api/internal/domain"
)

// MessageEnvelope is the generic response wrapper. Failures carry only the
// message field, matching the error contract of the API.
type MessageEnvelope struct {
	Message string `json:"message"`
}

// SenderListEnvelope wraps sender list responses.
type SenderListEnvelope struct {
	Data []domain.Sender `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Message: msg})
}

// writeDomainError maps a service error onto the HTTP error taxonomy.
// 4xx responses carry the literal reason; 5xx responses never leak
// implementation detail to the caller.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("ERROR: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
