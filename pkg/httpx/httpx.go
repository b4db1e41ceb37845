package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps the governance failure taxonomy onto HTTP statuses,
// keeping each reason distinct on the wire.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, domain.ErrNotAuthorized):
		WriteError(w, 403, "NOT_AUTHORIZED", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyRequested):
		WriteError(w, 409, "ALREADY_REQUESTED", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyVouched):
		WriteError(w, 409, "ALREADY_VOUCHED", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyFulfilled):
		WriteError(w, 409, "ALREADY_FULFILLED", err.Error(), nil)
	default:
		WriteError(w, 500, "INTERNAL", err.Error(), nil)
	}
}
