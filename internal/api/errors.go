package api

import (
	"errors"
	"net/http"

	"github.com/mwantia/goblob/internal/vault"
)

type errorResponse struct {
	Error  string   `json:"error"`
	Digest string   `json:"digest,omitempty"`
	Packs  []string `json:"packs,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, vault.ErrIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var conflict *vault.ConflictError
	if errors.As(err, &conflict) {
		resp.Digest = string(conflict.Digest)
		resp.Packs = conflict.Packs
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed: %v", err)
	} else {
		h.log.Debug("Request rejected with %d: %v", status, err)
	}
	h.sendJSON(w, status, resp)
}
