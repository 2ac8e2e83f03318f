// Package api exposes vault operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/vault"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
)

// maxBodySize bounds request bodies; every request type is a handful of
// flags.
const maxBodySize = 64 << 10

type Handler struct {
	vault *vault.Vault
	log   log.LoggerService
	mux   *http.ServeMux
}

func NewHandler(v *vault.Vault, logger log.LoggerService) *Handler {
	h := &Handler{
		vault: v,
		log:   logger,
		mux:   http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /v1/inventory", h.handleInventory)
	h.mux.HandleFunc("GET /v1/blobs/{digest}", h.handleItem)
	h.mux.HandleFunc("POST /v1/blobs/{digest}/backup", h.handleBackup)
	h.mux.HandleFunc("POST /v1/blobs/{digest}/restore", h.handleRestore)
	h.mux.HandleFunc("DELETE /v1/blobs/{digest}", h.handleDelete)
	h.mux.HandleFunc("GET /v1/blobs/{digest}/impact", h.handleImpact)
	h.mux.HandleFunc("POST /v1/cleanup-orphans", h.handleCleanup)
	h.mux.HandleFunc("POST /v1/backup-sync", h.handleSync)
	h.mux.HandleFunc("POST /v1/verify", h.handleVerify)
	h.mux.HandleFunc("GET /v1/backup-status", h.handleBackupStatus)
	h.mux.HandleFunc("GET /v1/runs", h.handleHistory)
	h.mux.HandleFunc("GET /v1/runs/{id}", h.handleRun)
	h.mux.HandleFunc("POST /v1/runs/{id}/cancel", h.handleCancelRun)
	h.mux.HandleFunc("POST /v1/runs/{id}/retry", h.handleRetryRun)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("%s %s", r.Method, r.URL.Path)
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.Health(r.Context()); err != nil {
		h.sendJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleInventory(w http.ResponseWriter, r *http.Request) {
	summary, err := h.vault.Inventory(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	d, err := vault.ParseDigest(r.PathValue("digest"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	item, err := h.vault.Item(r.Context(), d)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, item)
}

func (h *Handler) handleBackup(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.vault.Backup)
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.vault.Restore)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request, fn func(context.Context, digest.Digest) (*vault.Transfer, error)) {
	d, err := vault.ParseDigest(r.PathValue("digest"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	result, err := fn(r.Context(), d)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	d, err := vault.ParseDigest(r.PathValue("digest"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	target, err := parseTarget(r)
	if err != nil {
		h.sendError(w, err)
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			h.sendError(w, fmt.Errorf("%w: force must be a boolean", vault.ErrInvalidArgument))
			return
		}
	}

	deletion, err := h.vault.Delete(r.Context(), d, target, force)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, deletion)
}

func (h *Handler) handleImpact(w http.ResponseWriter, r *http.Request) {
	d, err := vault.ParseDigest(r.PathValue("digest"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	target, err := parseTarget(r)
	if err != nil {
		h.sendError(w, err)
		return
	}

	impact, err := h.vault.Impact(r.Context(), d, target)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, impact)
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req vault.CleanupRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	resp, err := h.vault.CleanupOrphans(r.Context(), req)
	h.sendResult(w, resp, err)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req vault.SyncRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	resp, err := h.vault.BackupSync(r.Context(), req)
	h.sendResult(w, resp, err)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req vault.VerifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	resp, err := h.vault.Verify(r.Context(), req)
	h.sendResult(w, resp, err)
}

func (h *Handler) handleBackupStatus(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, h.vault.BackupStatus(r.Context()))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.sendError(w, fmt.Errorf("%w: limit must be a non-negative integer", vault.ErrInvalidArgument))
			return
		}
		limit = n
	}

	history, err := h.vault.History(r.Context(), limit)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, history)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.vault.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, run)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.vault.CancelRun(r.PathValue("id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusAccepted, run)
}

func (h *Handler) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Async bool `json:"async"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	run, err := h.vault.RetryRun(r.Context(), r.PathValue("id"), req.Async)
	h.sendResult(w, &run, err)
}

// sendResult writes bulk results. A partial failure is still a completed
// request: the body carries the failed items.
func (h *Handler) sendResult(w http.ResponseWriter, result any, err error) {
	if err != nil && !errors.Is(err, vault.ErrPartialFailure) {
		h.sendError(w, err)
		return
	}
	if err != nil {
		h.log.Warn("%v", err)
	}
	h.sendJSON(w, http.StatusOK, result)
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.log.Warn("Failed to write JSON response: %v", err)
	}
}

func parseTarget(r *http.Request) (inventory.Target, error) {
	target, err := inventory.ParseTarget(r.URL.Query().Get("target"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", vault.ErrInvalidArgument, err)
	}
	return target, nil
}

// decodeBody reads an optional JSON body. An empty body leaves v at its
// zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body: %v", vault.ErrInvalidArgument, err)
	}
	return nil
}
