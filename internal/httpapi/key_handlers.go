package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"unmgate.org/internal/apikey"
)

type createKeyRequest struct {
	Name       string            `json:"name"`
	ClientID   string            `json:"clientId"`
	Domain     string            `json:"domain"`
	TTLSeconds int64             `json:"ttlSeconds,omitempty"`
	Level      apikey.Level      `json:"permissionLevel,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type refreshKeyRequest struct {
	TTLSeconds int64 `json:"ttlSeconds,omitempty"`
}

func (a *API) handleKeysCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createKey(w, r)
	case http.MethodGet:
		a.listKeys(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleKeyResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/keys/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/refresh"); ok {
		id = strings.TrimSuffix(id, "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "key not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.refreshKey(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getKey(w, r, path)
	case http.MethodDelete:
		a.revokeKey(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) createKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Level != "" && !req.Level.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown permission level")
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, r, http.StatusBadRequest, "ttlSeconds must be >= 0")
		return
	}

	resp, err := a.keys.Create(r.Context(), apikey.CreateRequest{
		Name:     req.Name,
		ClientID: req.ClientID,
		Domain:   req.Domain,
		TTL:      time.Duration(req.TTLSeconds) * time.Second,
		Level:    req.Level,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Location", "/v1/admin/keys/"+resp.Info.ID)
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) listKeys(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		writeError(w, r, http.StatusBadRequest, "client_id is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.keys.ListByClient(r.Context(), clientID),
	})
}

func (a *API) getKey(w http.ResponseWriter, r *http.Request, id string) {
	cred, err := a.keys.GetInfo(r.Context(), id)
	if err != nil {
		handleKeyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (a *API) revokeKey(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.keys.Revoke(r.Context(), id); err != nil {
		handleKeyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) refreshKey(w http.ResponseWriter, r *http.Request, id string) {
	var req refreshKeyRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.TTLSeconds < 0 {
		writeError(w, r, http.StatusBadRequest, "ttlSeconds must be >= 0")
		return
	}

	resp, err := a.keys.Refresh(r.Context(), id, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		handleKeyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleKeyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apikey.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, apikey.ErrRevoked), errors.Is(err, apikey.ErrExpired):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
