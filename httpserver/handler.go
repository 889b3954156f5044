package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixcare/secrets-core/core"
	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/metrics"
	"github.com/helixcare/secrets-core/policy"
	"github.com/helixcare/secrets-core/seal"
	"github.com/helixcare/secrets-core/token"
)

// TokenHeader carries the client token on authenticated requests.
const TokenHeader = "X-Secrets-Token"

// Handler translates HTTP requests into core operations.
type Handler struct {
	core *core.Core
	log  *slog.Logger
}

func NewHandler(c *core.Core, log *slog.Logger) *Handler {
	return &Handler{core: c, log: log}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrSealed):
		return http.StatusServiceUnavailable
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrValidation),
		errors.Is(err, interfaces.ErrInvalidShare),
		errors.Is(err, interfaces.ErrAlreadyInitialized):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			h.log.Error("Failed to encode response", "err", err)
		}
	}
}

func clientToken(r *http.Request) string {
	return r.Header.Get(TokenHeader)
}

type initRequest struct {
	SecretShares    int `json:"secret_shares"`
	SecretThreshold int `json:"secret_threshold"`
}

type initResponse struct {
	Shares    []string `json:"shares"`
	RootToken string   `json:"root_token"`
}

func (h *Handler) HandleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.ErrValidation)
		return
	}

	result, err := h.core.Initialize(r.Context(), seal.Config{
		SecretShares:    req.SecretShares,
		SecretThreshold: req.SecretThreshold,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := initResponse{RootToken: result.RootToken}
	for _, share := range result.Shares {
		resp.Shares = append(resp.Shares, base64.StdEncoding.EncodeToString(share))
	}
	metrics.SetSealed(true)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleInitToken(w http.ResponseWriter, r *http.Request) {
	rootToken, ok := h.core.InitRootToken()
	if !ok {
		h.writeError(w, interfaces.ErrNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"root_token": rootToken})
}

func (h *Handler) HandleSealStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.core.SealStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

type unsealRequest struct {
	Share string `json:"share"`
}

func (h *Handler) HandleUnseal(w http.ResponseWriter, r *http.Request) {
	var req unsealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.ErrValidation)
		return
	}
	share, err := base64.StdEncoding.DecodeString(req.Share)
	if err != nil {
		h.writeError(w, interfaces.ErrInvalidShare)
		return
	}

	status, err := h.core.Unseal(r.Context(), share)
	if err != nil {
		h.writeError(w, err)
		return
	}

	metrics.SetSealed(status.Sealed)
	metrics.SetUnsealProgress(status.Progress)
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleSeal(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Seal(r.Context(), clientToken(r)); err != nil {
		h.writeError(w, err)
		return
	}
	metrics.SetSealed(true)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	names, err := h.core.ListPolicies(r.Context(), clientToken(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"policies": names})
}

func (h *Handler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.core.GetPolicy(r.Context(), clientToken(r), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(w, interfaces.ErrValidation)
		return
	}
	p.Name = chi.URLParam(r, "name")

	if err := h.core.SetPolicy(r.Context(), clientToken(r), &p); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.core.DeletePolicy(r.Context(), clientToken(r), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type capabilitiesRequest struct {
	Path string `json:"path"`
}

func (h *Handler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	var req capabilitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.ErrValidation)
		return
	}

	caps, err := h.core.Capabilities(r.Context(), clientToken(r), req.Path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]policy.Capability{"capabilities": caps})
}

func (h *Handler) HandleListMounts(w http.ResponseWriter, r *http.Request) {
	mounts, err := h.core.ListMounts(r.Context(), clientToken(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]*core.MountEntry{"mounts": mounts})
}

func (h *Handler) HandleMount(w http.ResponseWriter, r *http.Request) {
	var entry core.MountEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		h.writeError(w, interfaces.ErrValidation)
		return
	}
	if err := h.core.MountBackend(r.Context(), clientToken(r), &entry); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUnmount(w http.ResponseWriter, r *http.Request) {
	if err := h.core.UnmountBackend(r.Context(), clientToken(r), chi.URLParam(r, "*")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tokenCreateRequest struct {
	Policies  []string `json:"policies"`
	TTL       string   `json:"ttl"`
	Renewable bool     `json:"renewable"`
}

type tokenResponse struct {
	Token     string   `json:"token"`
	Policies  []string `json:"policies"`
	Renewable bool     `json:"renewable"`
	ExpiresAt string   `json:"expires_at,omitempty"`
}

func tokenResponseFrom(entry *token.Entry) tokenResponse {
	resp := tokenResponse{
		Token:     entry.ID,
		Policies:  entry.Policies,
		Renewable: entry.Renewable,
	}
	if !entry.ExpiresAt.IsZero() {
		resp.ExpiresAt = entry.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) HandleTokenCreate(w http.ResponseWriter, r *http.Request) {
	var req tokenCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.ErrValidation)
		return
	}

	opts := token.CreateOptions{Policies: req.Policies, Renewable: req.Renewable}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil {
			h.writeError(w, interfaces.ErrValidation)
			return
		}
		opts.TTL = ttl
	}

	entry, err := h.core.CreateToken(r.Context(), clientToken(r), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokenResponseFrom(entry))
}

func (h *Handler) HandleTokenRenewSelf(w http.ResponseWriter, r *http.Request) {
	entry, err := h.core.RenewToken(r.Context(), clientToken(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokenResponseFrom(entry))
}

func (h *Handler) HandleTokenLookupSelf(w http.ResponseWriter, r *http.Request) {
	entry, err := h.core.LookupSelf(r.Context(), clientToken(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokenResponseFrom(entry))
}

type tokenRevokeRequest struct {
	Token string `json:"token"`
}

func (h *Handler) HandleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	var req tokenRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.ErrValidation)
		return
	}
	if err := h.core.RevokeToken(r.Context(), clientToken(r), req.Token); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type realmCreateRequest struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

func (h *Handler) HandleCreateRealm(w http.ResponseWriter, r *http.Request) {
	var req realmCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, interfaces.ErrValidation)
		return
	}
	realm, err := h.core.GetOrCreateRealm(r.Context(), clientToken(r), req.OrgID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, realm)
}

func (h *Handler) HandleListRealms(w http.ResponseWriter, r *http.Request) {
	ids, err := h.core.ListRealms(r.Context(), clientToken(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"realms": ids})
}

type logicalResponse struct {
	Data      map[string]interface{} `json:"data,omitempty"`
	LeaseTTL  string                 `json:"lease_ttl,omitempty"`
	Renewable bool                   `json:"renewable,omitempty"`
}

// HandleLogical maps HTTP verbs onto logical operations:
//
//	GET             read, or list when the path ends in "/"
//	PUT, POST       write
//	DELETE          delete
func (h *Handler) HandleLogical(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	var op interfaces.Operation
	var data map[string]interface{}
	switch r.Method {
	case http.MethodGet:
		op = interfaces.ReadOperation
		if strings.HasSuffix(path, "/") || r.URL.Query().Get("list") == "true" {
			op = interfaces.ListOperation
		}
	case http.MethodPut, http.MethodPost:
		op = interfaces.WriteOperation
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			h.writeError(w, interfaces.ErrValidation)
			return
		}
	case http.MethodDelete:
		op = interfaces.DeleteOperation
	default:
		h.writeError(w, interfaces.ErrValidation)
		return
	}

	// List requests address a prefix; the router and backends expect the
	// trailing slash stripped from read-style paths only.
	if op == interfaces.ListOperation {
		path = strings.TrimSuffix(path, "/") + "/"
	} else {
		path = strings.TrimSuffix(path, "/")
	}

	start := time.Now()
	resp, err := h.core.HandleRequest(r.Context(), &interfaces.Request{
		Operation:   op,
		Path:        path,
		Data:        data,
		ClientToken: clientToken(r),
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordRequest(string(op), "error", elapsed)
		h.writeError(w, err)
		return
	}
	metrics.RecordRequest(string(op), "success", elapsed)

	if resp == nil || resp.Data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	out := logicalResponse{Data: resp.Data}
	if resp.Lease != nil {
		out.LeaseTTL = resp.Lease.TTL.String()
		out.Renewable = resp.Lease.Renewable
	}
	h.writeJSON(w, http.StatusOK, out)
}
