package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/plugin"
)

// Identity headers consumed by the HTTP API. They populate the global
// context that plugin conditions match against.
const (
	HeaderRequestID = "X-Request-Id"
	HeaderServerID  = "X-Toolgate-Server"
	HeaderTenantID  = "X-Toolgate-Tenant"
	HeaderUser      = "X-Toolgate-User"
)

// API exposes the gateway operations as a JSON HTTP surface.
type API struct {
	svc    *Service
	logger *slog.Logger
}

// NewAPI creates the HTTP API over a gateway service.
func NewAPI(svc *Service, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{svc: svc, logger: logger}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/prompts/get", a.handlePromptGet)
	mux.HandleFunc("POST /v1/tools/invoke", a.handleToolInvoke)
	mux.HandleFunc("POST /v1/resources/read", a.handleResourceRead)
}

// globalFromRequest builds the dispatch identity from request headers. A
// missing request id gets a generated one so pre/post pairing always works.
func globalFromRequest(r *http.Request) *plugin.GlobalContext {
	g := &plugin.GlobalContext{
		RequestID: r.Header.Get(HeaderRequestID),
		ServerID:  r.Header.Get(HeaderServerID),
		TenantID:  r.Header.Get(HeaderTenantID),
		User:      r.Header.Get(HeaderUser),
	}
	if g.RequestID == "" {
		g.RequestID = uuid.NewString()
	}
	return g
}

type promptGetRequest struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

func (a *API) handlePromptGet(w http.ResponseWriter, r *http.Request) {
	var req promptGetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	g := globalFromRequest(r)
	result, err := a.svc.FetchPrompt(r.Context(), g, req.Name, req.Args)
	if err != nil {
		a.writeOperationError(w, g, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": g.RequestID,
		"result":     result,
	})
}

type toolInvokeRequest struct {
	Name    string            `json:"name"`
	Args    map[string]any    `json:"args,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (a *API) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	var req toolInvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	g := globalFromRequest(r)
	result, err := a.svc.InvokeTool(r.Context(), g, req.Name, req.Args, req.Headers)
	if err != nil {
		a.writeOperationError(w, g, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": g.RequestID,
		"result":     result,
	})
}

type resourceReadRequest struct {
	URI string `json:"uri"`
}

func (a *API) handleResourceRead(w http.ResponseWriter, r *http.Request) {
	var req resourceReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	g := globalFromRequest(r)
	content, err := a.svc.FetchResource(r.Context(), g, req.URI)
	if err != nil {
		a.writeOperationError(w, g, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": g.RequestID,
		"result":     content,
	})
}

// writeOperationError maps gateway failures to HTTP: policy blocks are 403
// with the violation attached, everything else is a 502 from the provider or
// plugin chain.
func (a *API) writeOperationError(w http.ResponseWriter, g *plugin.GlobalContext, err error) {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"request_id": g.RequestID,
			"error":      "blocked",
			"violation":  blocked.Violation,
		})
		return
	}
	a.logger.Error("gateway operation failed", "request_id", g.RequestID, "error", err)
	writeJSON(w, http.StatusBadGateway, map[string]any{
		"request_id": g.RequestID,
		"error":      err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
