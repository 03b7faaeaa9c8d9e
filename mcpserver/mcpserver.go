// Package mcpserver is the protected JSON-RPC resource server fronted by
// the authorization server. Every request must carry a bearer token issued
// by the token package; verified claims are attached to the request context
// before dispatch.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authd/instrumentation"
	"github.com/giantswarm/mcp-authd/security"
	"github.com/giantswarm/mcp-authd/token"
)

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
)

type claimsKey struct{}

// ClaimsFromContext returns the verified token claims attached to a request.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*token.Claims)
	return claims, ok
}

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Handler serves the MCP endpoint.
type Handler struct {
	verifier Verifier
	name     string
	version  string
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
}

// New creates an MCP handler that accepts tokens validated by verifier.
func New(verifier Verifier, name, version string, logger *slog.Logger, inst *instrumentation.Instrumentation) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier: verifier,
		name:     name,
		version:  version,
		logger:   logger,
		inst:     inst,
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServeHTTP authenticates the bearer token and dispatches the JSON-RPC
// request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	security.SetCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	raw, ok := extractBearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	claims, err := h.verifier.Verify(raw)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeInvalidRequest, Message: "Invalid request"},
		})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: codeInvalidRequest, Message: "Invalid request"},
		})
		return
	}

	ctx := context.WithValue(r.Context(), claimsKey{}, claims)

	if h.inst != nil {
		h.inst.Metrics.Add(ctx, h.inst.Metrics.RPCRequestsTotal,
			attribute.String(instrumentation.AttrRPCMethod, req.Method))
	}
	h.logger.Debug("MCP request", "method", req.Method, "client_id", claims.ClientID)

	result, rpcErr := h.dispatch(ctx, &req)
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   rpcErr,
	})
}

func (h *Handler) dispatch(ctx context.Context, req *rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return h.initialize(), nil
	case "tools/list":
		return h.listTools(), nil
	case "tools/call":
		return h.callTool(ctx, req.Params)
	case "resources/list":
		return h.listResources(), nil
	case "resources/read":
		return h.readResource(ctx, req.Params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "Method not found"}
	}
}

func (h *Handler) initialize() any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    h.name,
			"version": h.version,
		},
	}
}

func (h *Handler) listTools() any {
	return map[string]any{
		"tools": []map[string]any{
			{
				"name":        "whoami",
				"description": "Returns the identity bound to the presented token",
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		},
	}
}

func (h *Handler) callTool(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var call struct {
		Name string `json:"name"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, &rpcError{Code: codeInvalidRequest, Message: "Invalid request"}
		}
	}

	switch call.Name {
	case "whoami":
		claims, _ := ClaimsFromContext(ctx)
		identity := map[string]string{
			"client_id": claims.ClientID,
		}
		if claims.UserID != "" {
			identity["user_id"] = claims.UserID
		}
		if claims.Scope != "" {
			identity["scope"] = claims.Scope
		}
		body, _ := json.Marshal(identity)
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": string(body)},
			},
		}, nil
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "Method not found"}
	}
}

func (h *Handler) listResources() any {
	return map[string]any{
		"resources": []map[string]any{
			{
				"uri":      "server://info",
				"name":     "Server information",
				"mimeType": "application/json",
			},
		},
	}
}

func (h *Handler) readResource(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var read struct {
		URI string `json:"uri"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &read); err != nil {
			return nil, &rpcError{Code: codeInvalidRequest, Message: "Invalid request"}
		}
	}

	switch read.URI {
	case "server://info":
		body, _ := json.Marshal(map[string]string{
			"name":            h.name,
			"version":         h.version,
			"protocolVersion": ProtocolVersion,
		})
		return map[string]any{
			"contents": []map[string]any{
				{"uri": read.URI, "mimeType": "application/json", "text": string(body)},
			},
		}, nil
	default:
		return nil, &rpcError{Code: codeInvalidRequest, Message: "Invalid request"}
	}
}

func extractBearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	writeJSON(w, http.StatusOK, resp)
}
