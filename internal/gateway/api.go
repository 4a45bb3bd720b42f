// ABOUTME: HTTP API handlers for tool invocation, capability listing, and health.
// ABOUTME: Bridges REST request shapes onto the protocol dispatcher.

package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/protocol"
)

// maxInvokeBody caps POST /invoke request bodies.
const maxInvokeBody = 1 << 20

// InvokeRequest is the JSON request body for POST /invoke.
type InvokeRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// InvokeResponse is the JSON response for POST /invoke. Content and Error
// are both always present; the unused one is null.
type InvokeResponse struct {
	Success bool           `json:"success"`
	Content []ContentBlock `json:"content"`
	Error   *string        `json:"error"`
}

// ContentBlock is one element of an invocation result payload.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// CapabilityInfo is one entry of the GET /capabilities listing.
type CapabilityInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// CapabilitiesResponse is the JSON response for GET /capabilities.
type CapabilitiesResponse struct {
	Capabilities []CapabilityInfo `json:"capabilities"`
}

// InteractionInfo is one entry of the GET /interactions listing.
type InteractionInfo struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Success   bool   `json:"success"`
	LatencyMS int64  `json:"latency_ms"`
	CreatedAt string `json:"created_at"`
}

// InteractionsResponse is the JSON response for GET /interactions.
type InteractionsResponse struct {
	Interactions []InteractionInfo `json:"interactions"`
}

// handleHealth handles GET /health requests.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: g.version,
	})
}

// handleCapabilities handles GET /capabilities requests.
// It returns every operation of every ready provider, in registration order.
func (g *Gateway) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	caps := g.registry.Capabilities()
	infos := make([]CapabilityInfo, 0, len(caps))
	for _, c := range caps {
		infos = append(infos, CapabilityInfo{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: c.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, CapabilitiesResponse{Capabilities: infos})
}

// handleInvoke handles POST /invoke requests. The REST body is translated
// into a protocol envelope with a fresh correlation id, dispatched, and the
// response envelope rendered back into the REST result shape.
func (g *Gateway) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInvokeBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req InvokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	id, _ := json.Marshal(uuid.New().String())
	resp := g.dispatcher.Handle(r.Context(), &protocol.Request{
		Version: protocol.Version,
		ID:      id,
		Method:  req.ToolName,
		Params:  req.Arguments,
	})

	if resp.Error != nil {
		message := resp.Error.Message
		writeJSON(w, statusForCode(resp.Error.Code), InvokeResponse{
			Success: false,
			Error:   &message,
		})
		return
	}

	writeJSON(w, http.StatusOK, InvokeResponse{
		Success: true,
		Content: []ContentBlock{{Type: "text", Text: renderResult(resp.Result)}},
	})
}

// handleInteractions handles GET /interactions requests. The optional limit
// query parameter caps the listing, default 50, maximum 1000.
func (g *Gateway) handleInteractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if g.browser == nil {
		writeError(w, http.StatusNotFound, "interaction history not enabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	interactions, err := g.browser.Recent(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list interactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list interactions")
		return
	}

	infos := make([]InteractionInfo, 0, len(interactions))
	for _, it := range interactions {
		infos = append(infos, InteractionInfo{
			ID:        it.ID,
			Method:    it.Method,
			Success:   it.Success,
			LatencyMS: it.LatencyMS,
			CreatedAt: it.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, InteractionsResponse{Interactions: infos})
}

// statusForCode maps protocol error codes onto HTTP status codes. Caller
// mistakes are 400s; everything that went wrong on our side is a 500.
func statusForCode(code int) int {
	switch code {
	case protocol.CodeMalformedRequest,
		protocol.CodeCapabilityNotFound,
		protocol.CodeInvalidArguments:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// renderResult flattens a dispatch result into the text content shape.
// String results pass through; anything structured is serialized as JSON.
func renderResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
