package http

import (
	"net/http"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/mcp"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/service"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Limits bounds request handling.
type Limits struct {
	MaxRequestBodySize int64
}

// Handlers holds the services behind the HTTP API.
type Handlers struct {
	Agent    *service.AgentService
	Registry *service.RegistryService
	Inbound  *service.InboundService
	Service  string
	Version  string
	Limits   Limits
}

type healthResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Version  string            `json:"version,omitempty"`
	Tools    int               `json:"tools"`
	Services []mcp.ServerState `json:"services"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Service:  h.Service,
		Version:  h.Version,
		Tools:    h.Registry.ToolCount(),
		Services: h.Registry.Servers(),
	})
}

// TwilioWebhook handles POST /webhook/twilio. The turn runs in the
// background; Twilio gets an empty TwiML reply at once.
func (h *Handlers) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeBodyError(w, err)
		return
	}

	_, err := h.Inbound.Accept(r.Context(), service.InboundMessage{
		From:       r.PostFormValue("From"),
		Body:       r.PostFormValue("Body"),
		MessageSID: r.PostFormValue("MessageSid"),
	})
	if err != nil {
		writeDomainError(w, err, "invalid message")
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

type toolsResponse struct {
	Tools []tool.Descriptor `json:"tools"`
	Count int               `json:"count"`
}

// ListTools handles GET /api/v1/tools.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.Registry.ListTools(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tools == nil {
		tools = []tool.Descriptor{}
	}
	writeJSON(w, http.StatusOK, toolsResponse{Tools: tools, Count: len(tools)})
}

type refreshResponse struct {
	Tools    int               `json:"tools"`
	Services []mcp.ServerState `json:"services"`
}

// RefreshTools handles POST /api/v1/tools/refresh.
func (h *Handlers) RefreshTools(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Refresh(r.Context()); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Tools: h.Registry.ToolCount(), Services: h.Registry.Servers()})
}

type historyResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []conversation.Message `json:"messages"`
}

// GetConversation handles GET /api/v1/conversations/{id}.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	msgs, err := h.Agent.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{ConversationID: id, Messages: msgs})
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}.
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Agent.Reset(r.Context(), pathID(r)); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage handles POST /api/v1/conversations/{id}/messages. The turn runs
// synchronously and its result is returned.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[conversation.SendMessageRequest](w, r, h.Limits.MaxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Content, "content") {
		return
	}

	res, err := h.Agent.RunTurn(r.Context(), pathID(r), req.Content)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
