package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// conversationScoped is implemented by payloads that belong to one
// conversation.
type conversationScoped interface {
	Conversation() string
}

// BroadcastEvent marshals a typed event and broadcasts it. Payloads scoped to
// a conversation only reach connections subscribed to it or to everything.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var conversationID string
	if s, ok := payload.(conversationScoped); ok {
		conversationID = s.Conversation()
	}

	h.Broadcast(ctx, conversationID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
