package messagequeue

import "time"

// InboundTurnPayload is the schema for turns.inbound messages.
type InboundTurnPayload struct {
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	ReplyTo        string    `json:"reply_to"`
	MessageSID     string    `json:"message_sid,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// TurnCompletedPayload is the schema for turns.completed messages.
type TurnCompletedPayload struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	Iterations     int    `json:"iterations"`
	ToolCalls      int    `json:"tool_calls"`
	Parts          int    `json:"parts"`
	Error          string `json:"error,omitempty"`
}

// payloadSchemas are the JSON schemas enforced on publish and consume.
var payloadSchemas = map[string]string{
	SubjectTurnInbound: `{
		"type": "object",
		"required": ["turn_id", "conversation_id"],
		"properties": {
			"turn_id": {"type": "string", "minLength": 1},
			"conversation_id": {"type": "string", "minLength": 1},
			"text": {"type": "string"},
			"reply_to": {"type": "string"},
			"message_sid": {"type": "string"},
			"received_at": {"type": "string", "format": "date-time"}
		}
	}`,
	SubjectTurnCompleted: `{
		"type": "object",
		"required": ["turn_id", "conversation_id"],
		"properties": {
			"turn_id": {"type": "string"},
			"conversation_id": {"type": "string"},
			"state": {"type": "string", "enum": ["done", "failed", "reset"]},
			"iterations": {"type": "integer", "minimum": 0},
			"tool_calls": {"type": "integer", "minimum": 0},
			"parts": {"type": "integer", "minimum": 0},
			"error": {"type": "string"}
		}
	}`,
}
