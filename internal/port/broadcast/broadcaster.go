// Package broadcast defines the port for pushing turn progress to live
// observers such as the operator dashboard.
package broadcast

import "context"

// Broadcaster fans an event out to subscribed clients. Implementations must
// not block the caller on slow clients.
type Broadcaster interface {
	// BroadcastEvent publishes payload under eventType. Payloads that expose
	// Conversation() string reach only clients watching that conversation.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
