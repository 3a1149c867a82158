// Package messenger defines the outbound chat channel port.
package messenger

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a sender lacks required credentials.
var ErrNotConfigured = errors.New("messenger: not configured")

// Capabilities declares channel limits a sender imposes.
type Capabilities struct {
	MaxMessageLength int  `json:"max_message_length"`
	Media            bool `json:"media"`
}

// Sender delivers one text message to a recipient address.
type Sender interface {
	// Name returns the unique identifier for this sender (e.g. "twilio", "log").
	Name() string

	// Capabilities returns the channel limits.
	Capabilities() Capabilities

	// Send delivers body to the address to. It returns the provider message id.
	Send(ctx context.Context, to, body string) (string, error)
}
