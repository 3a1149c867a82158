package twilio

import (
	"time"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messenger"
)

func init() {
	messenger.Register(providerName, func(cfg map[string]string) (messenger.Sender, error) {
		timeout, _ := time.ParseDuration(cfg["timeout"])
		return NewSender(cfg["account_sid"], cfg["auth_token"], cfg["from"], cfg["base_url"], timeout), nil
	})
}
