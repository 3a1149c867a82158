// Package secrets holds provider credentials in memory with hot reload, so
// rotated Twilio and model API keys take effect without a restart.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
)

// Loader retrieves secrets from a source (env vars, file, remote vault, etc.).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu        sync.RWMutex
	values    map[string]string
	loader    Loader
	listeners []func()
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Getter returns a function reading key on every call.
func (v *Vault) Getter(key string) func() string {
	return func() string { return v.Get(key) }
}

// Keys returns the sorted names of all loaded secrets.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OnReload registers fn to run after every successful reload.
func (v *Vault) OnReload(fn func()) {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	listeners := append([]func(){}, v.listeners...)
	v.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// WatchSIGHUP reloads the vault whenever the process receives SIGHUP, until
// ctx is cancelled.
func (v *Vault) WatchSIGHUP(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if err := v.Reload(); err != nil {
					slog.Error("secret reload failed", "error", err)
					continue
				}
				slog.Info("secrets reloaded", "keys", len(v.Keys()))
			}
		}
	}()
}

// Redacted returns a masked form of the secret for logging: the first two
// characters followed by "****", or "****" for short values.
func (v *Vault) Redacted(key string) string {
	val := v.Get(key)
	if val == "" {
		return ""
	}
	return mask(val)
}

func mask(val string) string {
	if len(val) <= 4 {
		return "****"
	}
	return val[:2] + "****"
}
