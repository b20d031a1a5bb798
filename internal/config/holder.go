package config

import (
	"fmt"
	"sync"
)

// Holder keeps the active Config and swaps it on Reload. Readers always
// see a complete Config.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps cfg, remembering the YAML path used for reloads.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Get returns the active Config.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-reads the YAML file and environment. On failure the previous
// Config stays active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", h.path, err)
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return nil
}
