package config

import (
	"log/slog"
	"sync/atomic"
)

// Holder publishes the current Config and swaps it on Reload. Readers
// never see a partially applied config.
type Holder struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewHolder wraps cfg, remembering path for reloads.
func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.cur.Store(cfg)
	return h
}

// Get returns the current config. Callers must not modify it.
func (h *Holder) Get() *Config {
	return h.cur.Load()
}

// Reload re-reads the YAML file and environment. An invalid result leaves
// the current config in place.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		slog.Warn("config reload rejected", "path", h.path, "error", err)
		return err
	}
	h.cur.Store(cfg)
	slog.Info("config reloaded", "path", h.path)
	return nil
}
