package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadFromLayers runs the whole defaults < YAML < env pipeline.
func TestLoadFromLayers(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "env beats yaml",
			yaml: "server:\n  port: \"9090\"\ncheckpoint:\n  backend: memory\n",
			env:  map[string]string{"MODGUARD_PORT": "7070", "MODGUARD_CHECKPOINT_BACKEND": "postgres"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != "7070" || cfg.Checkpoint.Backend != "postgres" {
					t.Errorf("port=%q backend=%q, want 7070/postgres", cfg.Server.Port, cfg.Checkpoint.Backend)
				}
			},
		},
		{
			name: "partial yaml keeps defaults",
			yaml: "scheduler:\n  stats_window: 6h\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Scheduler.StatsWindow != 6*time.Hour {
					t.Errorf("stats_window = %v, want 6h", cfg.Scheduler.StatsWindow)
				}
				if cfg.Server.Port != "8080" || cfg.Limits.Classifier != 8 {
					t.Errorf("defaults lost: port=%q classifier=%d", cfg.Server.Port, cfg.Limits.Classifier)
				}
			},
		},
		{
			name: "unparsable env ignored",
			env: map[string]string{
				"MODGUARD_HASH_DIMENSION":         "wide",
				"MODGUARD_CHECKPOINT_STALE_AFTER": "soon",
				"MODGUARD_AUTO_REJECT_THRESHOLD":  "abc",
			},
			check: func(t *testing.T, cfg *Config) {
				want := Defaults()
				if cfg.Similarity.HashDimension != want.Similarity.HashDimension {
					t.Errorf("hash_dimension = %d", cfg.Similarity.HashDimension)
				}
				if cfg.Checkpoint.StaleAfter != want.Checkpoint.StaleAfter {
					t.Errorf("stale_after = %v", cfg.Checkpoint.StaleAfter)
				}
				if cfg.Scoring.Thresholds.AutoReject != 0.90 {
					t.Errorf("auto_reject = %v", cfg.Scoring.Thresholds.AutoReject)
				}
			},
		},
		{
			name: "scoring and similarity overrides",
			yaml: `
scoring:
  thresholds:
    certainty_floor: 0.6
  appeal_thresholds:
    auto_overturn: 0.8
similarity:
  embedder: hash
  hash_dimension: 64
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Scoring.Thresholds.CertaintyFloor != 0.6 || cfg.Scoring.AppealThresholds.AutoOverturn != 0.8 {
					t.Errorf("scoring = %+v / %+v", cfg.Scoring.Thresholds, cfg.Scoring.AppealThresholds)
				}
				if cfg.Scoring.AppealThresholds.Escalate != 0.50 {
					t.Errorf("appeal escalate default lost: %v", cfg.Scoring.AppealThresholds.Escalate)
				}
				if cfg.Similarity.Embedder != "hash" || cfg.Similarity.HashDimension != 64 {
					t.Errorf("similarity = %+v", cfg.Similarity)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadFrom(writeConfigFile(t, tt.yaml))
			if err != nil {
				t.Fatalf("LoadFrom: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "{{{"},
		{"empty port", "server:\n  port: \"\"\n"},
		{"unknown backend", "checkpoint:\n  backend: etcd\n"},
		{"inverted thresholds", "scoring:\n  thresholds:\n    auto_reject: 0.5\n    escalate: 0.8\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFrom(writeConfigFile(t, tt.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHolderReload(t *testing.T) {
	path := writeConfigFile(t, "logging:\n  level: info\nscheduler:\n  stats_cron: \"@every 5m\"\n")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	holder := NewHolder(cfg, path)

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\nscheduler:\n  stats_cron: \"@hourly\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := holder.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := holder.Get(); got.Logging.Level != "debug" || got.Scheduler.StatsCron != "@hourly" {
		t.Fatalf("after reload: level=%q cron=%q", got.Logging.Level, got.Scheduler.StatsCron)
	}

	// Env still wins on reload.
	t.Setenv("MODGUARD_LOG_LEVEL", "error")
	if err := holder.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := holder.Get().Logging.Level; got != "error" {
		t.Fatalf("level = %q, want error", got)
	}

	// An invalid file leaves the previous config in place.
	if err := os.WriteFile(path, []byte("limits:\n  classifier: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := holder.Reload(); err == nil {
		t.Fatal("expected reload to fail")
	}
	if got := holder.Get(); got.Limits.Classifier != 8 || got.Scheduler.StatsCron != "@hourly" {
		t.Fatalf("previous config not kept: %+v", got.Scheduler)
	}
}
