package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucidmem/recall/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recall.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
profile: conservative
data_dir: /var/lib/recall
segmentation:
  policy: time
  base_gap: 90s
search:
  semantic_weight: 0.7
  keyword_weight: 0.3
cache:
  ttl: 30s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Profile != "conservative" || cfg.DataDir != "/var/lib/recall" {
		t.Errorf("top-level overrides not applied: %+v", cfg)
	}
	if cfg.Segmentation.BaseGap.Std() != 90*time.Second {
		t.Errorf("base gap = %v", cfg.Segmentation.BaseGap.Std())
	}
	// Untouched fields keep defaults.
	if cfg.Segmentation.MaxMessages != 50 {
		t.Errorf("default max messages lost: %d", cfg.Segmentation.MaxMessages)
	}
	if cfg.Search.SemanticWeight != 0.7 || cfg.Search.KeywordWeight != 0.3 {
		t.Errorf("search weights = %+v", cfg.Search)
	}
	if cfg.Cache.TTL.Std() != 30*time.Second {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL.Std())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown profile", "profile: enormous"},
		{"unknown policy", "segmentation:\n  policy: psychic"},
		{"negative weight", "search:\n  semantic_weight: -1"},
		{"rerank without model", "rerank:\n  enabled: true"},
		{"negative retention", "retention:\n  days: -7"},
		{"bad duration", "segmentation:\n  base_gap: ninety"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := Load(path); err == nil {
				t.Errorf("config %q should be rejected", tc.body)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("missing file error = %v, want ErrConfiguration", err)
	}
}

func TestManagerReloadSwapsSnapshot(t *testing.T) {
	path := writeConfig(t, "data_dir: first")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if m.Current().DataDir != "first" {
		t.Fatalf("initial snapshot = %q", m.Current().DataDir)
	}

	if err := os.WriteFile(path, []byte("data_dir: second"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if _, err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Current().DataDir != "second" {
		t.Errorf("snapshot after reload = %q", m.Current().DataDir)
	}
}

func TestManagerKeepsSnapshotOnBadReload(t *testing.T) {
	path := writeConfig(t, "data_dir: good")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := os.WriteFile(path, []byte("segmentation:\n  policy: psychic"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if _, err := m.Reload(); err == nil {
		t.Fatal("invalid reload should fail")
	}
	if m.Current().DataDir != "good" {
		t.Errorf("previous snapshot lost: %q", m.Current().DataDir)
	}
}
