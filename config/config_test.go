package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  name: \"Bench\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := filepath.Clean(cfg.LoadedFrom); got != filepath.Clean(path) {
		t.Fatalf("expected LoadedFrom=%s, got %s", path, got)
	}
	if cfg.Server.Name != "Bench" {
		t.Fatalf("expected server.name Bench, got %q", cfg.Server.Name)
	}
	if cfg.API.Root != "http://localhost:4999" || cfg.API.PublicPath != "/public/" {
		t.Fatalf("unexpected api defaults: %+v", cfg.API)
	}
	if cfg.Export.DefaultExperiment != "Trial-25" {
		t.Fatalf("expected default experiment Trial-25, got %q", cfg.Export.DefaultExperiment)
	}
	if cfg.UI.RefreshSeconds != 15 || cfg.UI.StatsIntervalSeconds != 30 {
		t.Fatalf("unexpected refresh defaults: %+v", cfg.UI)
	}
	if cfg.UI.Mode != UIModeTview || cfg.UI.TargetFPS != 4 {
		t.Fatalf("unexpected ui defaults: %+v", cfg.UI)
	}
	if cfg.Logging.RetentionDays != 7 {
		t.Fatalf("expected retention_days=7, got %d", cfg.Logging.RetentionDays)
	}
	if cfg.MQTT.BrokerURL() != "tcp://localhost:1883" {
		t.Fatalf("unexpected broker url %q", cfg.MQTT.BrokerURL())
	}
}

func TestParseKeepsExplicitValues(t *testing.T) {
	doc := `api:
  root: "http://leader.local"
  public_path: "/artifacts/"
mqtt:
  enabled: true
  broker: "leader.local"
  port: 1884
export:
  default_experiment: "Batch-7"
  download_dir: "/tmp/exports"
history:
  enabled: true
  db_path: "/tmp/h.db"
ui:
  mode: HEADLESS
  target_fps: 10
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.API.Root != "http://leader.local" || cfg.API.PublicPath != "/artifacts/" {
		t.Fatalf("unexpected api section: %+v", cfg.API)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.BrokerURL() != "tcp://leader.local:1884" {
		t.Fatalf("unexpected mqtt section: %+v", cfg.MQTT)
	}
	if cfg.Export.DefaultExperiment != "Batch-7" || cfg.Export.DownloadDir != "/tmp/exports" {
		t.Fatalf("unexpected export section: %+v", cfg.Export)
	}
	if !cfg.History.Enabled || cfg.History.DBPath != "/tmp/h.db" {
		t.Fatalf("unexpected history section: %+v", cfg.History)
	}
	if cfg.UI.Mode != UIModeHeadless || cfg.UI.TargetFPS != 10 {
		t.Fatalf("unexpected ui section: %+v", cfg.UI)
	}
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"relative api root", "api:\n  root: leader\n", "api.root"},
		{"unknown ui mode", "ui:\n  mode: web\n", "ui.mode"},
		{"port out of range", "mqtt:\n  port: 70000\n", "mqtt.port"},
		{"fps too high", "ui:\n  target_fps: 120\n", "ui.target_fps"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("api: [unterminated")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvPath, "")
	if got := ResolvePath(); got != DefaultPath {
		t.Fatalf("expected default path, got %q", got)
	}
	t.Setenv(EnvPath, " /etc/labdash.yaml ")
	if got := ResolvePath(); got != "/etc/labdash.yaml" {
		t.Fatalf("expected env override, got %q", got)
	}
}
