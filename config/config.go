package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides DefaultPath.
const (
	EnvPath     = "LABDASH_CONFIG"
	DefaultPath = "data/config.yaml"
)

// Config represents the complete console configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Export    ExportConfig    `yaml:"export"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
	UI        UIConfig        `yaml:"ui"`

	// LoadedFrom is the file the configuration was read from.
	LoadedFrom string `yaml:"-"`
}

// ServerConfig contains general console settings
type ServerConfig struct {
	Name string `yaml:"name"`
}

// APIConfig locates the leader's HTTP API.
type APIConfig struct {
	Root           string `yaml:"root"`
	PublicPath     string `yaml:"public_path"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// MQTTConfig contains live feed broker settings
type MQTTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Broker         string `yaml:"broker"`
	Port           int    `yaml:"port"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	// HistoryPerSeries bounds the samples kept per chart series.
	HistoryPerSeries int `yaml:"history_per_series"`
}

// ExportConfig holds export form defaults.
type ExportConfig struct {
	DefaultExperiment      string `yaml:"default_experiment"`
	DownloadDir            string `yaml:"download_dir"`
	DownloadTimeoutSeconds int    `yaml:"download_timeout_seconds"`
}

// DashboardConfig points at the overview panel document.
type DashboardConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig controls the export attempt log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// UIConfig selects the console surface.
type UIConfig struct {
	Mode      string `yaml:"mode"`
	TargetFPS int    `yaml:"target_fps"`
	// RefreshSeconds is the overview recompose and refetch cadence.
	RefreshSeconds int `yaml:"refresh_seconds"`
	// StatsIntervalSeconds is how often stats lines are pushed.
	StatsIntervalSeconds int `yaml:"stats_interval_seconds"`
}

const (
	UIModeTview    = "tview"
	UIModeHeadless = "headless"
)

// ResolvePath returns the config path from the environment or the default.
func ResolvePath() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Purpose: Load configuration from a YAML file.
// Key aspects: Applies defaults after parsing, then validates.
// Upstream: main startup.
// Downstream: yaml.v3, applyDefaults, Validate.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.LoadedFrom = filename
	return cfg, nil
}

// Parse decodes YAML bytes into a defaulted, validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Name) == "" {
		c.Server.Name = "labdash"
	}
	if strings.TrimSpace(c.API.Root) == "" {
		c.API.Root = "http://localhost:4999"
	}
	if strings.TrimSpace(c.API.PublicPath) == "" {
		c.API.PublicPath = "/public/"
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 90
	}
	if strings.TrimSpace(c.MQTT.Broker) == "" {
		c.MQTT.Broker = "localhost"
	}
	if c.MQTT.Port <= 0 {
		c.MQTT.Port = 1883
	}
	if strings.TrimSpace(c.MQTT.ClientIDPrefix) == "" {
		c.MQTT.ClientIDPrefix = "labdash"
	}
	if c.MQTT.HistoryPerSeries <= 0 {
		c.MQTT.HistoryPerSeries = 720
	}
	if strings.TrimSpace(c.Export.DefaultExperiment) == "" {
		c.Export.DefaultExperiment = "Trial-25"
	}
	if strings.TrimSpace(c.Export.DownloadDir) == "" {
		c.Export.DownloadDir = "data/exports"
	}
	if c.Export.DownloadTimeoutSeconds <= 0 {
		c.Export.DownloadTimeoutSeconds = 120
	}
	if strings.TrimSpace(c.Dashboard.Path) == "" {
		c.Dashboard.Path = "data/dashboard.yaml"
	}
	if strings.TrimSpace(c.History.DBPath) == "" {
		c.History.DBPath = "data/history/exports.db"
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = "data/logs"
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	if c.UI.Mode == "" {
		c.UI.Mode = UIModeTview
	}
	if c.UI.TargetFPS <= 0 {
		c.UI.TargetFPS = 4
	}
	if c.UI.RefreshSeconds <= 0 {
		c.UI.RefreshSeconds = 15
	}
	if c.UI.StatsIntervalSeconds <= 0 {
		c.UI.StatsIntervalSeconds = 30
	}
}

// Validate reports settings that cannot be defaulted into something usable.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.API.Root)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.root %q is not an absolute URL", c.API.Root))
	}
	if c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
	}
	switch c.UI.Mode {
	case UIModeTview, UIModeHeadless:
	default:
		errs = append(errs, fmt.Errorf("ui.mode %q must be %q or %q", c.UI.Mode, UIModeTview, UIModeHeadless))
	}
	if c.UI.TargetFPS > 60 {
		errs = append(errs, fmt.Errorf("ui.target_fps %d exceeds 60", c.UI.TargetFPS))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// BrokerURL returns the tcp URL of the MQTT broker.
func (m MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Console: %s (config %s)\n", c.Server.Name, c.LoadedFrom)
	fmt.Printf("API: %s (artifacts under %s, timeout %ds)\n", c.API.Root, c.API.PublicPath, c.API.TimeoutSeconds)
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s (history %d samples/series)\n", c.MQTT.BrokerURL(), c.MQTT.HistoryPerSeries)
	}
	fmt.Printf("Export: default experiment %s, downloads to %s\n", c.Export.DefaultExperiment, c.Export.DownloadDir)
	fmt.Printf("Dashboard: %s\n", c.Dashboard.Path)
	if c.History.Enabled {
		fmt.Printf("History: %s\n", c.History.DBPath)
	}
	if c.Logging.Enabled {
		fmt.Printf("Logging: %s (retention %d days)\n", c.Logging.Dir, c.Logging.RetentionDays)
	}
	fmt.Printf("UI: %s @ %d fps, refresh every %ds\n", c.UI.Mode, c.UI.TargetFPS, c.UI.RefreshSeconds)
}
