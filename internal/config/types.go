// Package config loads, validates, and integrity-checks the daemon
// configuration. Configuration is a single YAML file with ${VAR} environment
// interpolation; an optional .checksums file alongside it pins the file to a
// BLAKE3 hash.
package config

import (
	"time"

	"github.com/skeops/diwatch/internal/status"
)

// Config is the root configuration.
type Config struct {
	Service    ServiceConfig     `yaml:"service"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	Source     SourceConfig      `yaml:"source"`
	Watchdog   WatchdogConfig    `yaml:"watchdog"`
	Payloads   map[string]string `yaml:"payloads"`
	Dispatch   DispatchConfig    `yaml:"dispatch"`
	ChirpStack ChirpStackConfig  `yaml:"chirpstack"`
	Fleet      FleetConfig       `yaml:"fleet"`
	State      StateConfig       `yaml:"state"`
	API        APIConfig         `yaml:"api"`

	// PayloadBytes is the decoded form of Payloads, keyed by status token.
	// Populated during validation.
	PayloadBytes map[status.Token][]byte `yaml:"-"`
}

// ServiceConfig holds daemon-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SourceConfig identifies the single authoritative status source.
type SourceConfig struct {
	DevEUI      string `yaml:"dev_eui"`
	StatusField string `yaml:"status_field"`
}

// WatchdogConfig holds deadman timer settings.
type WatchdogConfig struct {
	Window      time.Duration `yaml:"window"`
	DefaultSafe string        `yaml:"default_safe"`
}

// DispatchConfig holds fan-out settings.
type DispatchConfig struct {
	ConcurrencyCap int           `yaml:"concurrency_cap"`
	PerCallTimeout time.Duration `yaml:"per_call_timeout"`
	FPort          uint32        `yaml:"f_port"`
	Confirmed      bool          `yaml:"confirmed"`
}

// ChirpStackConfig holds the command channel endpoint and credentials.
type ChirpStackConfig struct {
	Server   string `yaml:"server"`
	APIToken string `yaml:"api_token"`
}

// FleetConfig selects where the dispatch target list comes from.
type FleetConfig struct {
	Source  string `yaml:"source"` // "csv" or "sqlite"
	CSVPath string `yaml:"csv_path"`
	Tag     string `yaml:"tag"`
}

// StateConfig holds the SQLite state path.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig holds the optional ops API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// ChecksumManifest is the parsed .checksums file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns the baseline configuration merged under the loaded file.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "diwatch",
			LogLevel:  "info",
			LogFormat: "json",
		},
		MQTT: MQTTConfig{
			Topic:    "application/+/device/+/event/+",
			ClientID: "diwatch",
		},
		Source: SourceConfig{
			StatusField: "DI1_status",
		},
		Watchdog: WatchdogConfig{
			Window:      30 * time.Second,
			DefaultSafe: "H",
		},
		Dispatch: DispatchConfig{
			ConcurrencyCap: 10,
			PerCallTimeout: 5 * time.Second,
			FPort:          1,
		},
		Fleet: FleetConfig{
			Source: "csv",
			Tag:    "controller",
		},
		State: StateConfig{
			Path: "./state/diwatch.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8385",
		},
	}
}
