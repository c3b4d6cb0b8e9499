package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/skeops/diwatch/internal/status"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults, integrity-checks, and validates the
// configuration file at configPath.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $DIWATCH_CONFIG, ~/.config/diwatch/config.yaml,
// /etc/diwatch/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("DIWATCH_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".config", "diwatch", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}

	systemPath := "/etc/diwatch/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}

	legacyPath := "./config.yaml"
	if _, err := os.Stat(legacyPath); err == nil {
		return legacyPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $DIWATCH_CONFIG, ~/.config/diwatch, /etc/diwatch, ./config.yaml)")
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// verifyConfigHash checks the config file against a .checksums manifest in
// the same directory. A missing manifest skips verification; a manifest that
// omits the file, or a hash mismatch, is fatal.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if err != nil {
		return nil
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: diwatch config lock --config %s", basename, dir, path)
	}

	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"If you edited this file intentionally, run: diwatch config lock --config %s", path, err, path)
	}
	return nil
}

// applyDefaults merges default values into cfg where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = defaults.MQTT.Topic
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = defaults.MQTT.ClientID
	}

	if cfg.Source.StatusField == "" {
		cfg.Source.StatusField = defaults.Source.StatusField
	}

	if cfg.Watchdog.Window == 0 {
		cfg.Watchdog.Window = defaults.Watchdog.Window
	}
	if cfg.Watchdog.DefaultSafe == "" {
		cfg.Watchdog.DefaultSafe = defaults.Watchdog.DefaultSafe
	}

	if cfg.Dispatch.ConcurrencyCap == 0 {
		cfg.Dispatch.ConcurrencyCap = defaults.Dispatch.ConcurrencyCap
	}
	if cfg.Dispatch.PerCallTimeout == 0 {
		cfg.Dispatch.PerCallTimeout = defaults.Dispatch.PerCallTimeout
	}
	if cfg.Dispatch.FPort == 0 {
		cfg.Dispatch.FPort = defaults.Dispatch.FPort
	}

	if cfg.Fleet.Source == "" {
		cfg.Fleet.Source = defaults.Fleet.Source
	}
	if cfg.Fleet.Tag == "" {
		cfg.Fleet.Tag = defaults.Fleet.Tag
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and caught by validation.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate checks the configuration and decodes payload hex. A config that
// passes validation can start the daemon without further checks.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[cfg.Service.LogFormat] {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if err := checkResolved("mqtt.password", cfg.MQTT.Password); err != nil {
		return err
	}

	if cfg.Source.DevEUI == "" {
		return fmt.Errorf("source.dev_eui is required")
	}
	if cfg.Source.StatusField == "" {
		return fmt.Errorf("source.status_field is required")
	}

	if cfg.Watchdog.Window <= 0 {
		return fmt.Errorf("watchdog.window must be positive")
	}
	if _, ok := status.Parse(cfg.Watchdog.DefaultSafe); !ok {
		return fmt.Errorf("watchdog.default_safe must be one of %v (got %q)",
			status.Tokens(), cfg.Watchdog.DefaultSafe)
	}

	// Every recognized status token needs a decodable payload mapping.
	cfg.PayloadBytes = make(map[status.Token][]byte, len(status.Tokens()))
	for _, token := range status.Tokens() {
		raw, ok := cfg.Payloads[string(token)]
		if !ok || raw == "" {
			return fmt.Errorf("payloads.%s is required", token)
		}
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("payloads.%s: invalid hex %q: %w", token, raw, err)
		}
		cfg.PayloadBytes[token] = decoded
	}

	if cfg.Dispatch.ConcurrencyCap <= 0 {
		return fmt.Errorf("dispatch.concurrency_cap must be positive")
	}
	if cfg.Dispatch.PerCallTimeout <= 0 {
		return fmt.Errorf("dispatch.per_call_timeout must be positive")
	}

	if cfg.ChirpStack.Server == "" {
		return fmt.Errorf("chirpstack.server is required")
	}
	if cfg.ChirpStack.APIToken == "" {
		return fmt.Errorf("chirpstack.api_token is required")
	}
	if err := checkResolved("chirpstack.api_token", cfg.ChirpStack.APIToken); err != nil {
		return err
	}

	switch cfg.Fleet.Source {
	case "csv":
		if cfg.Fleet.CSVPath == "" {
			return fmt.Errorf("fleet.csv_path is required when fleet.source is csv")
		}
	case "sqlite":
	default:
		return fmt.Errorf("fleet.source must be csv or sqlite (got %q)", cfg.Fleet.Source)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if cfg.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required when api.enabled is true")
		}
		if err := checkResolved("api.api_key", cfg.API.APIKey); err != nil {
			return err
		}
	}

	return nil
}

// checkResolved rejects values still carrying a ${VAR} placeholder so that
// missing secrets fail at startup, not at first use.
func checkResolved(field, value string) error {
	if envVarPattern.MatchString(value) {
		matches := envVarPattern.FindStringSubmatch(value)
		if len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
		}
		return fmt.Errorf("%s: unresolved environment variable", field)
	}
	return nil
}
