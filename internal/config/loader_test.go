package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeops/diwatch/internal/status"
)

const minimalYAML = `
mqtt:
  broker: tcp://localhost:1883
source:
  dev_eui: a84041679d5cfcf2
payloads:
  L: "050011EA60"
  H: "030000"
chirpstack:
  server: localhost:8080
  api_token: test-token
fleet:
  source: csv
  csv_path: ./fleet.csv
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "diwatch", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, "application/+/device/+/event/+", cfg.MQTT.Topic)
	assert.Equal(t, "DI1_status", cfg.Source.StatusField)
	assert.Equal(t, 30*time.Second, cfg.Watchdog.Window)
	assert.Equal(t, "H", cfg.Watchdog.DefaultSafe)
	assert.Equal(t, 10, cfg.Dispatch.ConcurrencyCap)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.PerCallTimeout)
	assert.Equal(t, uint32(1), cfg.Dispatch.FPort)
	assert.Equal(t, "controller", cfg.Fleet.Tag)
}

func TestLoadDecodesPayloads(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	require.Len(t, cfg.PayloadBytes, 2)
	assert.Equal(t, []byte{0x05, 0x00, 0x11, 0xEA, 0x60}, cfg.PayloadBytes[status.Low])
	assert.Equal(t, []byte{0x03, 0x00, 0x00}, cfg.PayloadBytes[status.High])
}

func TestLoadRejectsMissingPayload(t *testing.T) {
	content := `
mqtt:
  broker: tcp://localhost:1883
source:
  dev_eui: a84041679d5cfcf2
payloads:
  L: "050011EA60"
chirpstack:
  server: localhost:8080
  api_token: test-token
fleet:
  csv_path: ./fleet.csv
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payloads.H")
}

func TestLoadRejectsBadPayloadHex(t *testing.T) {
	content := `
mqtt:
  broker: tcp://localhost:1883
source:
  dev_eui: a84041679d5cfcf2
payloads:
  L: "not-hex"
  H: "030000"
chirpstack:
  server: localhost:8080
  api_token: test-token
fleet:
  csv_path: ./fleet.csv
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hex")
}

func TestLoadRejectsUnknownSafeToken(t *testing.T) {
	content := minimalYAML + `
watchdog:
  default_safe: X
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_safe")
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("DIWATCH_TEST_TOKEN", "secret-from-env")

	content := `
mqtt:
  broker: tcp://localhost:1883
source:
  dev_eui: a84041679d5cfcf2
payloads:
  L: "050011EA60"
  H: "030000"
chirpstack:
  server: localhost:8080
  api_token: ${DIWATCH_TEST_TOKEN}
fleet:
  csv_path: ./fleet.csv
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.ChirpStack.APIToken)
}

func TestLoadRejectsUnresolvedEnv(t *testing.T) {
	content := `
mqtt:
  broker: tcp://localhost:1883
source:
  dev_eui: a84041679d5cfcf2
payloads:
  L: "050011EA60"
  H: "030000"
chirpstack:
  server: localhost:8080
  api_token: ${DIWATCH_DEFINITELY_UNSET_VAR}
fleet:
  csv_path: ./fleet.csv
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DIWATCH_DEFINITELY_UNSET_VAR")
}

func TestLoadRequiresAPIKeyWhenAPIEnabled(t *testing.T) {
	content := minimalYAML + `
api:
  enabled: true
  listen: 127.0.0.1:8385
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.api_key")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
