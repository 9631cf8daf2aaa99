package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Http.Port)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Command.Timeout)
	assert.Equal(t, "sh", cfg.Command.Shell)
	assert.True(t, cfg.Command.Enabled)
	assert.False(t, cfg.Fetch.FailOnStatus)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("PROBE_TEST_UA", "agent/1")
	path := writeConfig(t, `
http:
  port: "9090"
  use_auth: true
fetch:
  timeout: 5s
  user_agent: ${PROBE_TEST_UA}
  fail_on_status: true
command:
  shell: bash -o pipefail
  timeout: 1m
  dir: ${PROBE_TEST_DIR:-/tmp}
logger:
  level: debug
  format: console
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Http.Port)
	assert.True(t, cfg.Http.UseAuth)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "agent/1", cfg.Fetch.UserAgent)
	assert.True(t, cfg.Fetch.FailOnStatus)
	assert.Equal(t, "bash -o pipefail", cfg.Command.Shell)
	assert.Equal(t, time.Minute, cfg.Command.Timeout)
	assert.Equal(t, "/tmp", cfg.Command.Dir)
	assert.Equal(t, "debug", cfg.Logger.Level)
	// untouched sections keep their defaults
	assert.Equal(t, int64(10<<20), cfg.Fetch.MaxBodyBytes)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "reading config file")
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "http: [")
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "parsing config file")
}

func TestEnvOverrides(t *testing.T) {
	jwt := base64.StdEncoding.EncodeToString([]byte(" eyJ.jwt \n"))
	t.Setenv("NEX_WORKLOAD_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("NEX_WORKLOAD_NATS_NKEY", " SUAXXX ")
	t.Setenv("NEX_WORKLOAD_NATS_B64_JWT", jwt)
	t.Setenv("INSPECTOR_HTTP_PORT", "8181")
	t.Setenv("PROBE_COMMAND_TIMEOUT", "2s")
	t.Setenv("PROBE_COMMAND_ENABLED", "false")
	t.Setenv("PROBE_FETCH_BLOCK_PRIVATE_NETWORKS", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Workloads.NatsUrl)
	assert.Equal(t, "SUAXXX", cfg.Workloads.NatsNkey)
	assert.Equal(t, "eyJ.jwt", cfg.Workloads.NatsJwt)
	assert.Equal(t, "8181", cfg.Http.Port)
	assert.Equal(t, 2*time.Second, cfg.Command.Timeout)
	assert.False(t, cfg.Command.Enabled)
	assert.True(t, cfg.Fetch.BlockPrivateNetworks)
}

func TestEnvOverridesErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		err  string
	}{
		{"bad jwt", "NEX_WORKLOAD_NATS_B64_JWT", "!!!", "invalid base64"},
		{"bad duration", "PROBE_FETCH_TIMEOUT", "soon", "PROBE_FETCH_TIMEOUT is not a duration"},
		{"bad bool", "PROBE_HTTP_USE_AUTH", "maybe", "PROBE_HTTP_USE_AUTH is not a boolean"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Setenv(test.key, test.val)
			_, err := LoadConfig("")
			require.ErrorContains(t, err, test.err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		err    string
	}{
		{"ok", func(c *Config) {}, ""},
		{"half creds", func(c *Config) {
			c.Workloads.NatsUrl = "nats://x"
			c.Workloads.NatsNkey = "SU"
		}, "both an nkey seed and a jwt"},
		{"bad port", func(c *Config) { c.Http.Port = "http" }, "invalid http port"},
		{"port ignored when http disabled", func(c *Config) {
			c.Http.Enabled = false
			c.Http.Port = ""
		}, ""},
		{"negative timeout", func(c *Config) { c.Command.Timeout = -time.Second }, "command timeout"},
		{"empty shell", func(c *Config) { c.Command.Shell = " " }, "shell must not be empty"},
		{"bad format", func(c *Config) { c.Logger.Format = "xml" }, "invalid log format"},
		{"bad exporter", func(c *Config) { c.Tracer.Exporter = "jaeger" }, "unsupported tracer exporter"},
		{"rate limit without burst", func(c *Config) {
			c.Http.RateLimitPerMin = 60
			c.Http.RateLimitBurst = 0
		}, "rate_limit_burst"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Defaults()
			test.mutate(cfg)
			err := cfg.Validate()
			if test.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, test.err)
		})
	}
}

func TestWriteCreds(t *testing.T) {
	dir := t.TempDir()
	w := WorkloadsConfig{NatsJwt: "eyJ.jwt", NatsNkey: "SUAXXX"}

	path, err := w.WriteCreds(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "creds.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-----BEGIN NATS USER JWT-----\neyJ.jwt\n")
	assert.Contains(t, string(data), "-----BEGIN USER NKEY SEED-----\nSUAXXX\n")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
