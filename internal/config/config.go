package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

const credsTempl = `-----BEGIN NATS USER JWT-----
{{.Jwt}}
------END NATS USER JWT------

************************* IMPORTANT *************************
NKEY Seed printed below can be used to sign and prove identity.
NKEYs are sensitive and should be treated as secrets.

-----BEGIN USER NKEY SEED-----
{{.Nkey}}
------END USER NKEY SEED------

*************************************************************`

type WorkloadsConfig struct {
	NatsUrl  string `yaml:"nats_url"`
	NatsNkey string `yaml:"nats_nkey"`
	NatsJwt  string `yaml:"nats_jwt"`
	// write a creds file to the home directory on start
	SaveCreds bool `yaml:"save_creds"`
}

type HttpConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            string        `yaml:"port"`
	UseAuth         bool          `yaml:"use_auth"`
	Token           string        `yaml:"token"`              // generated when empty
	RateLimitPerMin int           `yaml:"rate_limit_per_min"` // 0 disables
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type FetchConfig struct {
	Timeout              time.Duration `yaml:"timeout"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
	UserAgent            string        `yaml:"user_agent"`
	FailOnStatus         bool          `yaml:"fail_on_status"`
	BlockPrivateNetworks bool          `yaml:"block_private_networks"`
}

type CommandConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Shell          string        `yaml:"shell"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxOutputBytes int64         `yaml:"max_output_bytes"`
	Dir            string        `yaml:"dir"`
	Env            []string      `yaml:"env"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

type Config struct {
	Workloads WorkloadsConfig `yaml:"workloads"`
	Http      HttpConfig      `yaml:"http"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Command   CommandConfig   `yaml:"command"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// Defaults returns a config usable without a file or environment.
func Defaults() *Config {
	return &Config{
		Http: HttpConfig{
			Enabled:         true,
			Port:            "8080",
			RateLimitBurst:  10,
			ShutdownTimeout: 10 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:      30 * time.Second,
			MaxBodyBytes: 10 << 20,
			UserAgent:    "workload-probe/0.1",
		},
		Command: CommandConfig{
			Enabled:        true,
			Shell:          "sh",
			Timeout:        30 * time.Second,
			MaxOutputBytes: 1 << 20,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// LoadConfig builds the config from defaults, an optional YAML file and the
// environment, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} in raw config bytes.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := strings.TrimSuffix(strings.TrimPrefix(string(match), "${"), "}")

		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		if hasDefault {
			return []byte(defaultVal)
		}
		return match
	})
}

// ApplyEnvOverrides applies the NEX workload variables and PROBE_* overrides.
func ApplyEnvOverrides(cfg *Config) error {
	// Workloads config
	if v := os.Getenv("NEX_WORKLOAD_NATS_URL"); v != "" {
		cfg.Workloads.NatsUrl = v
	}
	if v := strings.TrimSpace(os.Getenv("NEX_WORKLOAD_NATS_NKEY")); v != "" {
		cfg.Workloads.NatsNkey = v
	}
	if v := os.Getenv("NEX_WORKLOAD_NATS_B64_JWT"); v != "" {
		jwtBytes, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("NEX_WORKLOAD_NATS_B64_JWT is invalid base64: %w", err)
		}
		cfg.Workloads.NatsJwt = strings.TrimSpace(string(jwtBytes))
	}
	if os.Getenv("container") != "" {
		cfg.Workloads.SaveCreds = true
	}

	// Inspector config
	if v := os.Getenv("INSPECTOR_HTTP_PORT"); v != "" {
		cfg.Http.Port = v
	}
	if v := os.Getenv("PROBE_HTTP_PORT"); v != "" {
		cfg.Http.Port = v
	}

	var err error
	if cfg.Http.UseAuth, err = envBool("PROBE_HTTP_USE_AUTH", cfg.Http.UseAuth); err != nil {
		return err
	}
	if v := os.Getenv("PROBE_HTTP_TOKEN"); v != "" {
		cfg.Http.Token = v
	}
	if cfg.Fetch.Timeout, err = envDuration("PROBE_FETCH_TIMEOUT", cfg.Fetch.Timeout); err != nil {
		return err
	}
	if cfg.Fetch.FailOnStatus, err = envBool("PROBE_FETCH_FAIL_ON_STATUS", cfg.Fetch.FailOnStatus); err != nil {
		return err
	}
	if cfg.Fetch.BlockPrivateNetworks, err = envBool("PROBE_FETCH_BLOCK_PRIVATE_NETWORKS", cfg.Fetch.BlockPrivateNetworks); err != nil {
		return err
	}
	if cfg.Command.Enabled, err = envBool("PROBE_COMMAND_ENABLED", cfg.Command.Enabled); err != nil {
		return err
	}
	if cfg.Command.Timeout, err = envDuration("PROBE_COMMAND_TIMEOUT", cfg.Command.Timeout); err != nil {
		return err
	}
	if v := os.Getenv("PROBE_COMMAND_SHELL"); v != "" {
		cfg.Command.Shell = v
	}
	if v := os.Getenv("PROBE_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PROBE_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("PROBE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Enabled = true
		cfg.Tracer.Exporter = v
	}
	return nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s is not a boolean: %q", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s is not a duration: %q", key, v)
	}
	return d, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	w := c.Workloads
	if w.NatsUrl != "" && (w.NatsNkey == "") != (w.NatsJwt == "") {
		return fmt.Errorf("nats credentials need both an nkey seed and a jwt")
	}

	if c.Http.Enabled {
		port, err := strconv.Atoi(c.Http.Port)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid http port %q", c.Http.Port)
		}
	}
	if c.Http.RateLimitPerMin < 0 || c.Http.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if c.Http.RateLimitPerMin > 0 && c.Http.RateLimitBurst == 0 {
		return fmt.Errorf("rate_limit_burst must be positive when rate limiting is enabled")
	}

	if c.Fetch.Timeout < 0 {
		return fmt.Errorf("fetch timeout must not be negative")
	}
	if c.Command.Timeout < 0 {
		return fmt.Errorf("command timeout must not be negative")
	}
	if strings.TrimSpace(c.Command.Shell) == "" {
		return fmt.Errorf("command shell must not be empty")
	}

	switch strings.ToLower(c.Logger.Format) {
	case "json", "console", "":
	default:
		return fmt.Errorf("invalid log format %q", c.Logger.Format)
	}

	switch c.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		return fmt.Errorf("unsupported tracer exporter %q", c.Tracer.Exporter)
	}
	return nil
}

// WriteCreds writes a NATS user creds file into dir and returns its path.
func (w WorkloadsConfig) WriteCreds(dir string) (string, error) {
	tmpl, err := template.New("creds").Parse(credsTempl)
	if err != nil {
		return "", fmt.Errorf("error parsing creds template: %w", err)
	}

	if dir == "" {
		dir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("error getting user home directory: %w", err)
		}
	}

	file, err := os.OpenFile(filepath.Join(dir, "creds.txt"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("error creating nats creds file: %w", err)
	}
	defer file.Close()

	err = tmpl.Execute(file, map[string]string{
		"Jwt":  w.NatsJwt,
		"Nkey": w.NatsNkey,
	})
	if err != nil {
		return "", fmt.Errorf("error writing nats creds file: %w", err)
	}
	return file.Name(), nil
}
