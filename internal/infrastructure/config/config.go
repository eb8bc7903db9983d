package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the Percy section. Exported so the percy package and tests agree
// on the same values without re-declaring them.
const (
	DefaultServerAddress = "http://127.0.0.1:5338"
	DefaultTokenURL      = "https://api.browserstack.com/api/app_percy/get_project_token"
	DefaultLogFile       = "logs/percy.log"
	DefaultPollInterval  = 1 * time.Second
	DefaultStopTimeout   = 10 * time.Second
	DefaultTokenTimeout  = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// Config is the root configuration structure for the Percy supervisor.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Percy        PercyConfig        `yaml:"percy"`
	BrowserStack BrowserStackConfig `yaml:"browserstack"`
	Logging      LoggingConfig      `yaml:"logging"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
}

// PercyConfig contains settings for the supervised Percy CLI.
type PercyConfig struct {
	// Binary is the path to the percy executable.
	// If empty, "percy" is looked up on PATH.
	Binary string `yaml:"binary"`

	// App is the app-under-test identifier. When set, the session targets a
	// mobile app: the token request uses type=app and the CLI is started
	// with app:exec:start.
	App string `yaml:"app"`

	// ProjectName is sent to the token endpoint as the Percy project name.
	ProjectName string `yaml:"project_name"`

	// CaptureMode explicitly overrides the vendor capture mode (e.g. "auto", "manual").
	CaptureMode string `yaml:"capture_mode"`

	// Enabled reports whether the user explicitly turned Percy on.
	// When false the vendor may still auto-enable it.
	Enabled bool `yaml:"enabled"`

	// ServerAddress is the base URL of the local Percy server.
	// Overridden by PERCY_SERVER_ADDRESS.
	ServerAddress string `yaml:"server_address"`

	// TokenURL is the vendor project-token endpoint.
	TokenURL string `yaml:"token_url"`

	// LogFile receives the CLI's stdout and stderr (append mode).
	LogFile string `yaml:"log_file"`

	// TempDir is where percy.json is written. Defaults to os.TempDir().
	TempDir string `yaml:"temp_dir"`

	PollInterval  time.Duration `yaml:"poll_interval"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
	TokenTimeout  time.Duration `yaml:"token_timeout"`
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// Options is the user's Percy CLI configuration, written verbatim to
	// percy.json. If empty, the CLI runs with its built-in defaults.
	Options map[string]any `yaml:"options"`
}

// BrowserStackConfig contains account credentials for the vendor API.
type BrowserStackConfig struct {
	Username  string `yaml:"username"`
	AccessKey string `yaml:"access_key"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker connection settings for lifecycle events.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for lifecycle metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration with Read and then validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Read builds a configuration without validating it. Values are layered:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// PERCY_SERVER_ADDRESS is read here, once, and carried in Percy.ServerAddress.
// Commands that only check local services use Read so that they do not
// need BrowserStack credentials.
func Read(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Percy: PercyConfig{
			ServerAddress: DefaultServerAddress,
			TokenURL:      DefaultTokenURL,
			LogFile:       DefaultLogFile,
			PollInterval:  DefaultPollInterval,
			StopTimeout:   DefaultStopTimeout,
			TokenTimeout:  DefaultTokenTimeout,
			HealthTimeout: DefaultHealthTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "percy-supervisor",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Percy
	if v := os.Getenv("PERCY_SERVER_ADDRESS"); v != "" {
		cfg.Percy.ServerAddress = v
	}
	if v := os.Getenv("PERCY_SUPERVISOR_BINARY"); v != "" {
		cfg.Percy.Binary = v
	}

	// Credentials should never live in the YAML file in CI.
	if v := os.Getenv("BROWSERSTACK_USERNAME"); v != "" {
		cfg.BrowserStack.Username = v
	}
	if v := os.Getenv("BROWSERSTACK_ACCESS_KEY"); v != "" {
		cfg.BrowserStack.AccessKey = v
	}

	// MQTT
	if v := os.Getenv("PERCY_SUPERVISOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PERCY_SUPERVISOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.BrowserStack.Username == "" {
		errs = append(errs, "browserstack.username is required (set BROWSERSTACK_USERNAME environment variable)")
	}
	if c.BrowserStack.AccessKey == "" {
		errs = append(errs, "browserstack.access_key is required (set BROWSERSTACK_ACCESS_KEY environment variable)")
	}

	if c.Percy.ServerAddress == "" {
		errs = append(errs, "percy.server_address is required")
	}
	if c.Percy.TokenURL == "" {
		errs = append(errs, "percy.token_url is required")
	}
	if c.Percy.LogFile == "" {
		errs = append(errs, "percy.log_file is required")
	}
	if c.Percy.PollInterval < 0 {
		errs = append(errs, "percy.poll_interval must not be negative")
	}
	if c.Percy.StopTimeout < 0 {
		errs = append(errs, "percy.stop_timeout must not be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TargetsApp reports whether the session runs against a mobile app under test.
func (p PercyConfig) TargetsApp() bool {
	return p.App != ""
}
