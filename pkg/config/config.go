// Package config loads the agent configuration from a YAML file, a .env
// file and ONBOARD_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/dns"
	"github.com/cuemby/onboard/pkg/handler"
	"github.com/cuemby/onboard/pkg/health"
	"github.com/cuemby/onboard/pkg/log"
	"github.com/cuemby/onboard/pkg/retry"
)

// EnvPrefix prefixes every environment override, e.g. ONBOARD_SERVER_ADDRESS
const EnvPrefix = "ONBOARD"

type ServerConfig struct {
	Address     string   `mapstructure:"address"`
	TLS         bool     `mapstructure:"tls"`
	// CORSOrigins lets browser clients on these origins call the API
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// DeviceConfig is the default target. A request's targetHost and
// credentials override it.
type DeviceConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
	// HealthInterval between reachability checks, 0 disables them
	HealthInterval     time.Duration `mapstructure:"health_interval"`
}

type DNSConfig struct {
	// Servers empty means /etc/resolv.conf
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TimingConfig struct {
	ProvisionPollInterval   time.Duration `mapstructure:"provision_poll_interval"`
	ProvisionPollAttempts   int           `mapstructure:"provision_poll_attempts"`
	DHCPPollInterval        time.Duration `mapstructure:"dhcp_poll_interval"`
	DHCPPollAttempts        int           `mapstructure:"dhcp_poll_attempts"`
	DeviceGroupPollInterval time.Duration `mapstructure:"device_group_poll_interval"`
	DeviceGroupPollAttempts int           `mapstructure:"device_group_poll_attempts"`
	RebootPollInterval      time.Duration `mapstructure:"reboot_poll_interval"`
	RebootPollAttempts      int           `mapstructure:"reboot_poll_attempts"`
}

// Config is the full agent configuration
type Config struct {
	Server  ServerConfig `mapstructure:"server"`
	DataDir string       `mapstructure:"data_dir"`
	Log     LogConfig    `mapstructure:"log"`
	Device  DeviceConfig `mapstructure:"device"`
	DNS     DNSConfig    `mapstructure:"dns"`
	Timing  TimingConfig `mapstructure:"timing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8443")
	v.SetDefault("server.tls", true)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("data_dir", "./onboard-data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("device.host", "localhost")
	v.SetDefault("device.port", 443)
	v.SetDefault("device.username", "")
	v.SetDefault("device.password", "")
	v.SetDefault("device.insecure_skip_verify", true)
	v.SetDefault("device.timeout", 60*time.Second)
	v.SetDefault("device.health_interval", 30*time.Second)

	v.SetDefault("dns.servers", []string{})
	v.SetDefault("dns.timeout", 5*time.Second)

	v.SetDefault("timing.provision_poll_interval", time.Second)
	v.SetDefault("timing.provision_poll_attempts", 10)
	v.SetDefault("timing.dhcp_poll_interval", 2*time.Second)
	v.SetDefault("timing.dhcp_poll_attempts", 30)
	v.SetDefault("timing.device_group_poll_interval", 5*time.Second)
	v.SetDefault("timing.device_group_poll_attempts", 60)
	v.SetDefault("timing.reboot_poll_interval", 10*time.Second)
	v.SetDefault("timing.reboot_poll_attempts", 90)
}

// New returns a viper instance with defaults, the env binding and, when
// path is set, the config file. Without a path onboard.yaml is looked up in
// the working directory and /etc/onboard; a missing file is not an error.
func New(path string) (*viper.Viper, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("onboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/onboard")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// loadDotEnv loads .env from the working directory and from the config
// file's directory. Variables already set in the environment win.
func loadDotEnv(path string) error {
	files := []string{".env"}
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			files = append(files, filepath.Join(dir, ".env"))
		}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates a populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the agent cannot run with
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("device.port %d is out of range", c.Device.Port)
	}
	attempts := map[string]int{
		"timing.provision_poll_attempts":    c.Timing.ProvisionPollAttempts,
		"timing.dhcp_poll_attempts":         c.Timing.DHCPPollAttempts,
		"timing.device_group_poll_attempts": c.Timing.DeviceGroupPollAttempts,
		"timing.reboot_poll_attempts":       c.Timing.RebootPollAttempts,
	}
	for key, n := range attempts {
		if n < 1 {
			return fmt.Errorf("%s must be at least 1", key)
		}
	}
	return nil
}

func (c *Config) LogConfig() log.Config {
	return log.Config{Level: log.Level(c.Log.Level), JSONOutput: c.Log.JSON}
}

// DeviceOptions are the session defaults for the configured device
func (c *Config) DeviceOptions() bigip.Options {
	return bigip.Options{
		Host:               c.Device.Host,
		Port:               c.Device.Port,
		Username:           c.Device.Username,
		Password:           c.Device.Password,
		InsecureSkipVerify: c.Device.InsecureSkipVerify,
		Timeout:            c.Device.Timeout,
	}
}

// HealthConfig bounds the device reachability monitor
func (c *Config) HealthConfig() health.Config {
	cfg := health.DefaultConfig()
	cfg.Interval = c.Device.HealthInterval
	if c.Device.Timeout > 0 && c.Device.Timeout < cfg.Timeout {
		cfg.Timeout = c.Device.Timeout
	}
	return cfg
}

func (c *Config) DNSConfig() dns.Config {
	return dns.Config{Servers: c.DNS.Servers, Timeout: c.DNS.Timeout}
}

// HandlerTiming returns the device-condition poll bounds. Cluster sync and
// licensing share the device group bounds.
func (c *Config) HandlerTiming() handler.Timing {
	t := c.Timing
	return handler.Timing{
		ProvisionPoll:   retry.Policy{MaxAttempts: t.ProvisionPollAttempts, Interval: t.ProvisionPollInterval},
		DHCPPoll:        retry.Policy{MaxAttempts: t.DHCPPollAttempts, Interval: t.DHCPPollInterval},
		DeviceGroupPoll: retry.Policy{MaxAttempts: t.DeviceGroupPollAttempts, Interval: t.DeviceGroupPollInterval},
		SyncPoll:        bigip.RetryPolicy{MaxAttempts: t.DeviceGroupPollAttempts, Interval: t.DeviceGroupPollInterval},
		LicensePoll:     bigip.RetryPolicy{MaxAttempts: t.DeviceGroupPollAttempts, Interval: t.DeviceGroupPollInterval},
	}
}

func (c *Config) RebootPoll() retry.Policy {
	return retry.Policy{MaxAttempts: c.Timing.RebootPollAttempts, Interval: c.Timing.RebootPollInterval}
}

func (c *Config) KeyPath() string {
	return filepath.Join(c.DataDir, "secrets.key")
}

func (c *Config) CertDir() string {
	return filepath.Join(c.DataDir, "certs")
}
