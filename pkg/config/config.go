// Package config provides configuration file support for gridlink.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/fsutil"
	"github.com/gridlink-project/gridlink/pkg/model"
	"github.com/gridlink-project/gridlink/pkg/pathutil"
)

// EnvPrefix is the prefix of environment overrides, e.g. GRIDLINK_HOST.
const EnvPrefix = "GRIDLINK"

// Config represents the gridlink configuration.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Restart    RestartConfig    `yaml:"restart"`
	Transfer   TransferConfig   `yaml:"transfer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ConnectionConfig describes the grid endpoint and the local security posture.
type ConnectionConfig struct {
	Host              string        `yaml:"host" split_words:"true"`
	Port              int           `yaml:"port" split_words:"true"`
	Zone              string        `yaml:"zone" split_words:"true"`
	User              string        `yaml:"user" split_words:"true"`
	NegotiationPolicy string        `yaml:"negotiation_policy" split_words:"true"`
	DialTimeout       time.Duration `yaml:"dial_timeout" split_words:"true"`
	TLS               TLSConfig     `yaml:"tls" ignored:"true"`
}

// TLSConfig configures channel promotion.
type TLSConfig struct {
	ServerName         string `yaml:"server_name" split_words:"true"`
	CAFile             string `yaml:"ca_file" split_words:"true"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" split_words:"true"`
}

// RestartConfig selects and tunes the restart ledger backend.
type RestartConfig struct {
	Backend     string        `yaml:"backend" split_words:"true"`
	Dir         string        `yaml:"dir" split_words:"true"`
	MaxAttempts int           `yaml:"max_attempts" split_words:"true"`
	CacheSize   int           `yaml:"cache_size" split_words:"true"`
	Backoff     BackoffConfig `yaml:"backoff" ignored:"true"`
}

// BackoffConfig is the delay schedule between transfer attempts.
type BackoffConfig struct {
	Min    time.Duration `yaml:"min" split_words:"true"`
	Max    time.Duration `yaml:"max" split_words:"true"`
	Factor float64       `yaml:"factor" split_words:"true"`
}

// TransferConfig configures parallel transfers.
type TransferConfig struct {
	Threads int `yaml:"threads" split_words:"true"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"` // json, text
}

// Restart backends.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendBadger    = "badger"
	BackendDatastore = "datastore"
)

// Default returns the default configuration. MaxAttempts is left at zero: the
// attempt cap has no built-in default and must be configured.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Port:              1247,
			NegotiationPolicy: string(model.PostureDontCare),
			DialTimeout:       10 * time.Second,
		},
		Restart: RestartConfig{
			Backend: BackendFile,
			Dir:     filepath.Join("~", ".gridlink", "restarts"),
			Backoff: BackoffConfig{
				Min:    500 * time.Millisecond,
				Max:    30 * time.Second,
				Factor: 2,
			},
		},
		Transfer: TransferConfig{Threads: 4},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultPath is ~/.gridlink/config.yaml, or config.yaml in the working
// directory when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".gridlink", "config.yaml")
}

// Load reads path, applies GRIDLINK_* environment overrides and validates the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errclass.ErrConfigInvalid.WithMessagef("parse %s: %v", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Nested sections are tagged ignored and processed on their own, each with
// its own prefix: GRIDLINK_HOST, GRIDLINK_TLS_CA_FILE, GRIDLINK_RESTART_DIR...
func applyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{EnvPrefix, &cfg.Connection},
		{EnvPrefix + "_TLS", &cfg.Connection.TLS},
		{EnvPrefix + "_RESTART", &cfg.Restart},
		{EnvPrefix + "_BACKOFF", &cfg.Restart.Backoff},
		{EnvPrefix + "_TRANSFER", &cfg.Transfer},
		{EnvPrefix + "_LOG", &cfg.Logging},
	}
	for _, sec := range sections {
		if err := envconfig.Process(sec.prefix, sec.target); err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("environment: %v", err)
		}
	}
	return nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := fsutil.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the values that can be checked without opening anything.
// The attempt cap is checked by the restart store when it is opened.
func (c *Config) Validate() error {
	if _, err := c.ClientPosture(); err != nil {
		return err
	}
	for field, name := range map[string]string{"user": c.Connection.User, "zone": c.Connection.Zone} {
		if name == "" {
			continue
		}
		if err := pathutil.ValidateName(name); err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("connection.%s: %v", field, err)
		}
	}
	if c.Connection.Port < 0 || c.Connection.Port > 65535 {
		return errclass.ErrConfigInvalid.WithMessagef("port %d out of range", c.Connection.Port)
	}
	if c.Connection.DialTimeout < 0 {
		return errclass.ErrConfigInvalid.WithMessage("dial_timeout must not be negative")
	}
	switch c.Restart.Backend {
	case BackendMemory, BackendFile, BackendBadger, BackendDatastore:
	default:
		return errclass.ErrConfigInvalid.WithMessagef("unknown restart backend %q", c.Restart.Backend)
	}
	if c.Restart.MaxAttempts < 0 {
		return errclass.ErrConfigInvalid.WithMessage("restart.max_attempts must not be negative")
	}
	if c.Restart.CacheSize < 0 {
		return errclass.ErrConfigInvalid.WithMessage("restart.cache_size must not be negative")
	}
	if c.Transfer.Threads < 1 {
		return errclass.ErrConfigInvalid.WithMessagef("transfer.threads must be at least 1, got %d", c.Transfer.Threads)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return errclass.ErrConfigInvalid.WithMessagef("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// ClientPosture parses the configured negotiation policy.
func (c *Config) ClientPosture() (model.SecurityPosture, error) {
	p, err := model.ParseSecurityPosture(c.Connection.NegotiationPolicy)
	if err != nil {
		return "", errclass.ErrConfigInvalid.WithMessagef("negotiation_policy %q is not a security posture", c.Connection.NegotiationPolicy)
	}
	return p, nil
}

// Account builds the grid account described by the connection section.
func (c *Config) Account() model.Account {
	return model.Account{
		Host: c.Connection.Host,
		Port: c.Connection.Port,
		Zone: c.Connection.Zone,
		User: c.Connection.User,
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
