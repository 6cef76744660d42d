package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appDirName     = "mcpmerge"
	configFileName = "config.yaml"

	DefaultHTTPAddr        = ":8080"
	DefaultMetricsAddr     = ":9090"
	DefaultExchangeTimeout = 30 * time.Second
)

// Duration is a time.Duration that reads "30s" style strings from YAML.
type Duration time.Duration

// UnmarshalYAML accepts a duration string or an integer number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the application configuration.
type Config struct {
	// CredentialsDir is the credential store root.
	CredentialsDir string `yaml:"credentialsDir"`

	// ExtensionsDir holds one subdirectory per installed extension.
	ExtensionsDir string `yaml:"extensionsDir"`

	// HTTPAddr is the listen address for the HTTP transport.
	HTTPAddr string `yaml:"httpAddr"`

	// MetricsAddr is the listen address for the metrics server.
	MetricsAddr string `yaml:"metricsAddr"`

	// ExchangeTimeout bounds the token endpoint request.
	ExchangeTimeout Duration `yaml:"exchangeTimeout"`

	// ShareCredentials is the default for extension conversion.
	ShareCredentials bool `yaml:"shareCredentials"`

	// WatchExtensions re-scans ExtensionsDir on change while serving.
	WatchExtensions bool `yaml:"watchExtensions"`

	// AuditIncludePII logs full account emails in auth audit events.
	AuditIncludePII bool `yaml:"auditIncludePII"`
}

// DefaultDir returns $XDG_CONFIG_HOME/mcpmerge or the platform equivalent.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(dir, appDirName), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Default returns the configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		CredentialsDir:  filepath.Join(dir, "credentials"),
		ExtensionsDir:   filepath.Join(dir, "extensions"),
		HTTPAddr:        DefaultHTTPAddr,
		MetricsAddr:     DefaultMetricsAddr,
		ExchangeTimeout: Duration(DefaultExchangeTimeout),
		WatchExtensions: true,
	}
}

// Load reads path over the defaults for its directory. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// LoadDefault loads the config file from DefaultPath and applies the process
// environment.
func LoadDefault() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Config{}, err
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MCPMERGE_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("MCPMERGE_CREDENTIALS_DIR"); v != "" {
		c.CredentialsDir = v
	}
	if v := getenv("MCPMERGE_EXTENSIONS_DIR"); v != "" {
		c.ExtensionsDir = v
	}
	if v := getenv("MCPMERGE_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := getenv("MCPMERGE_EXCHANGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MCPMERGE_EXCHANGE_TIMEOUT: %w", err)
		}
		c.ExchangeTimeout = Duration(d)
	}
	for key, dst := range map[string]*bool{
		"MCPMERGE_SHARE_CREDENTIALS": &c.ShareCredentials,
		"MCPMERGE_WATCH_EXTENSIONS":  &c.WatchExtensions,
		"MCPMERGE_AUDIT_INCLUDE_PII": &c.AuditIncludePII,
	} {
		v := getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return c.Validate()
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.CredentialsDir == "" {
		return errors.New("credentialsDir must not be empty")
	}
	if c.ExtensionsDir == "" {
		return errors.New("extensionsDir must not be empty")
	}
	if c.ExchangeTimeout <= 0 {
		return errors.New("exchangeTimeout must be positive")
	}
	return nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
