package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = ".zmconfig"
	DefaultFTPPort         = 21
	DefaultZOSMFPort       = 443
	DefaultProtocol        = "ftp"
	DefaultResponseTimeout = 30
)

type Profile struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Protocol string `yaml:"protocol"` // ftp, zosmf
	HLQ      string `yaml:"hlq"`
	USSHome  string `yaml:"uss_home"`

	// Encoding is the default codepage for text transfers, e.g. IBM-1047.
	// Empty means the server default.
	Encoding string `yaml:"encoding,omitempty"`
	// ResponseTimeout is passed through to the remote, in seconds.
	ResponseTimeout    int      `yaml:"response_timeout,omitempty"`
	RejectUnauthorized *bool    `yaml:"reject_unauthorized,omitempty"`
	Patterns           []string `yaml:"patterns,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // json, console
	Output string `yaml:"output,omitempty"`
}

type Config struct {
	Profiles       map[string]*Profile `yaml:"profiles"`
	DefaultProfile string              `yaml:"default_profile"`
	Log            LogConfig           `yaml:"log,omitempty"`
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot find home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigFile), nil
}

func Load(path string) (*Config, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s\nRun 'zm config setup' to create one", path)
		}
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	for name, p := range cfg.Profiles {
		p.applyDefaults()
		cfg.Profiles[name] = p
	}

	return &cfg, nil
}

func (p *Profile) applyDefaults() {
	if p.Protocol == "" {
		p.Protocol = DefaultProtocol
	}
	if p.Port == 0 {
		if p.Protocol == "zosmf" {
			p.Port = DefaultZOSMFPort
		} else {
			p.Port = DefaultFTPPort
		}
	}
	if p.ResponseTimeout == 0 {
		p.ResponseTimeout = DefaultResponseTimeout
	}
}

func (c *Config) Save(path string) error {
	path, err := resolvePath(path)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// 0600: owner read/write only (contains password)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}

	return nil
}

func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" {
		return nil, fmt.Errorf("no profile specified and no default profile set")
	}

	p, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return p, nil
}

func (p *Profile) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("host is required")
	}
	if p.User == "" {
		return fmt.Errorf("user is required")
	}
	if p.Password == "" {
		return fmt.Errorf("password is required")
	}
	if p.Protocol != "ftp" && p.Protocol != "zosmf" {
		return fmt.Errorf("protocol must be 'ftp' or 'zosmf'")
	}
	if p.ResponseTimeout < 0 {
		return fmt.Errorf("response_timeout must not be negative")
	}
	return nil
}

// Timeout returns the response timeout as a duration.
func (p *Profile) Timeout() time.Duration {
	if p.ResponseTimeout <= 0 {
		return DefaultResponseTimeout * time.Second
	}
	return time.Duration(p.ResponseTimeout) * time.Second
}

// VerifyTLS reports whether server certificates must be verified.
func (p *Profile) VerifyTLS() bool {
	return p.RejectUnauthorized == nil || *p.RejectUnauthorized
}

// ListPatterns returns the data set filter patterns for the profile,
// falling back to HLQ.* when none are configured.
func (p *Profile) ListPatterns() []string {
	if len(p.Patterns) > 0 {
		return p.Patterns
	}
	if p.HLQ != "" {
		return []string{strings.ToUpper(p.HLQ) + ".*"}
	}
	if p.User != "" {
		return []string{strings.ToUpper(p.User) + ".*"}
	}
	return nil
}
