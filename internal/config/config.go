// Package config loads albaum settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/moforw/albaum/internal/store"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Journal JournalConfig `yaml:"journal"`
	Index   IndexConfig   `yaml:"index"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type JournalConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file sqlite badger"`
	Path    string `yaml:"path" validate:"required"`
	// ArchiveDir receives compacted journal archives; empty means next to
	// the journal.
	ArchiveDir string `yaml:"archive_dir"`
}

type IndexConfig struct {
	Workers       int           `yaml:"workers" validate:"gte=0,lte=256"`
	FlashInterval time.Duration `yaml:"flash_interval" validate:"gte=0"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	path, err := store.DefaultPath()
	if err != nil {
		path = "albaum.log"
	}
	return &Config{
		Journal: JournalConfig{Backend: store.BackendFile, Path: path},
		Index:   IndexConfig{FlashInterval: 20 * time.Second},
		Server:  ServerConfig{Host: "127.0.0.1", Port: 7475},
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// DefaultPath is where the config file is looked for: ~/.albaum/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".albaum", "config.yaml"), nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("ALBAUM_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := getenv("ALBAUM_JOURNAL_BACKEND"); v != "" {
		c.Journal.Backend = strings.ToLower(v)
	}
	if v := getenv("ALBAUM_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("ALBAUM_LISTEN"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("%w: ALBAUM_LISTEN: %v", ErrInvalid, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: ALBAUM_LISTEN port %q", ErrInvalid, port)
		}
		c.Server.Host = host
		c.Server.Port = p
	}
	return nil
}

// ListenAddr is the host:port the server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

var validate = validator.New()

// Validate checks c against its field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		msgs := make([]string, len(verrs))
		for i, e := range verrs {
			msgs[i] = formatFieldError(e)
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Namespace())
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
