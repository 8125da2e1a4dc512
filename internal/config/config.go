package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	UI       UIConfig       `toml:"ui"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Listen          string   `toml:"listen"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
}

// StoreConfig controls how the in-memory store is populated at startup.
type StoreConfig struct {
	// Seed is an optional JSON file in the serialized store format.
	// It is only loaded when no snapshot was restored.
	Seed string `toml:"seed"`
}

// SnapshotConfig controls periodic persistence of the serialized store.
type SnapshotConfig struct {
	Enabled  bool     `toml:"enabled"`
	DataDir  string   `toml:"data_dir"`
	Format   string   `toml:"format"` // "json" or "binary"
	Interval Duration `toml:"interval"`
}

type UIConfig struct {
	Dir   string `toml:"dir"`
	Mount string `toml:"mount"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration wraps time.Duration so it can be written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			ReadTimeout:     Duration{30 * time.Second},
			WriteTimeout:    Duration{10 * time.Second},
			ShutdownTimeout: Duration{30 * time.Second},
			MaxBodyBytes:    1 << 20,
		},
		Snapshot: SnapshotConfig{
			DataDir:  "~/.metastore",
			Format:   "json",
			Interval: Duration{time.Minute},
		},
		UI: UIConfig{
			Mount: "/ui",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file on top of Defaults.
// If path is empty, ~/.metastore/config.toml is used when it exists.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome("~/.metastore/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config: unknown key %q", undecoded[0].String())
	}

	return cfg, nil
}

// Validate reports every invalid field, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if err := validateListenAddr(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if c.Server.ReadTimeout.Duration < 0 {
		errs = append(errs, errors.New("server.read_timeout: must not be negative"))
	}
	if c.Server.WriteTimeout.Duration < 0 {
		errs = append(errs, errors.New("server.write_timeout: must not be negative"))
	}
	if c.Server.ShutdownTimeout.Duration < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout: must not be negative"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes: must be positive, got %d", c.Server.MaxBodyBytes))
	}

	if c.Snapshot.Enabled {
		if strings.TrimSpace(c.Snapshot.DataDir) == "" {
			errs = append(errs, errors.New("snapshot.data_dir: required when snapshots are enabled"))
		}
		if c.Snapshot.Interval.Duration < 0 {
			errs = append(errs, errors.New("snapshot.interval: must not be negative"))
		}
	}
	switch strings.ToLower(c.Snapshot.Format) {
	case "", "json", "binary":
	default:
		errs = append(errs, fmt.Errorf("snapshot.format: unknown format %q", c.Snapshot.Format))
	}

	if c.UI.Dir != "" && !strings.HasPrefix(c.UI.Mount, "/") {
		errs = append(errs, fmt.Errorf("ui.mount: must start with /, got %q", c.UI.Mount))
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func validateListenAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	if port == "" {
		return errors.New("missing port")
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
