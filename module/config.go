package module

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultCallTimeout bounds each module call when the config does not
// set one.
const DefaultCallTimeout = 5 * time.Second

// Config configures a Manager. It is typically loaded from a TOML file
// in the key server's config directory.
type Config struct {
	// ModulePaths are the directories searched for modules.
	ModulePaths []string `toml:"module_paths"`

	// Watch enables hot reload of script modules on file change.
	Watch bool `toml:"watch"`

	// CallTimeout bounds each module call, as a duration string such
	// as "5s". Empty means the default.
	CallTimeout string `toml:"call_timeout"`

	// QueueSize is the per-module call buffer. Zero means the luamod
	// default.
	QueueSize int `toml:"queue_size"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{}
}

// LoadConfig reads a Config from a TOML file. A missing file yields the
// defaults, matching how the key server treats absent config.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if _, err := cfg.callTimeout(); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// callTimeout parses the configured timeout, falling back to the
// default.
func (c Config) callTimeout() (time.Duration, error) {
	if c.CallTimeout == "" {
		return DefaultCallTimeout, nil
	}
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid call_timeout %q: %w", c.CallTimeout, err)
	}
	return d, nil
}
