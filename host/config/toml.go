// Package config loads the host tool's TOML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file. Pointer fields are
// optional: nil means "not set", so flags and defaults apply.
type FileConfig struct {
	Serial     SerialConfig     `toml:"serial"`
	Comparator ComparatorConfig `toml:"comparator"`
	Log        LogConfig        `toml:"log"`
	Store      StoreConfig      `toml:"store"`
}

// SerialConfig maps the [serial] table.
type SerialConfig struct {
	Device        *string `toml:"device"`
	Baud          *int    `toml:"baud"`
	ReadTimeoutMs *int    `toml:"read-timeout-ms"`
}

// ComparatorConfig maps the [comparator] table.
type ComparatorConfig struct {
	Positive      *string `toml:"positive"` // "pin" or "bandgap"
	Negative      *string `toml:"negative"` // "pin" or a channel number
	Redirect      *bool   `toml:"redirect"`
	Edge          *string `toml:"edge"` // "toggle", "falling" or "rising"
	WaitTimeoutMs *int    `toml:"wait-timeout-ms"`
}

// LogConfig maps the [log] table.
type LogConfig struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"` // "text" or "json"
}

// StoreConfig maps the [store] table.
type StoreConfig struct {
	Path *string `toml:"path"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// DefaultTemplate is written by "anacomp-host config init".
func DefaultTemplate() string {
	return `# anacomp-host configuration
# Uncomment a value to enable it. CLI flags override config values.

[serial]
# device = "/dev/ttyUSB0"
# baud = 250000
# read-timeout-ms = 100

[comparator]
# positive = "pin"        # pin | bandgap
# negative = "pin"        # pin | 0..7
# redirect = false
# edge = "rising"         # toggle | falling | rising
# wait-timeout-ms = 5000

[log]
# level = "info"          # debug | info | warn | error
# format = "text"         # text | json

[store]
# path = "` + DefaultDBPath() + `"
`
}
