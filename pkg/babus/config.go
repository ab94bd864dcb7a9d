package babus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds the tunable bus parameters.
type Config struct {
	// Prefix is the directory holding backing files. A tmpfs mount: the
	// bus is as volatile as its prefix.
	Prefix string `json:"prefix"` //nolint:tagliatelle // snake_case for config file

	// DomainSize is the byte size of domain backing files.
	DomainSize int64 `json:"domain_size"` //nolint:tagliatelle

	// SlotSize is the byte size of slot backing files; payload capacity
	// is SlotSize minus the header reservation. Recorded in the domain
	// header at creation and shared by every opener afterwards.
	SlotSize int64 `json:"slot_size"` //nolint:tagliatelle
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:     "/dev/shm",
		DomainSize: 4096,
		SlotSize:   16 << 20,
	}
}

// ConfigFileName is the global config file name under the babus config dir.
const ConfigFileName = "config.json"

// globalConfigPath returns $XDG_CONFIG_HOME/babus/config.json if set,
// otherwise ~/.config/babus/config.json. Empty if neither resolves.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok && after != "" {
			return filepath.Join(after, "babus", ConfigFileName)
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "babus", ConfigFileName)
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "babus", ConfigFileName)
	}

	return ""
}

// LoadConfig resolves the effective configuration with the following
// precedence (highest wins):
//  1. Defaults
//  2. Global user config (JSONC, optional)
//  3. Environment: BABUS_PREFIX, BABUS_DOMAIN_SIZE, BABUS_SLOT_SIZE
//
// env is consulted for XDG_CONFIG_HOME and the BABUS_* variables; pass
// os.Environ() outside tests.
func LoadConfig(env []string) (Config, error) {
	cfg := DefaultConfig()

	path := globalConfigPath(env)
	if path != "" {
		fileCfg, loaded, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	envCfg, err := configFromEnv(env)
	if err != nil {
		return Config{}, err
	}

	cfg = mergeConfig(cfg, envCfg)

	validateErr := validateConfig(cfg)
	if validateErr != nil {
		return Config{}, validateErr
	}

	return cfg, nil
}

// loadConfigFile parses one JSONC config file. Missing files are not an
// error; they simply contribute nothing.
func loadConfigFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is the user's own config
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("config %s: invalid JSONC: %w", path, err)
	}

	var cfg Config

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return Config{}, false, fmt.Errorf("config %s: invalid JSON: %w", path, unmarshalErr)
	}

	return cfg, true, nil
}

func configFromEnv(env []string) (Config, error) {
	var cfg Config

	lookup := func(key string) string {
		for _, e := range env {
			if after, ok := strings.CutPrefix(e, key+"="); ok {
				return after
			}
		}

		return os.Getenv(key)
	}

	cfg.Prefix = lookup("BABUS_PREFIX")

	for _, f := range []struct {
		key string
		dst *int64
	}{
		{"BABUS_DOMAIN_SIZE", &cfg.DomainSize},
		{"BABUS_SLOT_SIZE", &cfg.SlotSize},
	} {
		raw := lookup(f.key)
		if raw == "" {
			continue
		}

		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%s=%q: %w", f.key, raw, err)
		}

		*f.dst = v
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Prefix != "" {
		base.Prefix = overlay.Prefix
	}

	if overlay.DomainSize != 0 {
		base.DomainSize = overlay.DomainSize
	}

	if overlay.SlotSize != 0 {
		base.SlotSize = overlay.SlotSize
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.Prefix == "" {
		return fmt.Errorf("%w: empty prefix", ErrBadName)
	}

	if cfg.DomainSize < domainHeaderSize {
		return fmt.Errorf("babus: domain size %d below header size %d", cfg.DomainSize, domainHeaderSize)
	}

	if cfg.SlotSize <= slotPayloadOffset {
		return fmt.Errorf("babus: slot size %d leaves no payload capacity (header reserves %d)", cfg.SlotSize, slotPayloadOffset)
	}

	return nil
}

// FormatConfig returns the config as formatted JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}
