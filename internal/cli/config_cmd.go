package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/steplee/babus/pkg/babus"
)

// ConfigCmd prints the effective configuration, or seeds the global
// config file with `config init`.
func ConfigCmd(ov overrides) *Command {
	flags := flag.NewFlagSet("config", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "config [init]",
		Short: "Show the effective configuration",
		Long: `Show the effective configuration after defaults, the global config
file, environment variables, and global flags are applied.

"config init" writes the defaults to the global config file
($XDG_CONFIG_HOME/babus/config.json) if it does not exist yet.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) >= 1 && args[0] == "init" {
				return initConfigFile(o)
			}

			cfg, err := babus.LoadConfig(os.Environ())
			if err != nil {
				return err
			}

			if ov.Prefix != "" {
				cfg.Prefix = ov.Prefix
			}

			if ov.DomainSize != 0 {
				cfg.DomainSize = ov.DomainSize
			}

			if ov.SlotSize != 0 {
				cfg.SlotSize = ov.SlotSize
			}

			out, err := babus.FormatConfig(cfg)
			if err != nil {
				return err
			}

			o.Println(out)

			return nil
		},
	}
}

func initConfigFile(o *IO) error {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home: %w", err)
		}

		configHome = filepath.Join(home, ".config")
	}

	path := filepath.Join(configHome, "babus", babus.ConfigFileName)

	_, statErr := os.Stat(path)
	if statErr == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if !errors.Is(statErr, os.ErrNotExist) {
		return statErr
	}

	mkdirErr := os.MkdirAll(filepath.Dir(path), 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("create config dir: %w", mkdirErr)
	}

	content, err := babus.FormatConfig(babus.DefaultConfig())
	if err != nil {
		return err
	}

	writeErr := atomic.WriteFile(path, strings.NewReader(content+"\n"))
	if writeErr != nil {
		return fmt.Errorf("write config: %w", writeErr)
	}

	o.Println("wrote", path)

	return nil
}
