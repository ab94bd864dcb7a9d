package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
)

// PubCmd publishes one payload (or a stream of them) to a slot.
func PubCmd(ov overrides, in io.Reader) *Command {
	flags := flag.NewFlagSet("pub", flag.ContinueOnError)
	file := flags.StringP("file", "f", "", "Read the payload from `path` instead of the argument")
	count := flags.IntP("count", "n", 1, "Publish the payload this many times")
	interval := flags.DurationP("interval", "i", 0, "Delay between repeated publishes")

	return &Command{
		Flags: flags,
		Usage: "pub <domain> <slot> [payload]",
		Short: "Publish a payload to a slot",
		Long: `Publish a payload to a slot, waking subscribed waiters.

The payload comes from the argument, from --file, or from stdin when
neither is given. Repeated publishes overwrite: a slow subscriber
observes only the latest payload.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return errors.New("pub requires <domain> and <slot>")
			}

			payload, err := resolvePayload(args, *file, in)
			if err != nil {
				return err
			}

			dom, err := openDomain(ov, args[0])
			if err != nil {
				return err
			}

			defer func() { _ = dom.Close() }()

			slot, err := dom.Slot(args[1])
			if err != nil {
				return err
			}

			for i := range *count {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				if i > 0 && *interval > 0 {
					time.Sleep(*interval)
				}

				writeErr := slot.Write(payload)
				if writeErr != nil {
					return writeErr
				}
			}

			o.Printf("published %d byte(s) to %s/%s x%d\n", len(payload), args[0], args[1], *count)

			return nil
		},
	}
}

func resolvePayload(args []string, file string, in io.Reader) ([]byte, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file) //nolint:gosec // path is intentionally user-controlled
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}

		return data, nil
	case len(args) >= 3:
		return []byte(args[2]), nil
	default:
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}

		return data, nil
	}
}
