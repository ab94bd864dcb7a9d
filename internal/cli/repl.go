package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/steplee/babus/pkg/babus"
)

// ReplCmd opens an interactive session against one domain.
func ReplCmd(ov overrides) *Command {
	flags := flag.NewFlagSet("repl", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "repl <domain>",
		Short: "Interactive session against a domain",
		Long: `Open an interactive prompt against a domain.

Commands:

  write <slot> <payload>     Publish a payload
  read <slot>                Print the current payload
  watch <slot> [timeout]     Block until the slot updates (default 5s)
  flags <slot> [value]       Show or set the slot's flag bits
  info                       Show the domain and its slots
  help                       Show this help
  exit / quit / q            Exit`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errors.New("repl requires <domain>")
			}

			dom, err := openDomain(ov, args[0])
			if err != nil {
				return err
			}

			defer func() { _ = dom.Close() }()

			line := liner.NewLiner()
			defer func() { _ = line.Close() }()

			line.SetCtrlCAborts(true)

			o.Printf("babus repl on %s (help for commands)\n", dom.Name())

			for ctx.Err() == nil {
				input, readErr := line.Prompt("babus> ")
				if readErr != nil {
					if errors.Is(readErr, liner.ErrPromptAborted) || errors.Is(readErr, io.EOF) {
						return nil
					}

					return readErr
				}

				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}

				line.AppendHistory(input)

				if input == "exit" || input == "quit" || input == "q" {
					return nil
				}

				evalErr := evalReplLine(o, dom, input)
				if evalErr != nil {
					o.ErrPrintln("error:", evalErr)
				}
			}

			return nil
		},
	}
}

func evalReplLine(o *IO, dom *babus.ClientDomain, input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "write":
		if len(args) < 2 {
			return errors.New("usage: write <slot> <payload>")
		}

		slot, err := dom.Slot(args[0])
		if err != nil {
			return err
		}

		// Everything after the slot name, spaces included.
		payload := strings.TrimSpace(strings.TrimPrefix(input, "write"))
		payload = strings.TrimSpace(strings.TrimPrefix(payload, args[0]))

		return slot.Write([]byte(payload))

	case "read":
		if len(args) != 1 {
			return errors.New("usage: read <slot>")
		}

		slot, err := dom.Slot(args[0])
		if err != nil {
			return err
		}

		v, err := slot.Read()
		if err != nil {
			return err
		}

		defer v.Close()

		o.Printf("%d byte(s): %s\n", v.Len(), formatPayload(v.Bytes()))

		return nil

	case "watch":
		if len(args) < 1 {
			return errors.New("usage: watch <slot> [timeout]")
		}

		timeout := 5 * time.Second

		if len(args) >= 2 {
			parsed, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("bad timeout: %w", err)
			}

			timeout = parsed
		}

		slot, err := dom.Slot(args[0])
		if err != nil {
			return err
		}

		w := babus.NewWaiter(dom)
		w.Subscribe(slot, true)

		err = w.WaitExclusiveTimeout(timeout)
		if err != nil {
			if errors.Is(err, babus.ErrDeadline) {
				o.Println("no update within", timeout)

				return nil
			}

			return err
		}

		_, err = w.ForEachNewSlot(func(v *babus.View) {
			o.Printf("[%s] %d byte(s): %s\n", v.SlotName(), v.Len(), formatPayload(v.Bytes()))
		})

		return err

	case "flags":
		if len(args) < 1 {
			return errors.New("usage: flags <slot> [value]")
		}

		slot, err := dom.Slot(args[0])
		if err != nil {
			return err
		}

		if len(args) >= 2 {
			bits, parseErr := strconv.ParseUint(args[1], 0, 64)
			if parseErr != nil {
				return fmt.Errorf("bad flag value: %w", parseErr)
			}

			return slot.SetFlags(bits)
		}

		bits, err := slot.Flags()
		if err != nil {
			return err
		}

		o.Printf("%#x\n", bits)

		return nil

	case "info":
		entries, err := dom.Registry()
		if err != nil {
			return err
		}

		o.Printf("domain %s seq=%d slots=%d\n", dom.Name(), dom.Sequence(), len(entries))

		for _, e := range entries {
			o.Printf("  [%2d] %s\n", e.Index, e.Name)
		}

		return nil

	case "help":
		o.Println("commands: write read watch flags info help exit")

		return nil
	}

	return fmt.Errorf("unknown command %q (try help)", cmd)
}
