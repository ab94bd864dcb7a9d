package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/steplee/babus/pkg/babus"
)

// SubCmd blocks on a set of slots and prints payloads as they arrive.
func SubCmd(ov overrides) *Command {
	flags := flag.NewFlagSet("sub", flag.ContinueOnError)
	count := flags.IntP("count", "n", 0, "Exit after this many payloads (0 = run until interrupted)")
	passive := flags.StringSlice("passive", nil, "Subscribe these `slots` with wake-with=false")

	return &Command{
		Flags: flags,
		Usage: "sub <domain> <slot>...",
		Short: "Subscribe to slots and print new payloads",
		Long: `Subscribe to one or more slots and print each new payload.

Slots listed via --passive never wake the subscriber themselves; their
updates are reported whenever another subscribed slot does.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return errors.New("sub requires <domain> and at least one <slot>")
			}

			dom, err := openDomain(ov, args[0])
			if err != nil {
				return err
			}

			defer func() { _ = dom.Close() }()

			w := babus.NewWaiter(dom)

			for _, name := range args[1:] {
				slot, slotErr := dom.Slot(name)
				if slotErr != nil {
					return slotErr
				}

				w.Subscribe(slot, !slices.Contains(*passive, name))
			}

			for _, name := range *passive {
				if slices.Contains(args[1:], name) {
					continue
				}

				slot, slotErr := dom.Slot(name)
				if slotErr != nil {
					return slotErr
				}

				w.Subscribe(slot, false)
			}

			seen := 0

			for *count == 0 || seen < *count {
				if ctx.Err() != nil {
					return nil
				}

				// Short waits keep the loop responsive to ctrl-C.
				waitErr := w.WaitExclusiveTimeout(500 * time.Millisecond)
				if waitErr != nil {
					if errors.Is(waitErr, babus.ErrDeadline) {
						continue
					}

					return waitErr
				}

				visited, visitErr := w.ForEachNewSlot(func(v *babus.View) {
					o.Printf("[%s] %d byte(s): %s\n", v.SlotName(), v.Len(), formatPayload(v.Bytes()))
				})
				if visitErr != nil {
					return visitErr
				}

				seen += visited
			}

			return nil
		},
	}
}

// InfoCmd dumps a domain's header and slot registry.
func InfoCmd(ov overrides) *Command {
	flags := flag.NewFlagSet("info", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "info <domain>",
		Short: "Show a domain's header and registered slots",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errors.New("info requires <domain>")
			}

			dom, err := openDomain(ov, args[0])
			if err != nil {
				return err
			}

			defer func() { _ = dom.Close() }()

			o.Printf("domain   %s\n", dom.Name())
			o.Printf("path     %s\n", dom.Path())
			o.Printf("seq      %d\n", dom.Sequence())
			o.Printf("slotsize %d\n", dom.SlotRegionSize())

			entries, err := dom.Registry()
			if err != nil {
				return err
			}

			o.Printf("slots    %d\n", len(entries))

			for _, e := range entries {
				slot, slotErr := dom.Slot(e.Name)
				if slotErr != nil {
					return fmt.Errorf("open slot %q: %w", e.Name, slotErr)
				}

				bits, flagsErr := slot.Flags()
				if flagsErr != nil {
					return flagsErr
				}

				v, readErr := slot.Read()
				if readErr != nil {
					return readErr
				}

				o.Printf("  [%2d] %-24s seq=%-8d len=%-10d flags=%#x\n",
					e.Index, e.Name, slot.Sequence(), v.Len(), bits)

				v.Close()
			}

			return nil
		},
	}
}
