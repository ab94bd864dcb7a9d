package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/steplee/babus/pkg/babus"
)

// overrides carries the global-flag values down into commands, merged on
// top of the config file and environment by each open.
type overrides struct {
	Prefix     string
	DomainSize int64
	SlotSize   int64
}

// options builds babus open options for a named domain.
func (ov overrides) options(domain string) babus.Options {
	return babus.Options{
		Name:       domain,
		Prefix:     ov.Prefix,
		DomainSize: ov.DomainSize,
		SlotSize:   ov.SlotSize,
	}
}

// Run is the main entry point. Returns exit code.
// sigCh can be nil if signal handling is not needed (e.g., in tests).
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, sigCh <-chan os.Signal) int {
	// Create fresh global flags for this invocation
	globalFlags := flag.NewFlagSet("babus", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})
	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagPrefix := globalFlags.StringP("prefix", "p", "", "Backing-file `directory` (default /dev/shm)")
	flagDomainSize := globalFlags.Int64("domain-size", 0, "Domain backing file size in `bytes`")
	flagSlotSize := globalFlags.Int64("slot-size", 0, "Slot backing file size in `bytes`")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	ov := overrides{
		Prefix:     *flagPrefix,
		DomainSize: *flagDomainSize,
		SlotSize:   *flagSlotSize,
	}

	commands := allCommands(ov, in)

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	// Show help: explicit --help or bare `babus` with no args
	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, commands)

		return 0
	}

	// Flags provided but no command: `babus --prefix /tmp`
	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, commands)

		return 1
	}

	// Dispatch to command
	cmdName := commandAndArgs[0]

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	cmdIO := NewIO(out, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run command in goroutine so we can handle signals
	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, cmdIO, commandAndArgs[1:])
	}()

	// Wait for completion or first signal (nil channel never fires)
	select {
	case exitCode := <-done:
		return exitCode
	case <-sigCh:
		fprintln(errOut, "shutting down with 5s timeout...")
		cancel()
	}

	// Wait for completion, timeout, or second signal
	select {
	case <-done:
		fprintln(errOut, "graceful shutdown ok (130)")

		return 130
	case <-time.After(5 * time.Second):
		fprintln(errOut, "graceful shutdown timed out, forced exit (130)")

		return 130
	case <-sigCh:
		fprintln(errOut, "graceful shutdown interrupted, forced exit (130)")

		return 130
	}
}

// allCommands returns all commands in display order.
// Dependencies are captured via closures in each command constructor.
func allCommands(ov overrides, in io.Reader) []*Command {
	return []*Command{
		PubCmd(ov, in),
		SubCmd(ov),
		InfoCmd(ov),
		BenchCmd(ov),
		ReplCmd(ov),
		ConfigCmd(ov),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help               Show help
  -p, --prefix <dir>       Backing-file directory (default /dev/shm)
  --domain-size <bytes>    Domain backing file size
  --slot-size <bytes>      Slot backing file size`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: babus [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'babus --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "babus - shared-memory pub/sub bus")
	fprintln(w)
	fprintln(w, "Usage: babus [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
