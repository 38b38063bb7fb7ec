// loom CLI - weaves directive-driven field injection into compiled modules
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("loom")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: loom <command> [options] [files...]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  weave    Inject directive-marked fields into compiled modules\n")
	fmt.Fprintf(w, "  asm      Assemble a text listing into a module and symbol stream\n")
	fmt.Fprintf(w, "  dump     Print the listing of a module\n")
	fmt.Fprintf(w, "  history  Show recorded weaving runs for a module\n")
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  loom weave Game.lmod                  # weave in place using ./loom.toml\n")
	fmt.Fprintf(w, "  loom weave -o out/Game.lmod Game.lmod # write the result elsewhere\n")
	fmt.Fprintf(w, "  loom asm player.lasm                  # writes player.lmod and player.lsym\n")
	fmt.Fprintf(w, "  loom dump -symbols Game.lsym Game.lmod\n")
	fmt.Fprintf(w, "\nRun 'loom <command> -h' for the options of a command.\n")
}

// run executes one CLI invocation and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "weave":
		err = weaveCommand(args[1:], stdout, stderr)
	case "asm":
		err = asmCommand(args[1:], stdout, stderr)
	case "dump":
		err = dumpCommand(args[1:], stdout, stderr)
	case "history":
		err = historyCommand(args[1:], stdout, stderr)
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

var errUsage = errors.New("usage error")

// newFlagSet returns a flag set that reports to stderr and adds the shared
// verbosity flag.
func newFlagSet(name, synopsis string, stderr io.Writer) (*flag.FlagSet, *int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbosity := fs.Int("v", 0, "Log verbosity; higher values log more")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: loom %s %s\n\nOptions:\n", name, synopsis)
		fs.PrintDefaults()
	}
	return fs, verbosity
}

// parseFlags parses args into fs. Bad flags have already been reported by
// the flag package, so they map to errUsage.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	return nil
}

func configureLogging(verbosity int) {
	commonlog.Configure(verbosity, nil)
}

// siblingPath replaces the extension of path with ext.
func siblingPath(path, ext string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexAny(path, `/\`) {
		return path[:i] + ext
	}
	return path + ext
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
