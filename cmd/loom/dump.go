package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chazu/loom/module"
	"github.com/chazu/loom/symbols"
)

func dumpCommand(args []string, stdout, stderr io.Writer) error {
	fs, verbosity := newFlagSet("dump", "[options] module.lmod", stderr)
	symPath := fs.String("symbols", "", "Symbol stream to attach (default: <module>.lsym when present)")
	noSymbols := fs.Bool("no-symbols", false, "Do not attach any symbol stream")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	configureLogging(*verbosity)
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := module.Read(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if !*noSymbols {
		sp := *symPath
		if sp == "" && fileExists(siblingPath(path, ".lsym")) {
			sp = siblingPath(path, ".lsym")
		}
		if sp != "" {
			sym, err := os.ReadFile(sp)
			if err != nil {
				return err
			}
			if err := symbols.Attach(m, sym); err != nil {
				return fmt.Errorf("%s: %w", sp, err)
			}
		}
	}

	_, err = io.WriteString(stdout, module.Disassemble(m))
	return err
}
