package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chazu/loom/asm"
	"github.com/chazu/loom/module"
	"github.com/chazu/loom/symbols"
)

// asmCommand assembles one listing into a module image, plus a symbol
// stream when the listing carries line information.
func asmCommand(args []string, stdout, stderr io.Writer) error {
	fs, verbosity := newFlagSet("asm", "[options] listing.lasm", stderr)
	output := fs.String("o", "", "Output module path (default: <listing>.lmod)")
	symOut := fs.String("symbols-out", "", "Output symbol stream (default: next to the module)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	configureLogging(*verbosity)
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	path := fs.Arg(0)

	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := asm.Assemble(path, src)
	if err != nil {
		return err
	}
	img, err := module.Write(m)
	if err != nil {
		return err
	}

	modPath := *output
	if modPath == "" {
		modPath = siblingPath(path, ".lmod")
	}
	if err := writeFile(modPath, img); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%d types)\n", modPath, len(m.Types))

	if !hasDebugInfo(m) {
		return nil
	}
	sym, err := symbols.Write(m)
	if err != nil {
		return err
	}
	symPath := *symOut
	if symPath == "" {
		symPath = siblingPath(modPath, ".lsym")
	}
	if err := writeFile(symPath, sym); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", symPath)
	return nil
}

func hasDebugInfo(m *module.Module) bool {
	for _, t := range m.Types {
		for _, md := range t.Methods {
			if md.Debug != nil {
				return true
			}
		}
	}
	return false
}
