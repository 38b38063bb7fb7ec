package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chazu/loom/diag"
	"github.com/chazu/loom/manifest"
	"github.com/chazu/loom/report"
	"github.com/chazu/loom/weaver"
)

type weaveOptions struct {
	configDir  string
	output     string
	symbolsIn  string
	symbolsOut string
	reportPath string
	strict     bool
	verbosity  int
}

// weaveCommand processes the `loom weave` subcommand.
// Usage:
//
//	loom weave Game.lmod                       # in place, symbols from Game.lsym
//	loom weave -o out/Game.lmod Game.lmod      # elsewhere
//	loom weave -strict A.lmod B.lmod           # fail on any error diagnostic
func weaveCommand(args []string, stdout, stderr io.Writer) error {
	var opts weaveOptions
	fs, verbosity := newFlagSet("weave", "[options] module.lmod...", stderr)
	fs.StringVar(&opts.configDir, "config", "", "Directory containing loom.toml (default: search upwards from .)")
	fs.StringVar(&opts.output, "o", "", "Output module path (single input only)")
	fs.StringVar(&opts.symbolsIn, "symbols", "", "Input symbol stream (default: <module>.lsym when present)")
	fs.StringVar(&opts.symbolsOut, "symbols-out", "", "Output symbol stream (default: next to the output module)")
	fs.StringVar(&opts.reportPath, "report", "", "Record runs in this SQLite database")
	fs.BoolVar(&opts.strict, "strict", false, "Exit with an error when any error diagnostic is reported")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	opts.verbosity = *verbosity
	configureLogging(opts.verbosity)

	inputs := fs.Args()
	if len(inputs) == 0 {
		fs.Usage()
		return errUsage
	}
	if len(inputs) > 1 && (opts.output != "" || opts.symbolsIn != "" || opts.symbolsOut != "") {
		return fmt.Errorf("-o, -symbols and -symbols-out take a single input, got %d", len(inputs))
	}

	m, err := loadManifest(opts.configDir)
	if err != nil {
		return err
	}
	rs, err := m.InjectionRules()
	if err != nil {
		return err
	}
	reg, err := m.Registry()
	if err != nil {
		return err
	}
	w, err := weaver.New(rs, reg)
	if err != nil {
		return err
	}
	strict := opts.strict || m.Weave.Strict

	reportPath := opts.reportPath
	if reportPath == "" {
		reportPath = m.ReportPath()
	}
	var store *report.Store
	if reportPath != "" {
		if store, err = report.Open(reportPath); err != nil {
			return err
		}
		defer store.Close()
	}

	threshold := diag.Warning
	if opts.verbosity > 0 {
		threshold = diag.Info
	}

	failed := 0
	for _, in := range inputs {
		started := time.Now()
		out, err := weaveFile(w, m, in, opts)
		elapsed := time.Since(started)
		if out != nil {
			diag.Render(stderr, out.Diagnostics, threshold)
			if err == nil {
				fmt.Fprintf(stdout, "%s: %s (%s)\n", in, out.Summary, diag.Summary(out.Diagnostics))
			}
			if store != nil {
				if rerr := recordRun(store, out, started, elapsed, err != nil); rerr != nil {
					log.Warningf("could not record run for %s: %v", in, rerr)
				}
			}
		}
		log.Debugf("%s processed in %v", in, elapsed)
		switch {
		case err != nil:
			fmt.Fprintf(stderr, "%s: %v\n", in, err)
			failed++
		case strict && diag.Count(out.Diagnostics, diag.Error) > 0:
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d module(s) failed", failed, len(inputs))
	}
	return nil
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	var (
		m   *manifest.Manifest
		err error
	)
	if dir != "" {
		m, err = manifest.Load(dir)
	} else {
		m, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", manifest.FileName, err)
	}
	if m == nil {
		log.Infof("no %s found; using the default rules", manifest.FileName)
		m = manifest.Default()
	}
	return m, nil
}

// weaveFile processes one module file and writes the results. A non-nil
// Output is returned whenever the module was processed at all.
func weaveFile(w *weaver.Weaver, m *manifest.Manifest, path string, opts weaveOptions) (*weaver.Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	in := weaver.Input{Name: filepath.Base(path), Module: data}

	symIn := opts.symbolsIn
	if symIn == "" && fileExists(siblingPath(path, ".lsym")) {
		symIn = siblingPath(path, ".lsym")
	}
	if symIn != "" {
		if in.Symbols, err = os.ReadFile(symIn); err != nil {
			return nil, err
		}
	}

	out, err := w.Process(in)
	if err != nil {
		return out, err
	}

	modOut := outputPath(m, path, opts.output)
	var files []outputFile
	if out.Symbols != nil {
		symOut := opts.symbolsOut
		if symOut == "" {
			symOut = siblingPath(modOut, ".lsym")
		}
		files = append(files, outputFile{symOut, out.Symbols})
	}
	// The module goes last so that it never lands next to stale symbols.
	files = append(files, outputFile{modOut, out.Module})
	if err := commitFiles(files); err != nil {
		return out, err
	}
	return out, nil
}

// outputPath picks where the woven module goes: -o, then the manifest's
// output directory, then the input itself.
func outputPath(m *manifest.Manifest, input, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if dir := m.OutputPath(); dir != "" {
		return filepath.Join(dir, filepath.Base(input))
	}
	return input
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type outputFile struct {
	path string
	data []byte
}

// commitFiles writes every file to a temporary sibling and renames them
// into place, in order, only after all of them were written. Nothing is
// renamed when a write fails, and a failed rename stops the ones after it.
func commitFiles(files []outputFile) error {
	temps := make([]string, 0, len(files))
	defer func() {
		for _, tmp := range temps {
			os.Remove(tmp)
		}
	}()

	for _, f := range files {
		tmp, err := writeTemp(f.path, f.data)
		if err != nil {
			return err
		}
		temps = append(temps, tmp)
	}
	for i, f := range files {
		if err := os.Rename(temps[i], f.path); err != nil {
			return fmt.Errorf("replacing %s: %w", f.path, err)
		}
	}
	return nil
}

func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func recordRun(store *report.Store, out *weaver.Output, started time.Time, elapsed time.Duration, failed bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.Record(ctx, &report.Run{
		Module:      out.Name,
		MVID:        out.MVID,
		StartedAt:   started,
		Duration:    elapsed,
		Summary:     out.Summary,
		Diagnostics: out.Diagnostics,
		Failed:      failed,
	})
}
