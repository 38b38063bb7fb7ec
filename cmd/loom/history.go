package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/chazu/loom/report"
)

// historyCommand lists the most recent recorded runs of one module.
func historyCommand(args []string, stdout, stderr io.Writer) error {
	fs, verbosity := newFlagSet("history", "[options] module-name", stderr)
	configDir := fs.String("config", "", "Directory containing loom.toml (default: search upwards from .)")
	reportPath := fs.String("report", "", "Run log database (default: from loom.toml)")
	limit := fs.Int("n", 10, "Number of runs to show")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	configureLogging(*verbosity)
	if fs.NArg() != 1 || *limit <= 0 {
		fs.Usage()
		return errUsage
	}

	path := *reportPath
	if path == "" {
		m, err := loadManifest(*configDir)
		if err != nil {
			return err
		}
		path = m.ReportPath()
	}
	if path == "" {
		return fmt.Errorf("no run log configured; pass -report or set weave.report in loom.toml")
	}

	store, err := report.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runs, err := store.Recent(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(stdout, "no runs recorded for %s\n", fs.Arg(0))
		return nil
	}

	failed := color.New(color.FgRed).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tMVID\tWOVEN\tFIELDS\tCREATED\tERRORS\tSTATUS")
	for _, r := range runs {
		status := ok("ok")
		if r.Failed {
			status = failed("failed")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.MVID,
			r.Summary.Woven, r.Summary.Types, r.Summary.Fields, r.Summary.Created,
			r.Errors(), status)
	}
	return tw.Flush()
}
