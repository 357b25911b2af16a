// Command probe profiles the catalog and event roots without opening the
// warehouse. It decodes a sample of each root, reports the rows a load would
// derive and flags the files a load would reject.
//
// Output modes
//
//   - Default mode: a human-readable summary followed by one uniqueness
//     report per root.
//   - JSON mode (--json): the full profile as a JSON document on stdout.
//
// Roots and the file pattern come from the same configuration layers as the
// loader (--config file, SPARKIFY_* environment, flags).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sparkify/internal/config"
	"sparkify/internal/probe"
	"sparkify/internal/source"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("probe", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String(config.FlagConfig, "", "config file (yaml|json); optional")
	maxFiles := fs.Int("max-files", 0, "files sampled per root (0 = all)")
	asJSON := fs.Bool("json", false, "print the profile as JSON")
	config.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: probe [--max-files N] [--json] [flags]; unexpected arguments: %v\n", fs.Args())
		return 2
	}
	if *maxFiles < 0 {
		fmt.Fprintln(stderr, "--max-files must be >= 0")
		return 2
	}

	cfg, err := config.Load(config.Options{Path: *cfgPath, Flags: fs})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	rep, err := probe.Profile(ctx, source.NewOS(cfg.Data.Pattern), probe.Options{
		CatalogRoot: cfg.Data.CatalogRoot,
		EventRoot:   cfg.Data.EventRoot,
		MaxFiles:    *maxFiles,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if *asJSON {
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "encode: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(out))
		return 0
	}

	printReport(stdout, rep)
	return 0
}

func printReport(w io.Writer, rep probe.Report) {
	p := message.NewPrinter(language.English)

	for _, rr := range []struct {
		name string
		r    probe.RootReport
	}{{"catalog", rep.Catalog}, {"events", rep.Events}} {
		p.Fprintf(w, "%s %s: %d files, %d sampled, %d records, %d rejected\n",
			rr.name, rr.r.Root, rr.r.Files, rr.r.Sampled, rr.r.Records, len(rr.r.Rejected))
		for _, f := range rr.r.Rejected {
			fmt.Fprintf(w, "  rejected %s: %s\n", f.Path, f.Reason)
		}
	}

	p.Fprintf(w, "songs %d, artists %d\n", rep.Songs, rep.Artists)
	p.Fprintf(w, "playbacks %d (skipped %d, matchable in sample %d), users %d, start times %d\n",
		rep.Playbacks, rep.Skipped, rep.Matchable, rep.Users, rep.StartTimes)
	if !rep.FirstEvent.IsZero() {
		fmt.Fprintf(w, "events span %s .. %s\n",
			rep.FirstEvent.Format("2006-01-02T15:04:05.000Z"), rep.LastEvent.Format("2006-01-02T15:04:05.000Z"))
	}
	printCounts(w, p, "pages", rep.Pages)
	printCounts(w, p, "levels", rep.Levels)

	fmt.Fprintln(w)
	fmt.Fprintln(w, probe.FormatUniqueness(rep.Catalog.Uniqueness))
	fmt.Fprintln(w)
	fmt.Fprintln(w, probe.FormatUniqueness(rep.Events.Uniqueness))
}

func printCounts(w io.Writer, p *message.Printer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		name := k
		if name == "" {
			name = "(empty)"
		}
		p.Fprintf(w, "  %-12s %d\n", name, counts[k])
	}
}
