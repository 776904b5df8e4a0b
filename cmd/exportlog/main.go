// Command exportlog prints the recorded export attempts of a labdash console.
//
// Usage:
//
//	exportlog [-config data/config.yaml] [-db path] [-n 20]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"labdash/config"
	"labdash/history"

	"github.com/dustin/go-humanize"
)

func main() {
	configPath := flag.String("config", config.ResolvePath(), "console configuration")
	dbPath := flag.String("db", "", "history database (default: history.db_path from the config)")
	limit := flag.Int("n", 20, "number of attempts to show")
	flag.Parse()

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("exportlog: %v", err)
		}
		path = cfg.History.DBPath
	}
	if _, err := os.Stat(path); err != nil {
		log.Fatalf("exportlog: %v", err)
	}

	store, err := history.Open(path)
	if err != nil {
		log.Fatalf("exportlog: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	attempts, err := store.Recent(ctx, *limit)
	if err != nil {
		log.Fatalf("exportlog: %v", err)
	}
	printAttempts(os.Stdout, attempts, time.Now())
}

// printAttempts lists attempts by their stored ID; the per-run attempt
// counter repeats across console runs and is not shown.
func printAttempts(w io.Writer, attempts []history.Attempt, now time.Time) {
	if len(attempts) == 0 {
		fmt.Fprintln(w, "no export attempts recorded")
		return
	}
	for _, a := range attempts {
		outcome := a.Filename
		if a.State != "succeeded" {
			outcome = a.Error
		}
		when := "-"
		if !a.FinishedAt.IsZero() {
			when = humanize.RelTime(a.FinishedAt, now, "ago", "from now")
		}
		fmt.Fprintf(w, "#%-4d %-9s %-20s %-16s %6s  [%s] %s\n",
			a.ID, a.State, a.Experiment, when,
			a.Duration().Round(time.Millisecond), strings.Join(a.Datasets, ","), outcome)
	}
}
