// Command ledger-reconcile compares every invite's use counter with its
// active usage records and optionally rewrites drifted counters.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"discord-invite-tracker/internal/config"
	"discord-invite-tracker/internal/database"
	"discord-invite-tracker/internal/models"
)

func main() {
	os.Exit(run())
}

// run returns the exit code: 1 on error or on drift left unfixed. Deferred
// cleanup finishes before main exits.
func run() int {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	fix := flag.Bool("fix", false, "rewrite drifted counters to the active record count")
	asJSON := flag.Bool("json", false, "print drifts as JSON")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall time limit")
	flag.Parse()

	cfg, err := config.LoadDatabase(*configPath)
	if err != nil {
		log.Printf("Error loading config: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Printf("Error opening database: %v", err)
		return 1
	}
	defer db.Close()

	drifts, err := db.Reconcile(ctx, *fix)
	if err != nil {
		log.Printf("Reconcile failed: %v", err)
		return 1
	}

	if *asJSON {
		err = json.NewEncoder(os.Stdout).Encode(drifts)
	} else {
		err = printDrifts(os.Stdout, drifts, *fix)
	}
	if err != nil {
		log.Printf("Error writing report: %v", err)
		return 1
	}
	return exitCode(drifts, *fix)
}

func exitCode(drifts []*models.Drift, fixed bool) int {
	if len(drifts) > 0 && !fixed {
		return 1
	}
	return 0
}

func printDrifts(w io.Writer, drifts []*models.Drift, fixed bool) error {
	if len(drifts) == 0 {
		_, err := fmt.Fprintln(w, "All invite counters match their active records.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tUSES\tACTIVE")
	for _, d := range drifts {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", d.InviteID, d.Code, d.Uses, d.ActiveUses)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	verb := "drifted"
	if fixed {
		verb = "fixed"
	}
	_, err := fmt.Fprintf(w, "%d invite counter(s) %s.\n", len(drifts), verb)
	return err
}
