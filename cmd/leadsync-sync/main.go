// Command leadsync-sync runs a single Trello reconciliation pass for one agency.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"github.com/vipul43/leadsync/internal/app"
	"github.com/vipul43/leadsync/internal/config"
	"github.com/vipul43/leadsync/internal/database"
	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/service"
)

type options struct {
	AgencyID string
	Full     bool
	Timeout  time.Duration
	Migrate  bool
}

type syncRunner interface {
	Run(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error)
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		logging.Error().Err(err).Msg("Sync failed")
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("leadsync-sync", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.AgencyID, "agency", "a", "", "agency id to sync (required)")
	fs.BoolVar(&opts.Full, "full", false, "ignore the checkpoint and run a full pass with orphan cleanup")
	fs.DurationVar(&opts.Timeout, "timeout", 0, "abort the pass after this long (default SYNC_PASS_TIMEOUT)")
	fs.BoolVar(&opts.Migrate, "migrate", false, "apply database migrations before syncing")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.AgencyID == "" {
		return opts, fmt.Errorf("--agency is required")
	}
	if opts.Timeout < 0 {
		return opts, fmt.Errorf("--timeout must not be negative")
	}
	return opts, nil
}

func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if opts.Migrate {
		if err := database.RunMigrations(db); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer components.Close()

	if opts.Timeout == 0 {
		opts.Timeout = cfg.SyncPassTimeout
	}
	return syncOnce(ctx, components.Reconciler, opts, os.Stdout)
}

// syncOnce runs the pass and prints the summary as JSON
func syncOnce(ctx context.Context, runner syncRunner, opts options, out io.Writer) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	summary, err := runner.Run(ctx, service.SyncRequest{
		AgencyID:      opts.AgencyID,
		ForceFullSync: opts.Full,
		Trigger:       service.TriggerCLI,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
