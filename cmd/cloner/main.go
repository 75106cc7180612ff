// Command cloner replicates the message history of one Telegram channel into
// another.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/blockedby/tg-cloner/internal/cloner"
	"github.com/blockedby/tg-cloner/internal/config"
	"github.com/blockedby/tg-cloner/internal/logger"
	"github.com/blockedby/tg-cloner/internal/nats"
	"github.com/blockedby/tg-cloner/internal/progress"
	"github.com/blockedby/tg-cloner/internal/publisher"
	"github.com/blockedby/tg-cloner/internal/telegram"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	// 1. Load config
	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "failed to load config:", err)
		return exitFailure
	}
	cfg := loaded.WithOverrides(opts.overrides())

	if opts.listProgress {
		return listProgress(stdout, progress.NewStore(cfg.ProgressFile, logger.Nop()))
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintln(stderr, "configuration errors:")
		for _, e := range errs {
			fmt.Fprintln(stderr, "  -", e)
		}
		return exitFailure
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		fmt.Fprintln(stderr, "failed to init logger:", err)
		return exitFailure
	}
	log := logger.Get()

	if err := opts.promptMissing(stdin, stdout); err != nil {
		log.Error().Err(err).Msg("channels are required")
		return exitFailure
	}

	log.Info().
		Str("source", opts.source).
		Str("target", opts.target).
		Int("limit", opts.limit).
		Bool("resume", opts.resume).
		Bool("dry_run", opts.dryRun).
		Str("config", cfg.Redacted()).
		Msg("starting cloner")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("received shutdown signal, finishing current message")
			cancel()
		case <-ctx.Done():
		}
	}()

	// 4. Connect to NATS
	var pub cloner.EventPublisher
	if cfg.NatsURL != "" {
		nc, err := nats.New(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			defer nc.Close()
			if err := nc.EnsureStream(ctx, nats.StreamName, []string{nats.StreamSubjects}); err != nil {
				log.Warn().Err(err).Msg("failed to ensure nats stream")
			}
			pub = publisher.NewNATSPublisher(nc)
		}
	}

	// 5. Telegram sessions and checkpoint store
	tgManager := telegram.NewManager(cfg)
	defer tgManager.Stop()

	store := progress.NewStore(cfg.ProgressFile, log)
	engine := cloner.NewEngine(cfg, cloner.ManagerDialer(tgManager), store, pub, log)

	// 6. Run
	report, err := engine.Run(ctx, opts.job())
	if report != nil {
		printReport(stdout, report)
	}
	switch {
	case cloner.IsInterrupted(err):
		log.Warn().Msg("interrupted, progress saved; rerun with -resume to continue")
		return exitInterrupted
	case err != nil:
		log.Error().Err(err).Msg("cloning failed")
		return exitFailure
	}
	return exitOK
}

func printReport(w io.Writer, r *cloner.Report) {
	fmt.Fprintf(w, "\n%s -> %s\n", r.Source, r.Target)
	if r.DryRun && r.Composition != nil {
		c := r.Composition
		fmt.Fprintf(w, "dry run: %d messages (%d text, %d media, %d empty)\n", c.Total, c.Text, c.Media, c.Empty)
		return
	}

	s := r.Stats
	fmt.Fprintf(w, "fetched:   %d\n", r.Fetched)
	fmt.Fprintf(w, "processed: %d\n", s.Processed)
	fmt.Fprintf(w, "sent:      %d\n", s.Sent)
	fmt.Fprintf(w, "skipped:   %d\n", s.Skipped)
	fmt.Fprintf(w, "failed:    %d\n", s.Failed)
	fmt.Fprintf(w, "success:   %.1f%%\n", s.SuccessRate())
	fmt.Fprintf(w, "last id:   %d\n", r.LastMessageID)
	fmt.Fprintf(w, "duration:  %s\n", cloner.FormatDuration(r.Duration))

	switch {
	case r.Interrupted:
		fmt.Fprintln(w, "status:    interrupted")
	case r.Completed:
		fmt.Fprintln(w, "status:    completed")
	default:
		fmt.Fprintln(w, "status:    incomplete")
	}
}

func listProgress(w io.Writer, store *progress.Store) int {
	keys := store.Keys()
	if len(keys) == 0 {
		fmt.Fprintf(w, "no saved progress in %s\n", store.Path())
		return exitOK
	}

	fmt.Fprintf(w, "saved progress in %s:\n", store.Path())
	for _, key := range keys {
		entry, ok := store.Load(key)
		if !ok {
			continue
		}
		status := "in progress"
		if entry.Completed {
			status = "completed"
		}
		updated := "unknown"
		if t, ok := entry.UpdatedAt(); ok {
			updated = t.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "  %s: last_id=%d sent=%d failed=%d %s (updated %s)\n",
			key, entry.LastMessageID, entry.MessagesSent, entry.MessagesFailed, status, updated)
	}
	return exitOK
}
