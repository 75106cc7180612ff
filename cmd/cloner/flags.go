package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/blockedby/tg-cloner/internal/cloner"
	"github.com/blockedby/tg-cloner/internal/config"
)

// options are the parsed command-line arguments.
type options struct {
	source       string
	target       string
	limit        int
	resume       bool
	dryRun       bool
	delay        float64 // seconds, -1 when not given
	batchSize    int     // 0 = keep configured value
	useBot       bool
	logLevel     string
	listProgress bool
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var o options

	fs := flag.NewFlagSet("cloner", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&o.source, "source", "", "source channel: @username, t.me link, -100... id or +invite")
	fs.StringVar(&o.target, "target", "", "target channel, same forms as -source")
	fs.IntVar(&o.limit, "limit", 0, "maximum number of messages to replicate (0 = all)")
	fs.BoolVar(&o.resume, "resume", false, "continue after the last saved checkpoint")
	fs.BoolVar(&o.dryRun, "dry-run", false, "fetch and summarize without sending")
	fs.Float64Var(&o.delay, "delay", -1, "seconds to pause between batches (overrides RATE_LIMIT_DELAY)")
	fs.IntVar(&o.batchSize, "batch-size", 0, "messages per batch (overrides BATCH_SIZE)")
	fs.BoolVar(&o.useBot, "use-bot", false, "send through the bot session with user fallback")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warning or error (overrides LOG_LEVEL)")
	fs.BoolVar(&o.listProgress, "list-progress", false, "print saved checkpoints and exit")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.limit < 0 {
		return o, cloner.ErrInvalidLimit
	}
	if o.batchSize < 0 {
		return o, config.ErrBatchSize
	}
	delaySet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "delay" {
			delaySet = true
		}
	})
	if delaySet && o.delay < 0 {
		return o, config.ErrNegativeDelay
	}
	return o, nil
}

// overrides converts the flags that replace configuration values.
func (o options) overrides() config.Overrides {
	ov := config.Overrides{
		UseBot:   o.useBot,
		LogLevel: o.logLevel,
	}
	if o.delay >= 0 {
		d := time.Duration(o.delay * float64(time.Second))
		ov.RateLimitDelay = &d
	}
	if o.batchSize > 0 {
		n := o.batchSize
		ov.BatchSize = &n
	}
	return ov
}

func (o options) job() cloner.Job {
	return cloner.Job{
		Source: o.source,
		Target: o.target,
		Limit:  o.limit,
		Resume: o.resume,
		DryRun: o.dryRun,
	}
}

// promptMissing asks for source and target when they were not given.
func (o *options) promptMissing(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	ask := func(label string) (string, error) {
		fmt.Fprintf(out, "enter %s channel (@username, t.me link or id): ", label)
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" && err != nil {
			return "", fmt.Errorf("read %s channel: %w", label, err)
		}
		return line, nil
	}

	var err error
	if strings.TrimSpace(o.source) == "" {
		if o.source, err = ask("source"); err != nil {
			return err
		}
	}
	if strings.TrimSpace(o.target) == "" {
		if o.target, err = ask("target"); err != nil {
			return err
		}
	}
	return nil
}
