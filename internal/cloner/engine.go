// Package cloner replicates the message history of one channel into another.
package cloner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-cloner/internal/channelref"
	"github.com/blockedby/tg-cloner/internal/config"
	"github.com/blockedby/tg-cloner/internal/logger"
	"github.com/blockedby/tg-cloner/internal/progress"
	"github.com/blockedby/tg-cloner/internal/telegram"
)

const (
	// a progress line is logged every progressEvery processed messages
	progressEvery = 10

	publishTimeout = 10 * time.Second
)

// Report summarizes a run.
type Report struct {
	RunID         uuid.UUID
	Source        string // canonical source reference
	Target        string // canonical target reference
	Key           string // checkpoint key
	Fetched       int
	Stats         Stats
	Composition   *Composition // dry runs only
	LastMessageID int
	Completed     bool
	Interrupted   bool
	DryRun        bool
	Duration      time.Duration
}

// Engine runs replication jobs. It is not safe for concurrent runs.
type Engine struct {
	cfg       config.Config
	dialer    Dialer
	store     CheckpointStore
	publisher EventPublisher
	log       *logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewEngine creates a replication engine. publisher may be nil.
func NewEngine(cfg config.Config, dialer Dialer, store CheckpointStore, publisher EventPublisher, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Get()
	}
	return &Engine{
		cfg:       cfg,
		dialer:    dialer,
		store:     store,
		publisher: publisher,
		log:       log,
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// run holds the state of one Run call.
type run struct {
	*Engine
	job    Job
	report *Report

	user    Session
	bot     Session
	target  *telegram.Peer // target as seen by the user session
	botPeer *telegram.Peer // target as seen by the bot session

	started time.Time
	total   int
}

// Run replicates job. On cancellation the progress made so far is saved and
// ErrInterrupted is returned together with the report.
func (e *Engine) Run(ctx context.Context, job Job) (*Report, error) {
	src, dst, err := job.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	r := &run{
		Engine: e,
		job:    job,
		report: &Report{
			RunID:  uuid.New(),
			Source: src.String(),
			Target: dst.String(),
			Key:    channelref.CheckpointKey(src, dst),
			DryRun: job.DryRun,
		},
		started: e.now(),
	}

	e.log.Info().
		Str("run_id", r.report.RunID.String()).
		Str("source", r.report.Source).
		Str("target", r.report.Target).
		Int("limit", job.Limit).
		Bool("resume", job.Resume).
		Bool("dry_run", job.DryRun).
		Bool("bot", e.cfg.UseBotForSending).
		Msg("starting replication")

	if err := r.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ErrInterrupted
		}
		return nil, err
	}
	defer r.close()

	source, err := r.resolve(ctx, src, dst)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrInterrupted
		}
		return nil, err
	}

	startID := 0
	if job.Resume {
		startID = r.checkpoint(channelref.LegacyKey(job.Source, job.Target))
	}
	r.report.LastMessageID = startID

	msgs, err := r.user.Messages(ctx, source, startID, job.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return r.report, ErrInterrupted
		}
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	r.total = len(msgs)
	r.report.Fetched = len(msgs)

	if len(msgs) == 0 {
		e.log.Info().Int("after_id", startID).Msg("no new messages to replicate")
		r.report.Completed = true
		r.report.Duration = e.now().Sub(r.started)
		return r.report, nil
	}

	e.log.Info().
		Int("count", len(msgs)).
		Int("first_id", msgs[0].ID).
		Int("last_id", msgs[len(msgs)-1].ID).
		Msg("messages fetched")

	if job.DryRun {
		c := compose(msgs)
		r.report.Composition = &c
		r.report.Duration = e.now().Sub(r.started)
		e.log.Info().
			Int("total", c.Total).
			Int("text", c.Text).
			Int("media", c.Media).
			Int("empty", c.Empty).
			Msg("dry run: nothing was sent")
		return r.report, nil
	}

	runErr := r.replicate(ctx, msgs)
	r.finish()
	return r.report, runErr
}

func (r *run) connect(ctx context.Context) error {
	user, err := r.dialer.Dial(ctx, telegram.SessionUser)
	if err != nil {
		return fmt.Errorf("connect user session: %w", err)
	}
	r.user = user

	if r.cfg.UseBotForSending {
		bot, err := r.dialer.Dial(ctx, telegram.SessionBot)
		if err != nil {
			user.Close()
			return fmt.Errorf("connect bot session: %w", err)
		}
		r.bot = bot
	}
	return nil
}

func (r *run) close() {
	if r.bot != nil {
		r.bot.Close()
	}
	r.user.Close()
}

// resolve looks up the source through the user session and the target
// through every session that may send to it.
func (r *run) resolve(ctx context.Context, src, dst channelref.Ref) (*telegram.Peer, error) {
	source, err := r.user.Resolve(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("resolve source %s: %w", src, err)
	}
	r.target, err = r.user.Resolve(ctx, dst)
	if err != nil {
		return nil, fmt.Errorf("resolve target %s: %w", dst, err)
	}
	if r.bot != nil {
		r.botPeer, err = r.bot.Resolve(ctx, dst)
		if err != nil {
			return nil, fmt.Errorf("resolve target %s for bot: %w", dst, err)
		}
	}

	r.log.Info().
		Str("source", source.DisplayName()).
		Int64("source_id", source.MarkedID()).
		Str("target", r.target.DisplayName()).
		Int64("target_id", r.target.MarkedID()).
		Msg("channels resolved")
	return source, nil
}

// checkpoint returns the last replicated id for this pair, trying the key
// format of older versions when the current one is absent.
func (r *run) checkpoint(legacyKey string) int {
	for _, key := range []string{r.report.Key, legacyKey} {
		entry, found := r.store.Load(key)
		if !found {
			continue
		}
		r.log.Info().
			Str("key", key).
			Int("last_message_id", entry.LastMessageID).
			Bool("completed", entry.Completed).
			Msg("resuming from checkpoint")
		return entry.LastMessageID
	}
	r.log.Info().Str("key", r.report.Key).Msg("no checkpoint found, starting from the beginning")
	return 0
}

// replicate sends msgs in batches, pausing between batches.
func (r *run) replicate(ctx context.Context, msgs []telegram.Message) error {
	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	for start := 0; start < len(msgs); start += batchSize {
		end := min(start+batchSize, len(msgs))

		for _, msg := range msgs[start:end] {
			if ctx.Err() != nil {
				return r.interrupted()
			}

			out, err := r.deliver(ctx, msg)
			if err != nil {
				// the wait before the next attempt was interrupted; the
				// message is left for the next run
				return r.interrupted()
			}
			r.record(msg, out)
		}

		if end < len(msgs) && r.cfg.RateLimitDelay > 0 {
			r.log.Debug().Dur("delay", r.cfg.RateLimitDelay).Msg("batch done, pausing")
			if err := r.sleep(ctx, r.cfg.RateLimitDelay); err != nil {
				return r.interrupted()
			}
		}
	}
	return nil
}

func (r *run) interrupted() error {
	r.report.Interrupted = true
	r.log.Warn().Int("processed", r.report.Stats.Processed).Msg("replication interrupted, saving progress")
	return ErrInterrupted
}

func (r *run) record(msg telegram.Message, out outcome) {
	r.report.Stats.add(out)
	r.report.LastMessageID = msg.ID

	processed := r.report.Stats.Processed
	if r.cfg.SaveProgressInterval > 0 && processed%r.cfg.SaveProgressInterval == 0 {
		r.save(false)
	}
	if processed%progressEvery == 0 {
		elapsed := r.now().Sub(r.started)
		r.log.Info().
			Int("processed", processed).
			Int("total", r.total).
			Str("percent", fmt.Sprintf("%.1f%%", float64(processed)/float64(r.total)*100)).
			Str("elapsed", FormatDuration(elapsed)).
			Str("eta", ETA(processed, r.total, elapsed)).
			Msg("progress")
	}
}

func (r *run) save(completed bool) {
	s := r.report.Stats
	r.store.Save(r.report.Key, progress.Entry{
		LastMessageID:     r.report.LastMessageID,
		Completed:         completed,
		MessagesProcessed: s.Processed,
		MessagesSent:      s.Sent,
		MessagesFailed:    s.Failed,
	})
}

// finish saves the final checkpoint, logs the summary and publishes the
// run event.
func (r *run) finish() {
	r.report.Completed = !r.report.Interrupted && r.report.Stats.Processed == r.total
	r.save(r.report.Completed)

	finishedAt := r.now()
	r.report.Duration = finishedAt.Sub(r.started)

	s := r.report.Stats
	ev := r.log.Info().
		Str("duration", FormatDuration(r.report.Duration)).
		Int("processed", s.Processed).
		Int("sent", s.Sent).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Int("last_message_id", r.report.LastMessageID).
		Bool("completed", r.report.Completed)
	if s.Processed > 0 {
		ev = ev.Str("success_rate", fmt.Sprintf("%.1f%%", s.SuccessRate()))
		if secs := r.report.Duration.Seconds(); secs > 0 {
			ev = ev.Str("rate", fmt.Sprintf("%.2f msg/s", float64(s.Processed)/secs))
		}
	}
	ev.Msg("replication summary")

	if r.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.publisher.PublishRunCompleted(ctx, newRunCompletedEvent(r.report, finishedAt)); err != nil {
		r.log.Warn().Err(err).Msg("failed to publish run event")
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsInterrupted reports whether err comes from a canceled run.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
