package cloner

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventPublisher publishes run events
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, event RunCompletedEvent) error
}

// RunCompletedEvent is published once a replication run ends, interrupted or not.
type RunCompletedEvent struct {
	RunID             uuid.UUID `json:"run_id"`
	Source            string    `json:"source"`
	Target            string    `json:"target"`
	MessagesProcessed int       `json:"messages_processed"`
	MessagesSent      int       `json:"messages_sent"`
	MessagesFailed    int       `json:"messages_failed"`
	MessagesSkipped   int       `json:"messages_skipped"`
	LastMessageID     int       `json:"last_message_id"`
	Completed         bool      `json:"completed"`
	Interrupted       bool      `json:"interrupted"`
	DurationSeconds   float64   `json:"duration_seconds"`
	FinishedAt        time.Time `json:"finished_at"`
}

func newRunCompletedEvent(r *Report, finishedAt time.Time) RunCompletedEvent {
	return RunCompletedEvent{
		RunID:             r.RunID,
		Source:            r.Source,
		Target:            r.Target,
		MessagesProcessed: r.Stats.Processed,
		MessagesSent:      r.Stats.Sent,
		MessagesFailed:    r.Stats.Failed,
		MessagesSkipped:   r.Stats.Skipped,
		LastMessageID:     r.LastMessageID,
		Completed:         r.Completed,
		Interrupted:       r.Interrupted,
		DurationSeconds:   r.Duration.Seconds(),
		FinishedAt:        finishedAt,
	}
}
