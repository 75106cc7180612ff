package cloner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blockedby/tg-cloner/internal/channelref"
)

// validation errors
var (
	ErrSourceRequired = errors.New("source channel is required")
	ErrTargetRequired = errors.New("target channel is required")
	ErrInvalidLimit   = errors.New("limit must be non-negative")
)

// ErrInterrupted is returned when a run stops because its context was
// canceled. Progress made up to that point is saved.
var ErrInterrupted = errors.New("replication interrupted")

// Job describes one replication run.
type Job struct {
	// Source - channel to copy from: @username, t.me link, -100... id or +invite.
	Source string

	// Target - channel to copy into, same forms as Source.
	Target string

	// Limit - maximum messages to replicate.
	// 0 means no limit.
	Limit int

	// Resume - continue after the last saved checkpoint.
	Resume bool

	// DryRun - fetch and report without sending anything.
	DryRun bool
}

// Validate checks the job and parses both channel references.
func (j Job) Validate() (src, dst channelref.Ref, err error) {
	if strings.TrimSpace(j.Source) == "" {
		return src, dst, ErrSourceRequired
	}
	if strings.TrimSpace(j.Target) == "" {
		return src, dst, ErrTargetRequired
	}
	if j.Limit < 0 {
		return src, dst, ErrInvalidLimit
	}

	src, err = channelref.Parse(j.Source)
	if err != nil {
		return src, dst, fmt.Errorf("source: %w", err)
	}
	dst, err = channelref.Parse(j.Target)
	if err != nil {
		return src, dst, fmt.Errorf("target: %w", err)
	}
	return src, dst, nil
}
