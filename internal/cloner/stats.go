package cloner

import (
	"fmt"
	"time"

	"github.com/blockedby/tg-cloner/internal/telegram"
)

// outcome is the final result of one message.
type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeSent:
		return "sent"
	case outcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Stats counts per-message outcomes of a run. Skipped messages are also
// counted as sent, so Processed == Sent + Failed always holds.
type Stats struct {
	Processed int
	Sent      int
	Failed    int
	Skipped   int
}

func (s *Stats) add(o outcome) {
	s.Processed++
	switch o {
	case outcomeSent:
		s.Sent++
	case outcomeSkipped:
		s.Sent++
		s.Skipped++
	case outcomeFailed:
		s.Failed++
	}
}

// SuccessRate returns sent/processed in percent, 0 for an empty run.
func (s Stats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Sent) / float64(s.Processed) * 100
}

// Composition describes what a dry run would replicate.
type Composition struct {
	Total int
	Text  int
	Media int
	Empty int
}

func compose(msgs []telegram.Message) Composition {
	c := Composition{Total: len(msgs)}
	for _, m := range msgs {
		switch {
		case m.Media != nil:
			c.Media++
		case m.HasText():
			c.Text++
		default:
			c.Empty++
		}
	}
	return c
}

// FormatDuration renders d as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// ETA estimates the remaining time from the average rate so far.
func ETA(current, total int, elapsed time.Duration) string {
	if current <= 0 || elapsed <= 0 {
		return "unknown"
	}
	rate := float64(current) / elapsed.Seconds()
	remaining := float64(total-current) / rate
	return FormatDuration(time.Duration(remaining) * time.Second)
}
