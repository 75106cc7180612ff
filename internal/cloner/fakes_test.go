package cloner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-cloner/internal/channelref"
	"github.com/blockedby/tg-cloner/internal/config"
	"github.com/blockedby/tg-cloner/internal/logger"
	"github.com/blockedby/tg-cloner/internal/progress"
	"github.com/blockedby/tg-cloner/internal/telegram"
)

var errSend = errors.New("CHAT_WRITE_FORBIDDEN")

// fakeSession is an in-memory account. Send results are taken from the
// queues in order; an empty queue means success.
type fakeSession struct {
	mu sync.Mutex

	history      []telegram.Message
	resolveErr   error
	messagesErr  error
	textResults  []telegram.Result
	mediaResults []telegram.Result

	// onSend runs before every send, after it is recorded
	onSend func(msg telegram.Message)

	resolved  []string
	afterID   int
	limit     int
	textSent  []int
	mediaSent []int
	closed    bool
}

func (s *fakeSession) Resolve(_ context.Context, ref channelref.Ref) (*telegram.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, ref.String())
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return &telegram.Peer{ID: int64(len(s.resolved)), Title: ref.String()}, nil
}

func (s *fakeSession) Messages(_ context.Context, _ *telegram.Peer, afterID, limit int) ([]telegram.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterID, s.limit = afterID, limit
	if s.messagesErr != nil {
		return nil, s.messagesErr
	}
	var out []telegram.Message
	for _, m := range s.history {
		if m.ID <= afterID {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeSession) SendText(_ context.Context, _ *telegram.Peer, msg telegram.Message) telegram.Result {
	s.mu.Lock()
	s.textSent = append(s.textSent, msg.ID)
	res := pop(&s.textResults)
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return res
}

func (s *fakeSession) SendMedia(_ context.Context, _ *telegram.Peer, msg telegram.Message) telegram.Result {
	s.mu.Lock()
	s.mediaSent = append(s.mediaSent, msg.ID)
	res := pop(&s.mediaResults)
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return res
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func pop(q *[]telegram.Result) telegram.Result {
	if len(*q) == 0 {
		return telegram.Result{Kind: telegram.ResultOK}
	}
	res := (*q)[0]
	*q = (*q)[1:]
	return res
}

func failed(n int) []telegram.Result {
	out := make([]telegram.Result, n)
	for i := range out {
		out[i] = telegram.Failed(errSend)
	}
	return out
}

// fakeDialer hands out fixed sessions per kind.
type fakeDialer struct {
	user, bot *fakeSession
	userErr   error
	botErr    error
	dialed    []telegram.SessionKind
}

func (d *fakeDialer) Dial(_ context.Context, kind telegram.SessionKind) (Session, error) {
	d.dialed = append(d.dialed, kind)
	if kind == telegram.SessionBot {
		if d.botErr != nil {
			return nil, d.botErr
		}
		return d.bot, nil
	}
	if d.userErr != nil {
		return nil, d.userErr
	}
	return d.user, nil
}

// recordingStore counts saves on top of a real progress file.
type recordingStore struct {
	*progress.Store
	saves []progress.Entry
}

func (s *recordingStore) Save(key string, entry progress.Entry) bool {
	s.saves = append(s.saves, entry)
	return s.Store.Save(key, entry)
}

type fakePublisher struct {
	events []RunCompletedEvent
	err    error
}

func (p *fakePublisher) PublishRunCompleted(_ context.Context, event RunCompletedEvent) error {
	p.events = append(p.events, event)
	return p.err
}

// sleepRecorder replaces real sleeping. It honours cancellation like the
// real one does.
type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.APIID = 12345
	cfg.APIHash = "test_hash"
	cfg.RateLimitDelay = time.Second
	cfg.BatchSize = 10
	cfg.MaxRetries = 3
	cfg.RetryDelay = 5 * time.Second
	cfg.SaveProgressInterval = 50
	cfg.DownloadMedia = true
	return cfg
}

type harness struct {
	engine *Engine
	dialer *fakeDialer
	store  *recordingStore
	sleeps *sleepRecorder
}

func newHarness(t *testing.T, cfg config.Config, history []telegram.Message) *harness {
	t.Helper()
	h := &harness{
		dialer: &fakeDialer{
			user: &fakeSession{history: history},
			bot:  &fakeSession{},
		},
		store:  &recordingStore{Store: progress.NewStore(filepath.Join(t.TempDir(), "progress.json"), logger.Nop())},
		sleeps: &sleepRecorder{},
	}
	h.engine = NewEngine(cfg, h.dialer, h.store, nil, logger.Nop())
	h.engine.sleep = h.sleeps.sleep
	return h
}

func textMessages(from, to int) []telegram.Message {
	var out []telegram.Message
	for id := from; id <= to; id++ {
		out = append(out, telegram.Message{ID: id, Text: fmt.Sprintf("message %d", id)})
	}
	return out
}

func mediaMessage(id int, caption string) telegram.Message {
	return telegram.Message{
		ID:   id,
		Text: caption,
		Media: &telegram.Media{
			Kind:  telegram.MediaPhoto,
			Input: &tg.InputMediaPhoto{ID: &tg.InputPhoto{ID: int64(id)}},
		},
	}
}

var testJob = Job{Source: "@source_channel", Target: "@target_channel"}

const testKey = "source_channel_to_target_channel"
