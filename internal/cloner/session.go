package cloner

import (
	"context"

	"github.com/blockedby/tg-cloner/internal/channelref"
	"github.com/blockedby/tg-cloner/internal/progress"
	"github.com/blockedby/tg-cloner/internal/telegram"
)

// Session defines the telegram operations the engine needs from one account.
type Session interface {
	Resolve(ctx context.Context, ref channelref.Ref) (*telegram.Peer, error)
	Messages(ctx context.Context, peer *telegram.Peer, afterID, limit int) ([]telegram.Message, error)
	SendText(ctx context.Context, peer *telegram.Peer, msg telegram.Message) telegram.Result
	SendMedia(ctx context.Context, peer *telegram.Peer, msg telegram.Message) telegram.Result
	Close()
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, kind telegram.SessionKind) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, kind telegram.SessionKind) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, kind telegram.SessionKind) (Session, error) {
	return f(ctx, kind)
}

// ManagerDialer opens sessions through a telegram.Manager.
func ManagerDialer(m *telegram.Manager) Dialer {
	return DialerFunc(func(ctx context.Context, kind telegram.SessionKind) (Session, error) {
		client, err := m.Dial(ctx, kind)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
}

// CheckpointStore persists the last replicated message per source/target pair.
type CheckpointStore interface {
	Load(key string) (progress.Entry, bool)
	Save(key string, entry progress.Entry) bool
}
