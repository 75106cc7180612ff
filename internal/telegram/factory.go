package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/blockedby/tg-cloner/internal/config"
)

// NewPersistentClient creates a gotgproto client for the given session kind.
// db is the session store; nil means the user session comes from the
// configured session string and lives in memory.
func NewPersistentClient(_ context.Context, cfg config.Config, kind SessionKind, db *gorm.DB) (*gotgproto.Client, error) {
	clientType := gotgproto.ClientTypePhone("") // empty = use session
	if kind == SessionBot {
		clientType = gotgproto.ClientTypeBot(cfg.BotToken)
	}

	opts := &gotgproto.ClientOpts{
		DisableCopyright: true,
	}
	if db == nil {
		opts.Session = sessionMaker.StringSession(cfg.SessionString)
		opts.InMemory = true
	} else {
		// session data and peers are persisted in the database
		opts.Session = sessionMaker.SqlSession(db.Dialector)
	}

	client, err := gotgproto.NewClient(cfg.APIID, cfg.APIHash, clientType, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram %s client: %w", kind, err)
	}
	return client, nil
}

// SessionDialector picks the gorm dialector for a session store. The user
// session goes to SESSION_DATABASE_URL when it is set (a postgres URL or a
// sqlite path); the bot session always lives in a local sqlite file.
func SessionDialector(cfg config.Config, kind SessionKind) gorm.Dialector {
	if kind == SessionUser && cfg.SessionDBURL != "" {
		if isPostgresURL(cfg.SessionDBURL) {
			return postgres.Open(cfg.SessionDBURL)
		}
		return sqlite.Open(cfg.SessionDBURL)
	}
	return sqlite.Open(SessionFile(cfg, kind))
}

// SessionFile returns the sqlite file used for a session kind.
func SessionFile(cfg config.Config, kind SessionKind) string {
	name := cfg.SessionName
	if name == "" {
		name = config.Default().SessionName
	}
	if kind == SessionBot {
		name += "_bot"
	}
	return name + ".session"
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}
