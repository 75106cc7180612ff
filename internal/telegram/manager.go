package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/blockedby/tg-cloner/internal/config"
	"github.com/blockedby/tg-cloner/internal/logger"
)

// ErrUnauthorized is returned when the user session store holds no session.
var ErrUnauthorized = errors.New("telegram session is not authorized, run tg-auth first")

// ClientFactory is a function that creates a telegram client. db is nil when
// the session comes from a session string.
type ClientFactory func(ctx context.Context, cfg config.Config, kind SessionKind, db *gorm.DB) (*gotgproto.Client, error)

// QRClientFactory is a function that creates a raw telegram client for QR auth.
type QRClientFactory func(cfg config.Config) (*QRClientBundle, error)

// Manager opens user and bot sessions and owns everything it opened.
type Manager struct {
	cfg config.Config
	log *logger.Logger

	clients []*Client
	dbs     []*gorm.DB
	mu      sync.Mutex

	clientFactory   ClientFactory
	qrClientFactory QRClientFactory
}

// NewManager creates a new Telegram Manager.
func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cfg:             cfg,
		log:             logger.Get(),
		clientFactory:   NewPersistentClient,
		qrClientFactory: NewQRClient,
	}
}

// SetClientFactory allows overriding the client creation logic (e.g. for testing).
func (m *Manager) SetClientFactory(f ClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientFactory = f
}

// SetQRClientFactory allows overriding the QR client creation logic (e.g. for testing).
func (m *Manager) SetQRClientFactory(f QRClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qrClientFactory = f
}

// Dial connects a session of the given kind. The user session is restored
// from the session string or from its database; an empty database is
// reported as ErrUnauthorized instead of starting an interactive login.
func (m *Manager) Dial(ctx context.Context, kind SessionKind) (*Client, error) {
	var db *gorm.DB
	if kind == SessionBot || m.cfg.SessionString == "" {
		var err error
		db, err = m.sessionDB(kind)
		if err != nil {
			return nil, fmt.Errorf("open %s session store: %w", kind, err)
		}
	}

	if kind == SessionUser && db != nil {
		var count int64
		if err := db.Table("sessions").Count(&count).Error; err != nil {
			m.log.Warn().Err(err).Msg("telegram: failed to check sessions table")
		}
		if count == 0 {
			m.log.Info().Msg("telegram: no session in database, waiting for auth")
			return nil, ErrUnauthorized
		}
	}

	m.mu.Lock()
	factory := m.clientFactory
	m.mu.Unlock()

	proto, err := factory(ctx, m.cfg, kind, db)
	if err != nil {
		m.log.Warn().Err(err).Str("session", kind.String()).Msg("telegram: failed to initialize client")
		return nil, fmt.Errorf("connect %s session: %w", kind, err)
	}

	client := NewClient(proto, kind, m.cfg.MediaTimeout)

	m.mu.Lock()
	m.clients = append(m.clients, client)
	m.mu.Unlock()

	m.log.Info().Str("session", kind.String()).Msg("telegram: client is ready")
	return client, nil
}

func (m *Manager) sessionDB(kind SessionKind) (*gorm.DB, error) {
	db, err := gorm.Open(SessionDialector(m.cfg, kind), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.dbs = append(m.dbs, db)
	m.mu.Unlock()
	return db, nil
}

// StartQR runs the QR login flow and stores the resulting user session in
// the session database. It blocks until login succeeds or ctx is canceled.
func (m *Manager) StartQR(ctx context.Context, onQRCode func(url string)) error {
	m.log.Info().Msg("telegram: starting QR flow, creating QR client")

	m.mu.Lock()
	factory := m.qrClientFactory
	m.mu.Unlock()

	bundle, err := factory(m.cfg)
	if err != nil {
		return fmt.Errorf("create QR client: %w", err)
	}

	var authErr error
	var sessionData *session.Data

	// client.Run blocks until the context is canceled or the function returns
	err = bundle.Client.Run(ctx, func(ctx context.Context) error {
		qr := bundle.Client.QR()
		loggedIn := qrlogin.OnLoginToken(&bundle.Dispatcher)

		_, authErr = qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			m.log.Debug().Str("url", token.URL()).Msg("telegram: QR token generated")
			onQRCode(token.URL())
			return nil
		})
		if authErr != nil {
			return authErr
		}

		loader := session.Loader{Storage: bundle.Storage}
		sessionData, authErr = loader.Load(ctx)
		return authErr
	})

	if err != nil || authErr != nil {
		if errors.Is(err, context.Canceled) || errors.Is(authErr, context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("QR auth flow failed: %w", errors.Join(err, authErr))
	}
	if sessionData == nil {
		return fmt.Errorf("session data is nil after successful auth")
	}

	m.log.Info().Msg("telegram: QR auth success, saving session to database")
	if err := m.saveSessionToDB(sessionData); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (m *Manager) saveSessionToDB(data *session.Data) error {
	sess, err := ConvertToGotgprotoSession(data)
	if err != nil {
		return err
	}

	db, err := m.sessionDB(SessionUser)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("migrate sessions table: %w", err)
	}
	// Version is the primary key, Save upserts the single row
	return db.Save(sess).Error
}

// Stop stops every client and closes every session store opened so far.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.clients {
		c.Close()
	}
	m.clients = nil

	for _, db := range m.dbs {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	m.dbs = nil
}
