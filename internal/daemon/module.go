package daemon

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"lostlink/internal/bus"
	"lostlink/internal/channel"
	"lostlink/internal/chat"
	"lostlink/internal/config"
	"lostlink/internal/lock"
	"lostlink/internal/logging"
	"lostlink/internal/match"
	"lostlink/internal/notify"
	"lostlink/internal/presence"
	"lostlink/internal/session"
	"lostlink/internal/status"
	"lostlink/internal/storage"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	UserID      string
}

// Channels bundles the two logical connections the daemon maintains.
type Channels struct {
	Chat   *channel.Conn
	Notify *channel.Conn
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStorage,
			provideNotifyStore,
			provideChannels,
			providePresence,
			provideChatManager,
			provideMatchClient,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no config file, using defaults")
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("configuration loaded", zap.String("server", cfg.Server.URL))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStorage(p Params, logger *zap.Logger) (*storage.DB, error) {
	dbPath := session.StoreDBPath(p.SessionName)
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("storage initialized", zap.String("path", dbPath))
	return db, nil
}

func provideNotifyStore(db *storage.DB, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *notify.Store {
	return notify.NewStore(db, cfg.Match.ProtectedScores, b, logger)
}

func provideChannels(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *Channels {
	mk := func(name, path, authEvent string) *channel.Conn {
		return channel.New(channel.Options{
			Name:        name,
			URL:         cfg.Server.URL + path,
			AuthEvent:   authEvent,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			RetryDelay:  cfg.Reconnect.Delay(),
		}, b, status.NewMachine(name, b), logger)
	}
	return &Channels{
		Chat:   mk("chat", cfg.Server.ChatPath, channel.EventRegisterUser),
		Notify: mk("notify", cfg.Server.NotifyPath, channel.EventAuthenticate),
	}
}

func providePresence(b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(b)
}

func provideChatManager(p Params, ch *Channels, b *bus.Bus, logger *zap.Logger) *chat.Manager {
	return chat.NewManager(ch.Chat, p.UserID, b, logger)
}

func provideMatchClient(p Params, cfg *config.Config) *match.Client {
	return match.NewClient(apiBase(cfg.Server.URL), p.UserID)
}

// apiBase maps the websocket server URL onto its HTTP counterpart.
func apiBase(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://")
	}
	return wsURL
}

func provideEngine(client *match.Client, store *notify.Store, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *match.Engine {
	return match.NewEngine(client, client, store, b, logger,
		cfg.Match.MinScore, cfg.Match.ReconcileConcurrent, cfg.Match.Interval())
}

// clearPresenceOnDisconnect drops the presence set whenever the chat
// channel goes away; it is rebuilt from the next snapshot after
// reconnect. Returns the unsubscribe func.
func clearPresenceOnDisconnect(b *bus.Bus, tracker *presence.Tracker) func() {
	events, unsub := b.Subscribe("channel.", 16)
	go func() {
		for evt := range events {
			if evt.Kind == "channel.disconnected" && evt.Payload == "chat" {
				tracker.Clear()
			}
		}
	}()
	return unsub
}

func registerLifecycle(lc fx.Lifecycle, p Params, ch *Channels, tracker *presence.Tracker, mgr *chat.Manager, store *notify.Store, engine *match.Engine, lk *lock.Lock, b *bus.Bus, logger *zap.Logger) {
	var stopWatch func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			mgr.Bind()
			tracker.Bind(ch.Chat)
			store.Bind(ch.Notify)

			stopWatch = clearPresenceOnDisconnect(b, tracker)

			ch.Chat.Authenticate(p.UserID)
			ch.Notify.Authenticate(p.UserID)
			go func() {
				if err := ch.Chat.Connect(context.Background()); err != nil {
					logger.Error("chat channel connect failed", zap.Error(err))
				}
			}()
			go func() {
				if err := ch.Notify.Connect(context.Background()); err != nil {
					logger.Error("notify channel connect failed", zap.Error(err))
				}
			}()

			engine.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.Stop()
			ch.Chat.Disconnect()
			ch.Notify.Disconnect()
			if stopWatch != nil {
				stopWatch()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
