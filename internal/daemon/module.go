package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/archive"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/conn"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/logging"
	"github.com/matheus3301/dmsync/internal/rpc"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/store"
	dsync "github.com/matheus3301/dmsync/internal/sync"
	"github.com/matheus3301/dmsync/internal/typing"
	"github.com/matheus3301/dmsync/internal/ws"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	SocketPath  string // optional override for testing; empty = use default
	LockPath    string // optional override for testing; empty = use default
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return session.SocketPath(p.SessionName)
}

func (p Params) lockPath() string {
	if p.LockPath != "" {
		return p.LockPath
	}
	return session.LockPath(p.SessionName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p, p.Config),
		fx.Provide(
			provideBus,
			provideStateMachine,
			provideLock,
			provideArchive,
			provideDialer,
			provideConnManager,
			provideAPIClient,
			provideEngine,
			provideDebouncer,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// LoggerModule provides the session's file and console logger.
func LoggerModule() fx.Option {
	return fx.Provide(provideLogger)
}

func provideLogger(lc fx.Lifecycle, p Params, cfg *config.Config) (*zap.Logger, error) {
	logger, closeFn, err := logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(closeFn))
	return logger, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.lockPath(), lock.Owner{UserID: cfg.UserID, Socket: p.socketPath()})
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideArchive returns nil when the archive is disabled.
func provideArchive(p Params, cfg *config.Config, logger *zap.Logger) (*archive.DB, error) {
	if !cfg.Archive.Enabled {
		logger.Info("archive disabled")
		return nil, nil
	}
	path := session.ArchivePath(p.SessionName)
	db, err := archive.Open(path)
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
	logger.Info("archive initialized", zap.String("path", path))
	return db, nil
}

func provideDialer(cfg *config.Config) ws.Dialer {
	return ws.NewDialer(cfg.ServerURL)
}

func provideConnManager(d ws.Dialer, m *status.Machine, cfg *config.Config, logger *zap.Logger) *conn.Manager {
	b := conn.Backoff{
		Base:        cfg.Reconnect.Base.Duration,
		Max:         cfg.Reconnect.Max.Duration,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
	return conn.NewManager(d, nil, m, b, logger.Named("conn"))
}

func provideAPIClient(cfg *config.Config, logger *zap.Logger) *api.Client {
	c := api.New(cfg.APIURL, cfg.UserID, logger.Named("api"))
	c.SetToken(cfg.Credential())
	return c
}

func provideEngine(cfg *config.Config, client *api.Client, mgr *conn.Manager, db *archive.DB, b *bus.Bus, logger *zap.Logger) *dsync.Engine {
	opts := dsync.Options{
		Bus:             b,
		Logger:          logger.Named("sync"),
		TypingTTL:       cfg.Typing.TTL.Duration,
		ResyncOnConnect: cfg.ResyncOnConnect,
	}
	if db != nil {
		opts.Archive = db
	}
	engine := dsync.NewEngine(store.NewState(cfg.UserID), client, mgr, opts)
	mgr.RegisterSink(engine)
	return engine
}

func provideDebouncer(mgr *conn.Manager, cfg *config.Config) *typing.Debouncer {
	return typing.New(mgr, nil, cfg.Typing.Debounce.Duration)
}

func provideService(p Params, cfg *config.Config, engine *dsync.Engine, mgr *conn.Manager, d *typing.Debouncer, m *status.Machine, b *bus.Bus, logger *zap.Logger) *rpc.Service {
	return rpc.NewService(rpc.ServiceParams{
		Session:    p.SessionName,
		Engine:     engine,
		Conn:       mgr,
		Typing:     d,
		Machine:    m,
		Bus:        b,
		Credential: cfg.Credential,
		Logger:     logger.Named("rpc"),
	})
}

type lifecycleParams struct {
	fx.In

	Config  *config.Config
	Server  *Server
	Lock    *lock.Lock
	Archive *archive.DB
	Engine  *dsync.Engine
	Conn    *conn.Manager
	Typing  *typing.Debouncer
	Machine *status.Machine
	Bus     *bus.Bus
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := p.Engine.Start(runCtx); err != nil {
				return err
			}

			// A credential rejected by the REST side must also take the live
			// channel down.
			authLost, _ := p.Bus.Subscribe(bus.KindAuthLost, 4)
			go func() {
				for range authLost {
					if p.Machine.Current() != status.AuthRequired {
						logger.Warn("credential rejected, disconnecting")
						p.Typing.Close()
						p.Conn.Disconnect()
					}
				}
			}()

			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			token := p.Config.Credential()
			if token == "" {
				logger.Info("no credential configured, waiting for connect")
				return nil
			}
			if err := p.Conn.Connect(token); err != nil {
				return err
			}
			if !p.Config.ResyncOnConnect {
				go func() {
					if err := p.Engine.LoadConversations(runCtx); err != nil {
						logger.Warn("initial conversation load failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Typing.Close()
			p.Conn.Disconnect()
			cancel()
			p.Engine.Stop()
			// Closing the bus ends open watch streams.
			p.Bus.Close()
			p.Server.Stop(ctx)
			if p.Archive != nil {
				if err := p.Archive.Close(); err != nil {
					logger.Warn("error closing archive", zap.Error(err))
				}
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
