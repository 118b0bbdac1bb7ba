// Package daemon composes the sync engine: store, remote client,
// connectivity tracking, the pending-queue worker, the repositories and
// presence, wired through fx with a profile-scoped lock and log.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/bus"
	"github.com/sociallyhq/socially/internal/config"
	"github.com/sociallyhq/socially/internal/lock"
	"github.com/sociallyhq/socially/internal/logging"
	"github.com/sociallyhq/socially/internal/messaging"
	"github.com/sociallyhq/socially/internal/netstate"
	"github.com/sociallyhq/socially/internal/outbox"
	"github.com/sociallyhq/socially/internal/posts"
	"github.com/sociallyhq/socially/internal/presence"
	"github.com/sociallyhq/socially/internal/reconcile"
	"github.com/sociallyhq/socially/internal/remote"
	"github.com/sociallyhq/socially/internal/session"
	"github.com/sociallyhq/socially/internal/store"
	"github.com/sociallyhq/socially/internal/stories"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideProfile,
			provideRemote,
			provideNetstate,
			provideReconciler,
			provideWorker,
			provideMessaging,
			providePosts,
			provideStories,
			providePresence,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(session.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideProfile(p Params, logger *zap.Logger) (*session.Profile, error) {
	prof, err := session.LoadProfile(p.ProfileName)
	if err != nil {
		return nil, err
	}
	if exp, err := prof.TokenExpiry(); err == nil && !exp.IsZero() {
		if remaining := time.Until(exp); remaining < 24*time.Hour {
			logger.Warn("stored token expires soon", zap.Duration("remaining", remaining))
		}
	}
	logger.Info("profile loaded", zap.String("user_id", prof.UserID))
	return prof, nil
}

func provideRemote(cfg *config.Config, prof *session.Profile) *remote.Client {
	return remote.NewClient(cfg.ServerURL, cfg.RequestTimeout(), func(ctx context.Context) (string, error) {
		return prof.Token, nil
	})
}

func provideNetstate(c *remote.Client, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *netstate.Tracker {
	return netstate.NewTracker(c, b, logger, time.Duration(cfg.NetProbeMs)*time.Millisecond)
}

func provideReconciler(db *store.DB, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *reconcile.Reconciler {
	return reconcile.NewReconciler(db, b, logger, int64(cfg.DedupToleranceMs))
}

func provideWorker(db *store.DB, c *remote.Client, b *bus.Bus, logger *zap.Logger) *outbox.Worker {
	return outbox.NewWorker(db, c, b, logger)
}

func provideMessaging(db *store.DB, c *remote.Client, rec *reconcile.Reconciler, b *bus.Bus,
	net *netstate.Tracker, w *outbox.Worker, logger *zap.Logger, prof *session.Profile, cfg *config.Config) *messaging.Repo {
	return messaging.NewRepo(db, c, rec, b, net, w, logger, prof, cfg)
}

func providePosts(db *store.DB, c *remote.Client, rec *reconcile.Reconciler, b *bus.Bus,
	net *netstate.Tracker, w *outbox.Worker, logger *zap.Logger, prof *session.Profile, cfg *config.Config) *posts.Repo {
	return posts.NewRepo(db, c, rec, b, net, w, logger, prof, cfg)
}

func provideStories(db *store.DB, c *remote.Client, rec *reconcile.Reconciler, b *bus.Bus,
	net *netstate.Tracker, w *outbox.Worker, logger *zap.Logger, prof *session.Profile, cfg *config.Config) *stories.Repo {
	return stories.NewRepo(db, c, rec, b, net, w, logger, prof, cfg)
}

func providePresence(c *remote.Client, b *bus.Bus, logger *zap.Logger, prof *session.Profile, cfg *config.Config) *presence.Tracker {
	return presence.NewTracker(c, b, logger, prof.UserID,
		cfg.PresenceTTL(),
		time.Duration(cfg.HeartbeatMs)*time.Millisecond,
		time.Duration(cfg.PresencePollMs)*time.Millisecond)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB,
	net *netstate.Tracker, w *outbox.Worker, pres *presence.Tracker,
	msgs *messaging.Repo, feed *posts.Repo, st *stories.Repo, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			net.Start()
			// The worker kicks an initial drain for ops left over from
			// the previous run and re-arms whenever connectivity returns.
			w.Start()
			pres.Start()
			logger.Info("sync engine started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pres.Stop()
			w.Stop()
			net.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
