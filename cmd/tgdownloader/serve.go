package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/tgdownloader/internal/auth"
	"github.com/memohai/tgdownloader/internal/channel"
	"github.com/memohai/tgdownloader/internal/channel/adapters/telegram"
	"github.com/memohai/tgdownloader/internal/config"
	"github.com/memohai/tgdownloader/internal/conversation"
	"github.com/memohai/tgdownloader/internal/handlers"
	"github.com/memohai/tgdownloader/internal/logger"
	"github.com/memohai/tgdownloader/internal/media"
	"github.com/memohai/tgdownloader/internal/media/providers/localfs"
	"github.com/memohai/tgdownloader/internal/notify"
	"github.com/memohai/tgdownloader/internal/router"
	"github.com/memohai/tgdownloader/internal/schedule"
	"github.com/memohai/tgdownloader/internal/server"
	"github.com/memohai/tgdownloader/internal/version"
)

func runServe(cfg config.Config) error {
	app := newApp(cfg)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func newApp(cfg config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideAuthorizer,
			conversation.NewStore,
			provideStorage,
			provideTelegramAdapter,
			provideFetcher,
			provideChannelManager,
			provideNotifier,
			provideRouter,
			provideSweeper,
			providePingHandler,
			provideStatusHandler,
			provideSwaggerHandler,
			provideServer,
		),
		fx.Invoke(
			logStartup,
			startSweeper,
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	}
	return fx.New(append(opts, extra...)...)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideAuthorizer(cfg config.Config) *auth.Authorizer {
	return auth.NewAuthorizer(cfg.Access.AllowedUsers)
}

func provideStorage(cfg config.Config) (*localfs.Provider, error) {
	store, err := localfs.New(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return store, nil
}

func provideTelegramAdapter(log *slog.Logger, cfg config.Config) *telegram.TelegramAdapter {
	return telegram.NewTelegramAdapter(log, cfg.Telegram)
}

func provideFetcher(log *slog.Logger, cfg config.Config, source *telegram.TelegramAdapter, store *localfs.Provider) *media.Fetcher {
	return media.NewFetcher(log, source, store, media.FetcherOptions{MaxBytes: cfg.Storage.MaxBytes})
}

func provideChannelManager(log *slog.Logger, cfg config.Config, adapter *telegram.TelegramAdapter) *channel.Manager {
	configs := channel.StaticConfigs{{ID: telegram.Type.String(), ChannelType: telegram.Type}}
	mgr := channel.NewManager(log, channel.NewRegistry(), configs, nil, channel.DispatchOptions{
		MaxConcurrency: cfg.Dispatch.MaxConcurrency,
		QueueSize:      cfg.Dispatch.QueueSize,
		IdleTimeout:    cfg.Dispatch.IdleTimeoutDuration(),
	})
	mgr.RegisterAdapter(adapter)
	return mgr
}

func provideNotifier(log *slog.Logger, mgr *channel.Manager) *notify.Notifier {
	return notify.New(log, mgr.SenderFor(telegram.Type))
}

func provideRouter(log *slog.Logger, authorizer *auth.Authorizer, sessions *conversation.Store, fetcher *media.Fetcher, notifier *notify.Notifier) *router.Router {
	return router.New(log, authorizer, sessions, fetcher, notifier)
}

func provideSweeper(log *slog.Logger, cfg config.Config, store *localfs.Provider) *schedule.Service {
	return schedule.NewService(log, store, cfg.Storage.SweepSchedule, cfg.Storage.StaleAfterDuration())
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log, version.Version)
}

func provideStatusHandler(log *slog.Logger, fetcher *media.Fetcher, mgr *channel.Manager, sessions *conversation.Store, sweeper *schedule.Service) *handlers.StatusHandler {
	return handlers.NewStatusHandler(log, fetcher, mgr, sessions, sweeper)
}

func provideSwaggerHandler(log *slog.Logger) *handlers.SwaggerHandler {
	return handlers.NewSwaggerHandler(log, version.Version)
}

func provideServer(log *slog.Logger, cfg config.Config, ping *handlers.PingHandler, status *handlers.StatusHandler, swagger *handlers.SwaggerHandler) *server.Server {
	if cfg.Server.Addr == "" {
		return nil
	}
	return server.NewServer(log, cfg.Server.Addr, ping, status, swagger)
}

func logStartup(log *slog.Logger, cfg config.Config, store *localfs.Provider, authorizer *auth.Authorizer) {
	log.Info("starting tgdownloader", slog.String("version", version.GetInfo()))
	log.Warn("downloads are saved to target directory", slog.String("dir", store.Root()))
	if authorizer.Open() {
		log.Warn("no allowed users configured: every chat may trigger downloads")
		return
	}
	log.Warn("allowed users", slog.Any("ids", cfg.Access.AllowedUsers))
}

func startSweeper(lc fx.Lifecycle, sweeper *schedule.Service) {
	lc.Append(fx.Hook{
		OnStart: sweeper.Start,
		OnStop:  sweeper.Stop,
	})
}

func startChannelManager(lc fx.Lifecycle, mgr *channel.Manager, r *router.Router) {
	mgr.SetHandler(r.HandleInbound)
	lc.Append(fx.Hook{
		OnStart: mgr.Start,
		OnStop:  mgr.Shutdown,
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server) {
	if srv == nil {
		logger.Info("status server disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
