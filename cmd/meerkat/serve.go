package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/meerkat-chat/meerkat/internal/backend"
	"github.com/meerkat-chat/meerkat/internal/config"
	"github.com/meerkat-chat/meerkat/internal/handlers"
	"github.com/meerkat-chat/meerkat/internal/logger"
	"github.com/meerkat-chat/meerkat/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory development backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.DevServer.Addr = addr
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides devserver.addr)")
	return cmd
}

func runServe(cfg config.Config) error {
	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideStore,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(handlers.NewChatroomHandler),
			provideServerHandler(handlers.NewMessagesHandler),
			provideServerHandler(handlers.NewAllClearHandler),
			provideServerHandler(handlers.NewSocketHandler),
			provideServer,
		),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger() *slog.Logger {
	return logger.L
}

func provideStore(log *slog.Logger) *backend.Store {
	return backend.Demo(log)
}

func providePingHandler(log *slog.Logger, store *backend.Store) *handlers.PingHandler {
	return handlers.NewPingHandler(log, store)
}

func provideAuthHandler(log *slog.Logger, store *backend.Store, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, store, cfg.Auth.JWTSecret, cfg.Auth.ExpiresIn())
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.DevServer.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	fmt.Printf("Starting Meerkat dev backend %s on %s\n", Version, cfg.DevServer.Addr)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
