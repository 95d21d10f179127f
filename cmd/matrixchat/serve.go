package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/matrixchat/internal/api"
	"github.com/RichardoC/matrixchat/internal/cache"
	"github.com/RichardoC/matrixchat/internal/chat"
	"github.com/RichardoC/matrixchat/internal/db"
	"github.com/RichardoC/matrixchat/internal/llm"
)

type ServeFlags struct {
	ListenAddr string
}

func (f *ServeFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ListenAddr, "listen", "", "The address to serve the API on (overrides LISTEN_ADDR)")
}

func NewServeCommand() *cobra.Command {
	f := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the matrixchat API server",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() {
				// Sync fails on terminals with ENOTTY/EINVAL; nothing to do about it.
				_ = logger.Sync()
			}()

			addr := cfg.Server.ListenAddr
			if f.ListenAddr != "" {
				addr = f.ListenAddr
			}

			var store db.Store = db.NewLazy(func() (db.Store, error) {
				logger.Info("Opening database", zap.String("driver", cfg.Database.Driver))
				return db.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.LogLevel)
			})
			if cfg.Redis.Addr != "" {
				logger.Info("Caching conversation list in redis",
					zap.String("addr", cfg.Redis.Addr),
					zap.Duration("ttl", cfg.Redis.TTL))
				store = cache.NewStore(store, cache.NewRedisBackend(cfg.Redis.Addr), cfg.Redis.TTL, logger)
			}
			defer func() {
				err = multierr.Append(err, store.Close())
			}()

			gateway := llm.New(cfg.LLM.GatewayConfig(), llm.WithLogger(logger))
			handler := api.NewHandler(store, chat.NewService(store, gateway, logger), logger)

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(handler, logger),
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting server",
				zap.String("addr", addr),
				zap.String("model", cfg.LLM.Model))
			return runServer(ctx, srv, logger)
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

func runServer(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown failed", zap.Error(err))
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}
