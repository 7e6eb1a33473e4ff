package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/linechat/internal/server"
)

func main() {
	if err := serverCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func serverCmd() *cobra.Command {
	var (
		addrFlag    string
		httpFlag    string
		historyFlag int
		verboseFlag bool
	)

	cmd := &cobra.Command{
		Use:          "linechat-server",
		Short:        "Run the chat server",
		Long:         "Accept line-based chat clients over TCP, replay recent history to newcomers and broadcast every message to everyone else.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verboseFlag)

			cfg := server.NewConfigFromEnv()
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addrFlag
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpFlag
			}
			if cmd.Flags().Changed("history") {
				cfg.HistoryCapacity = historyFlag
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, server.New(*cfg, logger), logger)
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "TCP listen address (default 127.0.0.1:8082, env CHAT_ADDR)")
	cmd.Flags().StringVar(&httpFlag, "http", "", "WebSocket gateway listen address, empty to disable (env CHAT_HTTP_ADDR)")
	cmd.Flags().IntVar(&historyFlag, "history", 0, "number of messages replayed to newcomers (default 20, env CHAT_HISTORY_CAPACITY)")
	cmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "log every message")

	return cmd
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

// run serves until ctx is cancelled or a listener fails, then shuts down.
func run(ctx context.Context, srv *server.Server, logger zerolog.Logger) error {
	cfg := srv.Config()

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errCh <- fmt.Errorf("chat listener on %s: %w", cfg.Addr, err)
		}
	}()

	if cfg.HTTPAddr != "" {
		go func() {
			if err := srv.ListenAndServeGateway(); err != nil && !errors.Is(err, server.ErrServerClosed) {
				errCh <- fmt.Errorf("gateway on %s: %w", cfg.HTTPAddr, err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("interrupt received")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}

	return serveErr
}
