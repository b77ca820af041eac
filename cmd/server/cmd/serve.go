package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"studysync/internal/app/server/api"
)

const shutdownTimeout = 10 * time.Second

var (
	runAddress string
	issueFor   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runAddress != "" {
			cfg.Server.RunAddress = runAddress
		}

		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.close()

		if issueFor != "" {
			token, err := b.deps.Sessions.Create(ctx, issueFor)
			if err != nil {
				return fmt.Errorf("создание токена: %w", err)
			}
			log.Info("token issued", slog.String("user_id", issueFor), slog.String("token", token))
		}

		srv := &http.Server{
			Addr:              cfg.Server.RunAddress,
			Handler:           api.New(b.deps, log),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("server started",
				slog.String("address", cfg.Server.RunAddress),
				slog.String("storage", b.deps.Storage),
			)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&runAddress, "address", "", "адрес HTTP сервера (RUN_ADDRESS)")
	serveCmd.Flags().StringVar(&issueFor, "issue-token", "", "выпустить токен для пользователя при старте")
}
