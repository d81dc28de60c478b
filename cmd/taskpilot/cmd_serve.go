package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"taskpilot/internal/api"
	"taskpilot/internal/config"
	"taskpilot/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat endpoint and the task REST API",
	Long: `Starts the HTTP server:

  POST   /api/ai/chat       {"message": "..."}
  GET    /api/tasks         ?status=&q=&limit=
  POST   /api/tasks
  PATCH  /api/tasks/{id}
  DELETE /api/tasks/{id}
  GET    /api/usage
  GET    /healthz

Changes to the log level in the config file are applied without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []api.Option{
		api.WithKeyEnv(cfg.APIKeyEnv()),
		api.WithUsage(a.usage),
		api.WithChatTimeout(chatTimeout(cfg.GetWriteTimeout())),
	}
	if a.driver != nil {
		opts = append(opts, api.WithChat(a.driver))
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(a.store, cfg.Actor, opts...).Handler(),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Server("listening on %s", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Server("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if _, err := os.Stat(configPath); err == nil {
		w, err := config.NewWatcher(configPath, config.ApplyLogging)
		if err != nil {
			logging.ConfigWarn("hot reload disabled: %v", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	return g.Wait()
}

// chatTimeout leaves room under the server's write timeout to send the error reply.
func chatTimeout(write time.Duration) time.Duration {
	if write <= 0 {
		return 0
	}
	margin := write / 10
	if margin > 2*time.Second {
		margin = 2 * time.Second
	}
	return write - margin
}
