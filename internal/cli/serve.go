package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yegors/co-scribe/internal/output"
	"github.com/yegors/co-scribe/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		Long:  "Serve the recording controls, live transcript, stored documents and a WebSocket notification stream over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = deps.Config.Server.Address
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, deps, addr, output.NewFormatter(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func runServer(ctx context.Context, deps *Dependencies, addr string, formatter *output.Formatter) error {
	a := deps.App
	log := a.Logger.Named("server")

	if err := deps.Config.RequireTranscriptionKey(); err != nil {
		formatter.Warning(err.Error() + ". Recording will fail until it is set.")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router().Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		formatter.Serving(addr)
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		// an active recording is persisted before the process exits
		a.Controller.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
