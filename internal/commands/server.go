package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"evalgo.org/fastvm/internal/api"
	"evalgo.org/fastvm/internal/engine"
	"evalgo.org/fastvm/internal/logging"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the engine and its HTTP API server.

Running VMs recorded in the catalog are adopted when their hypervisor is
still alive and marked stopped otherwise.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	log := logging.For("server")

	eng, err := engine.New(cfg, engine.Deps{})
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	eng.Preflight(ctx)
	eng.Start(ctx)

	server := api.New(cfg, eng)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		serveErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	if err := eng.Close(shutdownCtx); err != nil {
		return fmt.Errorf("engine shutdown error: %w", err)
	}
	return serveErr
}
