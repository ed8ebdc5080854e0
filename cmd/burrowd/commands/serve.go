package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowai/burrow/internal/config"
	"github.com/burrowai/burrow/internal/logging"
	"github.com/burrowai/burrow/internal/server"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the burrow HTTP server",
	Long: `Start the agent service and listen for HTTP requests.

Configuration comes from burrow.jsonc in the working directory plus
environment variables; flags override both.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Workspace directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir := serveDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	logging.Init(logging.Config{Level: logging.ParseLevel(cfg.LogLevel), Pretty: cfg.LogPretty})
	log := logging.Component("main")
	log.Info().Str("version", Version).Str("workspace", workDir).Msg("starting burrow")

	srv, err := server.New(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
