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
	"github.com/spf13/viper"

	"github.com/speccheck/speccheck/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compliance check API server",
	Long: `Start the HTTP server that accepts check requests and serves their
status and reports. By default it listens on port 8080. Use --port to
change it. Set server.api_key to require a bearer token on all
endpoints except health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := buildOrchestrator()
		if err != nil {
			return err
		}
		orch.Start()

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", viper.GetInt("server.port")),
			Handler: api.NewServer(orch, viper.GetString("server.api_key")).Router(),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			ui.Info("Serving API at http://localhost%s", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		ui.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			ui.Warning("checks still in flight at shutdown: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
