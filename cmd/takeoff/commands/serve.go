package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/fakeserver"
)

var (
	serveAddr       string
	serveFrameDelay time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a local stand-in for the takeoff service",
	Long: `Serve the takeoff HTTP API with canned detection results so the wizard and
the other commands can be tried without the real service.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8000", "listen address")
	serveCmd.Flags().DurationVar(&serveFrameDelay, "frame-delay", 400*time.Millisecond, "pause between streamed frames")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := app.logger.WithComponent("mock_server")
	backend := fakeserver.New(
		fakeserver.WithLogger(logger),
		fakeserver.WithFrameDelay(serveFrameDelay),
	)
	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", serveAddr).Msg("mock server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error().Err(err).Str("addr", serveAddr).Msg("mock server stopped")
		return domain.TransportError("Mock server failed", err)
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info().Msg("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
		return err
	}
	return nil
}
