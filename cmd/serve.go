package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/heptiolabs/healthcheck"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/api"
	"github.com/khanhnv2901/seca-trust/internal/metrics"
	"github.com/khanhnv2901/seca-trust/internal/platform"
)

const (
	maxGoroutines   = 1000
	listenRetries   = 5
	readinessBudget = 2 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the security check engine over HTTP",
	Long: `Serve exposes the orchestrator as a REST API:

  GET   /api/v1/state           current state
  GET   /api/v1/status          ten-signal security status
  POST  /api/v1/run             run the pipeline (?mode=quick, ?async=true)
  PATCH /api/v1/config          merge a partial configuration
  GET   /live, /ready, /metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		addr, _ := cmd.Flags().GetString("addr")
		authToken, _ := cmd.Flags().GetString("auth-token")
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
		corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origins")
		rateLimit, _ := cmd.Flags().GetInt("rate-limit")
		rateBurst, _ := cmd.Flags().GetInt("rate-burst")
		runTimeout, _ := cmd.Flags().GetDuration("run-timeout")

		logger := appCtx.Logger
		rec := metrics.NewRecorder()
		eng, err := buildEngine(appCtx, rec)
		if err != nil {
			return err
		}

		server, err := api.NewServer(api.Config{
			Runner:      eng.orch,
			Metrics:     rec.Handler(),
			Health:      newHealthHandler(appCtx.ResultsDir, eng.storage),
			AuthToken:   authToken,
			Logger:      logger.Named("api"),
			CORSOrigins: corsOrigins,
			RateLimit:   rateLimit,
			RateBurst:   rateBurst,
			RunTimeout:  runTimeout,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := server.Close(shutdownTimeout); err != nil {
				logger.Warn("background runs did not finish", zap.Error(err))
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		listener, err := listenWithRetry(ctx, addr, logger)
		if err != nil {
			return err
		}

		httpServer := &http.Server{
			Handler:      server,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: runTimeout + 30*time.Second,
			IdleTimeout:  120 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			fmt.Printf("%s API server listening on %s (results dir: %s)\n", colorInfo("→"), listener.Addr(), appCtx.ResultsDir)
			fmt.Printf("%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.Serve(listener)
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case <-ctx.Done():
			fmt.Printf("\n%s Shutdown requested, draining connections...\n", colorInfo("→"))

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				if closeErr := httpServer.Close(); closeErr != nil {
					return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
				}
				return fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}
			fmt.Printf("%s Server shutdown complete\n", colorSuccess("✓"))
		}
		return nil
	},
}

// listenWithRetry binds addr, backing off while the port is still held by a
// previous process.
func listenWithRetry(ctx context.Context, addr string, logger *zap.Logger) (net.Listener, error) {
	var listener net.Listener
	op := func() error {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		listener = l
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), listenRetries), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn("listen failed, retrying", zap.String("addr", addr), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return listener, nil
}

// newHealthHandler reports live while the goroutine count is sane and ready
// while the results directory and storage file can be read.
func newHealthHandler(resultsDir string, storage platform.Storage) healthcheck.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	health.AddReadinessCheck("results-dir", func() error {
		info, err := os.Stat(resultsDir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", resultsDir)
		}
		return nil
	})
	health.AddReadinessCheck("storage", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), readinessBudget)
		defer cancel()
		_, err := storage.Get(ctx, lastStateKey)
		return err
	})
	return health
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Address for the API server")
	serveCmd.Flags().String("auth-token", "", "Optional shared secret for API requests")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	serveCmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (empty = allow all)")
	serveCmd.Flags().Int("rate-limit", 10, "Rate limit per IP (requests/second, 0 = disabled)")
	serveCmd.Flags().Int("rate-burst", 20, "Rate limit burst size")
	serveCmd.Flags().Duration("run-timeout", 10*time.Minute, "Upper bound for a single pipeline run")
}
