package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"creative-review-engine/internal/config"
	"creative-review-engine/internal/logger"
	"creative-review-engine/internal/telemetry"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run webhook dispatcher workers only",
	Long: `Run extra webhook delivery workers next to one or more serve processes.

Deliveries are shared through Postgres and the Redis queue, so both
POSTGRES_DSN and WEBHOOK_QUEUE=redis are required. Metrics are served on
METRICS_ADDR.`,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().IntP("workers", "w", 0, "number of delivery workers (overrides WEBHOOK_WORKERS)")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := dispatchPreflight(cfg); err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		cfg.WebhookWorkers = n
	}
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()
	rdb := openRedis(cfg)
	defer rdb.Close()

	q, err := newWebhookQueue(cfg, rdb)
	if err != nil {
		return err
	}
	disp, err := newDispatcher(cfg, b, q, log)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", "err", err)
			}
		}()
		defer metrics.Close()
	}

	log.Info("dispatcher running", "workers", cfg.WebhookWorkers, "metrics_addr", cfg.MetricsAddr)
	if err := disp.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	return nil
}

// dispatchPreflight rejects configurations where a standalone dispatcher
// would only see its own process memory.
func dispatchPreflight(cfg config.Config) error {
	var errs []error
	if cfg.PostgresDSN == "" {
		errs = append(errs, errors.New("dispatch requires POSTGRES_DSN"))
	}
	if cfg.WebhookQueue != "redis" {
		errs = append(errs, errors.New("dispatch requires WEBHOOK_QUEUE=redis"))
	}
	return errors.Join(errs...)
}
