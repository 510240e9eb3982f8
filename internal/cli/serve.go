package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"creative-review-engine/internal/api"
	"creative-review-engine/internal/assets"
	"creative-review-engine/internal/auth"
	"creative-review-engine/internal/config"
	"creative-review-engine/internal/creatives"
	"creative-review-engine/internal/logger"
	"creative-review-engine/internal/notify"
	"creative-review-engine/internal/ratelimit"
	"creative-review-engine/internal/review"
	"creative-review-engine/internal/tasks"
	"creative-review-engine/internal/verify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, review scheduler and webhook dispatcher",
	Long: `Start the review engine in one process.

Endpoints:
  POST /reviews                    Submit a creative for automated review
  GET  /reviews/{jobID}            Review job status
  GET  /creatives/{id}/reviews     Review history and final decision
  /tasks                           Human review task lifecycle
  /webhooks                        Delivery records and dead letters
  GET  /healthz, /metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("port", "p", "", "port to listen on (overrides HTTP_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.HTTPPort = port
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
	if rdb != nil {
		defer rdb.Close()
	}

	q, err := newWebhookQueue(cfg, rdb)
	if err != nil {
		return err
	}
	disp, err := newDispatcher(cfg, b, q, log)
	if err != nil {
		return err
	}

	notifier := notify.New(disp, b.tenants, log.With("component", "notify"))
	creativeSvc := creatives.NewService(b.creatives, log)
	taskSvc := tasks.NewService(b.tasks, log, notifier, review.NewApprovalSync(creativeSvc, notifier, log))

	preparer, err := assets.NewPreparer(ctx, assets.Config{
		MaxBytes:     cfg.AssetMaxBytes,
		MaxEdge:      cfg.AssetMaxEdge,
		MaxPixels:    cfg.AssetMaxPixels,
		AllowPrivate: cfg.AssetAllowPrivate,
		Bucket:       cfg.AssetArchiveBucket,
		Region:       cfg.AssetArchiveRegion,
		Endpoint:     cfg.AssetArchiveEndpoint,
		PathStyle:    cfg.AssetArchiveEndpoint != "",
		Dir:          cfg.AssetArchiveDir,
	})
	if err != nil {
		return fmt.Errorf("asset preparer: %w", err)
	}

	sched, err := review.NewScheduler(review.Config{
		Workers:           cfg.ReviewWorkers,
		ModerationTimeout: cfg.ModerationTimeout,
		JobTTL:            cfg.ReviewJobTTL,
		SweepInterval:     cfg.ReviewSweepInterval,
		TaskDueIn:         cfg.TaskDueIn,
	}, review.Deps{
		Reviewer:  newReviewer(cfg, log),
		Creatives: creativeSvc,
		Tasks:     taskSvc,
		Policies:  b.tenants,
		Preparer:  preparer,
		Notifier:  notifier,
		Log:       log.With("component", "review"),
	})
	if err != nil {
		return err
	}

	var accessor verify.StateAccessor = verify.StaticStateAccessor{}
	if cfg.VerifyStateURL != "" {
		accessor = verify.NewHTTPStateAccessor(cfg.VerifyStateURL, 10*time.Second)
	} else {
		log.Warn("VERIFY_STATE_URL not set, verification sees no live state")
	}

	deps := api.Deps{
		Reviews:   sched,
		Tasks:     taskSvc,
		Verifier:  verify.NewEngine(taskSvc, accessor, log),
		Webhooks:  disp,
		Creatives: creativeSvc,
		Assets:    preparer,
		Settings:  b.settings,
		Log:       log,
		Ready:     readiness(b, rdb),
	}
	if rdb != nil {
		limiter, err := ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, 0)
		if err != nil {
			return err
		}
		deps.Limiter = limiter
	}
	if cfg.JWTSecret != "" {
		m, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return err
		}
		deps.Auth = m
	} else {
		log.Warn("JWT_SECRET not set, tenant is taken from the X-Tenant-ID header")
	}

	// Workers outlive the request context so in-flight jobs can finish while
	// the HTTP server drains.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	sched.Start(workerCtx)
	disp.Start(workerCtx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", httpServer.Addr, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	cancelWorkers()
	sched.Wait()
	disp.Wait()
	return serveErr
}
