package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/gatherly/services/attendance/config"
	"example.com/gatherly/services/attendance/internal/cache"
	"example.com/gatherly/services/attendance/internal/metrics"
	"example.com/gatherly/services/attendance/internal/notifier"
	"example.com/gatherly/services/attendance/internal/repositories"
	"example.com/gatherly/services/attendance/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that reconciles confirmed attendance counts`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize the notification pipeline
	busClient, err := notifier.NewServiceBusClient(cfg.Azure, "attendance-worker")
	if err != nil {
		return err
	}
	eventNotifier := notifier.NewAsyncNotifier(busClient, cfg.Worker.NotifyBufferSize)
	defer eventNotifier.Close()

	// Initialize repositories and services
	eventRepo := repositories.NewEventRepository(db, readOnlyDB)
	rsvpRepo := repositories.NewRSVPRepository(db, readOnlyDB)
	admissionService := services.NewAdmissionService(eventRepo, rsvpRepo, redisCache, eventNotifier, metricsCollector)

	// Start the reconciliation cron job. Admission checks run without a
	// surrounding transaction, so the denormalized confirmed count can
	// drift under concurrent writes; this job repairs it.
	g.Go(func() error {
		log.Info().
			Dur("interval", cfg.Worker.ReconcileInterval).
			Msg("Starting confirmed count reconciliation job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.ReconcileInterval),
			gocron.NewTask(func() {
				// Look back two intervals so a slow previous run
				// cannot leave a gap
				since := time.Now().Add(-2 * cfg.Worker.ReconcileInterval)
				if err := admissionService.ReconcileConfirmedCounts(ctx, since, cfg.Worker.ReconcileBatch); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile confirmed counts")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
