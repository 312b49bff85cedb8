package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/gatherly/services/attendance/config"
	"example.com/gatherly/services/attendance/internal/api"
	"example.com/gatherly/services/attendance/internal/cache"
	"example.com/gatherly/services/attendance/internal/metrics"
	"example.com/gatherly/services/attendance/internal/models"
	"example.com/gatherly/services/attendance/internal/notifier"
	"example.com/gatherly/services/attendance/internal/repositories"
	"example.com/gatherly/services/attendance/internal/services"
	"example.com/gatherly/services/attendance/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to handle RSVPs, waitlisting and check-in code redemption`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize the notification pipeline
	busClient, err := notifier.NewServiceBusClient(cfg.Azure, "attendance-api")
	if err != nil {
		return err
	}
	eventNotifier := notifier.NewAsyncNotifier(busClient, cfg.Worker.NotifyBufferSize)
	defer eventNotifier.Close()

	// Initialize repositories and services
	eventRepo := repositories.NewEventRepository(db, readOnlyDB)
	rsvpRepo := repositories.NewRSVPRepository(db, readOnlyDB)
	codeRepo := repositories.NewCheckinCodeRepository(db, readOnlyDB)
	checkinRepo := repositories.NewCheckinRepository(db, readOnlyDB)

	admissionService := services.NewAdmissionService(eventRepo, rsvpRepo, redisCache, eventNotifier, metricsCollector)
	redemptionService := services.NewRedemptionService(eventRepo, codeRepo, checkinRepo, eventNotifier, metricsCollector)

	// Initialize and start the server
	server := api.NewServer(cfg, admissionService, redemptionService, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

// gormConfig returns the shared gorm settings. TranslateError maps the
// postgres driver's errors onto gorm's sentinels, which the repositories
// rely on to turn unique-index violations into ErrDuplicateKey.
func gormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	// Initialize write database
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), gormConfig())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	// Initialize read-only database
	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), gormConfig())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	// Configure connection pools for both databases
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying write DB connection")
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	readSqlDB, err := readOnlyDB.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying read-only DB connection")
	}

	// Higher limits for the read side, it carries the summary traffic
	readSqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns * 2)
	readSqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns * 2)
	readSqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, readOnlyDB, nil
}
