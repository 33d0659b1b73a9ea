package app

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/templui/pledge/internal/config"
	"github.com/templui/pledge/internal/db"
	"github.com/templui/pledge/internal/repository"
	"github.com/templui/pledge/internal/service"
	"github.com/templui/pledge/internal/service/payment"
	"github.com/templui/pledge/internal/storage"
)

// App is the composition root. Every client and service is built once here
// and handed to its consumers explicitly.
type App struct {
	Cfg                 *config.Config
	DB                  *sqlx.DB
	Gateway             payment.Gateway
	UserService         *service.UserService
	NotificationService *service.NotificationService
	GoalService         *service.GoalService
	SetupService        *service.SetupService
	CaptureService      *service.CaptureService
	SettlementService   *service.SettlementService
	WebhookService      *service.WebhookService
	ReminderService     *service.ReminderService
	RetentionService    *service.RetentionService
	DedupService        *service.DedupService
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		_ = db.Close(database)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	gateway, err := payment.NewGateway(cfg)
	if err != nil {
		_ = db.Close(database)
		return nil, fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	var archive service.Archive
	if cfg.ArchiveEnabled() {
		s3Archive, err := storage.New(cfg)
		if err != nil {
			_ = db.Close(database)
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		archive = s3Archive
	}

	return Build(cfg, database, gateway, archive), nil
}

// Build wires repositories and services over an open, migrated database.
func Build(cfg *config.Config, database *sqlx.DB, gateway payment.Gateway, archive service.Archive) *App {
	// Repositories
	userRepository := repository.NewUserRepository(database)
	goalRepository := repository.NewGoalRepository(database)
	goalUpdateRepository := repository.NewGoalUpdateRepository(database)
	paymentRepository := repository.NewPaymentRepository(database)
	notificationRepository := repository.NewNotificationRepository(database)
	webhookEventRepository := repository.NewWebhookEventRepository(database)

	// Services
	emailService := service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AppURL,
		cfg.AppName,
		cfg.IsDevelopment(),
	)
	notificationService := service.NewNotificationService(notificationRepository, userRepository, emailService)
	userService := service.NewUserService(userRepository)
	goalService := service.NewGoalService(goalRepository, goalUpdateRepository, userRepository, notificationService)
	setupService := service.NewSetupService(goalRepository, goalUpdateRepository, userRepository, gateway, goalService, cfg.AppURL)
	captureService := service.NewCaptureService(gateway, cfg.Currency)
	settlementService := service.NewSettlementService(
		goalRepository,
		paymentRepository,
		userRepository,
		goalService,
		captureService,
		notificationService,
		archive,
		cfg.Currency,
		cfg.SettlementMaxAttempts,
	)
	webhookService := service.NewWebhookService(
		webhookEventRepository,
		goalRepository,
		gateway,
		setupService,
		goalService,
		settlementService,
		notificationService,
		archive,
	)
	reminderService := service.NewReminderService(goalRepository, goalUpdateRepository, notificationService)
	retentionService := service.NewRetentionService(
		notificationRepository,
		goalUpdateRepository,
		cfg.NotificationRetention,
		cfg.GoalUpdateRetention,
	)
	dedupService := service.NewDedupService(goalRepository)

	return &App{
		Cfg:                 cfg,
		DB:                  database,
		Gateway:             gateway,
		UserService:         userService,
		NotificationService: notificationService,
		GoalService:         goalService,
		SetupService:        setupService,
		CaptureService:      captureService,
		SettlementService:   settlementService,
		WebhookService:      webhookService,
		ReminderService:     reminderService,
		RetentionService:    retentionService,
		DedupService:        dedupService,
	}
}

// Scheduler returns the in-process periodic passes, or nil when disabled.
func (a *App) Scheduler() *service.Scheduler {
	if !a.Cfg.SchedulerEnabled {
		return nil
	}
	return service.NewScheduler(service.SettlementJobs(
		a.SettlementService,
		a.ReminderService,
		a.RetentionService,
		a.Cfg.SettlementInterval,
		a.Cfg.ReminderInterval,
		a.Cfg.CleanupInterval,
	)...)
}

func (a *App) Close() error {
	if a.DB != nil {
		return db.Close(a.DB)
	}
	return nil
}
