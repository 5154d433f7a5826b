package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"research_workflow_engine/internal/app"
	"research_workflow_engine/internal/domain/delivery"
	"research_workflow_engine/internal/domain/notification"
	"research_workflow_engine/internal/domain/recipient"
	"research_workflow_engine/internal/domain/status"
	"research_workflow_engine/internal/infra/cache"
	"research_workflow_engine/internal/infra/config"
	idb "research_workflow_engine/internal/infra/database"
	"research_workflow_engine/internal/infra/httpserver"
	"research_workflow_engine/internal/infra/logger"
	"research_workflow_engine/internal/infra/mail"
	"research_workflow_engine/internal/infra/memstore"
	"research_workflow_engine/internal/infra/metrics"
	"research_workflow_engine/internal/infra/scheduler"
	"research_workflow_engine/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"
)

type storage struct {
	definitions   status.DefinitionRepository
	records       status.RecordRepository
	entities      status.EntityDirectory
	contacts      recipient.Directory
	notifications notification.Repository
	checks        map[string]httpserver.HealthCheck
	close         func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"storage":     cfg.StorageDriver,
	}).Info("Research workflow engine starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := openStorage(ctx, cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize storage")
	}
	defer store.close()

	// Status definitions and ledger
	catalogOpts := []app.CatalogOption{app.WithCatalogMetrics(m)}
	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to Redis")
	}
	var invalidator *cache.DefinitionInvalidator
	if redisClient != nil {
		defer redisClient.Close()
		invalidator = cache.NewDefinitionInvalidator(redisClient, cfg.DefinitionInvalidationChannel, logger.Component("definition_invalidation"))
		catalogOpts = append(catalogOpts, app.WithInvalidationPublisher(invalidator))
		store.checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	catalog := app.NewDefinitionCatalog(store.definitions, logger.Component("catalog"), catalogOpts...)
	if err := catalog.Refresh(ctx); err != nil {
		mainLogger.WithError(err).Fatal("Could not load status definitions")
	}
	ledger := app.NewStatusLedger(store.records, store.entities, catalog, logger.Component("ledger"), app.WithLedgerMetrics(m))
	resolver := app.NewRecipientResolver(store.contacts)

	// Transport
	var gateway delivery.Gateway
	if cfg.SMTPHost != "" {
		gateway = mail.NewSMTPGateway(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		mainLogger.Warn("SMTP_HOST is not set; notifications will only be logged.")
		gateway = mail.NewLogGateway(logger.Component("mail"))
	}

	dispatcherOpts := []app.DispatcherOption{
		app.WithRetryPolicy(app.RetryPolicy{BaseDelay: cfg.RetryBaseDelay, Factor: 2, MaxRetries: cfg.RetryMax}),
		app.WithSendRate(cfg.DispatchRatePerSec),
		app.WithSendTimeout(cfg.SendTimeout),
		app.WithDispatcherMetrics(m),
	}

	// Operator bot
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		telegramLogger := logger.Component("telegram")
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				telegramLogger.WithError(err).Error("telebot error")
			},
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		if cfg.OperatorTelegramID != 0 {
			dispatcherOpts = append(dispatcherOpts, app.WithAlerter(telegram.NewTelebotAdapter(bot, cfg.OperatorTelegramID)))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Scheduling and delivery
	queue := scheduler.NewTimerQueue(logger.Component("timer_queue"), m.SetArmedTimers)
	dispatcher := app.NewDispatcher(store.notifications, ledger, gateway, queue, logger.Component("dispatcher"), dispatcherOpts...)
	notifications := app.NewNotificationService(store.notifications, resolver, ledger, queue, dispatcher,
		logger.Component("notifications"), app.WithServiceMetrics(m))

	queue.Start(gctx, dispatcher.Fire)
	if _, err := notifications.Rehydrate(gctx); err != nil {
		mainLogger.WithError(err).Fatal("Could not rehydrate pending notifications")
	}

	maintenance := scheduler.NewMaintenanceScheduler(catalog, notifications, logger.Component("maintenance"),
		cfg.CronSpecDefinitionRefresh, cfg.CronSpecRehydrateSweep)
	if err := maintenance.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start maintenance scheduler")
	}

	if bot != nil {
		ops := app.NewOperatorService(notifications, ledger, catalog, cfg.OperatorTelegramID)
		telegram.RegisterOperatorHandlers(gctx, bot, ops, logger.Component("telegram"))
		go bot.Start()
		g.Go(func() error {
			<-gctx.Done()
			bot.Stop()
			return nil
		})
	}

	if invalidator != nil {
		g.Go(func() error { return invalidator.Listen(gctx, catalog) })
	}

	srv := httpserver.New(cfg.OpsAddr, httpserver.NewOpsRouter(reg, store.checks))
	g.Go(func() error {
		mainLogger.WithField("addr", cfg.OpsAddr).Info("Ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	mainLogger.Info("Application setup complete.")
	err = g.Wait()

	mainLogger.Info("Shutting down application...")
	maintenance.Stop()
	queue.Stop()
	if err != nil {
		mainLogger.WithError(err).Error("Application stopped with error")
		return
	}
	mainLogger.Info("Application shut down gracefully.")
}

func openStorage(ctx context.Context, cfg *config.AppConfig) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		statuses := memstore.NewStatusStore()
		directory := memstore.NewDirectory()
		return &storage{
			definitions:   statuses,
			records:       statuses,
			entities:      directory,
			contacts:      directory,
			notifications: memstore.NewNotificationStore(),
			checks:        map[string]httpserver.HealthCheck{},
			close:         func() {},
		}, nil
	}

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := idb.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	statuses := idb.NewPostgresStatusRepository(db)
	directory := idb.NewPostgresDirectory(db)
	return &storage{
		definitions:   statuses,
		records:       statuses,
		entities:      directory,
		contacts:      directory,
		notifications: idb.NewPostgresNotificationRepository(db),
		checks:        map[string]httpserver.HealthCheck{"postgres": db.PingContext},
		close:         func() { db.Close() },
	}, nil
}
