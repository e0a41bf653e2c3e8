package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	api "inboxjanitor/cmd/api"
	"inboxjanitor/internal/bootstrap"
	"inboxjanitor/internal/email/scheduler"
	emailUsecase "inboxjanitor/internal/email/usecase"
	"inboxjanitor/internal/notification"
	"inboxjanitor/pkg/config"
	"inboxjanitor/pkg/fcm"
	applog "inboxjanitor/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger := applog.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := bootstrap.OpenDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("[Main] Failed to initialize database")
	}

	// Runtime settings feed the classifier on every request
	api.InitRuntimeConfig(cfg.AIProvider, cfg.OllamaBaseURL, cfg.OllamaModel)

	app, err := bootstrap.New(cfg, db, logger, bootstrap.Options{
		GetProvider:      api.GetRuntimeProvider,
		GetOllamaBaseURL: api.GetRuntimeOllamaBaseURL,
		GetOllamaModel:   api.GetRuntimeOllamaModel,
	})
	if err != nil {
		logger.WithError(err).Fatal("[Main] Failed to initialize application")
	}

	// Initialize FCM Client (optional, the janitor works without push)
	var notifier emailUsecase.CandidateNotifier
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials, logger)
		if err != nil {
			logger.WithError(err).Warn("[Main] Failed to initialize FCM client, push notifications disabled")
		} else {
			notifier = notification.NewPushNotifier(app.FCMTokens, fcmClient, logger)
		}
	} else {
		logger.Debug("[Main] No Firebase credentials configured, FCM disabled")
	}

	worker := emailUsecase.NewJanitorWorkerService(app.Sync, app.Classification, notifier, cfg.WorkerCount, logger)
	worker.Start()
	defer worker.Stop()

	// Parked runs are picked up once their last checkpoint is older than one budget
	resumer := scheduler.NewResumeScheduler(app.Progress, app.Accounts, worker, cfg.Sync.ResumeInterval, cfg.Sync.Budget, logger)
	resumer.Start()
	defer resumer.Stop()

	// Initialize Notification Service (Pub/Sub), only when a project is configured
	if cfg.GoogleProjectID != "" {
		// Extract short topic name from full resource name if necessary
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		if topicName == "" {
			topicName = "gmail-updates"
		}

		notifService, err := notification.NewService(ctx, cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, app.Accounts, worker, logger)
		if err != nil {
			logger.WithError(err).Error("[Main] Failed to initialize notification service")
		} else {
			defer notifService.Close()
			go notifService.Start(ctx)
		}
	} else {
		logger.Warn("[Main] GoogleProjectID not configured, notification service disabled")
	}

	handler := api.NewHandler(api.Dependencies{
		Auth:           app.Auth,
		Accounts:       app.AccountManager,
		Sync:           app.Sync,
		Classification: app.Classification,
		Deletion:       app.Deletion,
		Learning:       app.Learning,
		Jobs:           worker,
		Providers:      app.Classifier.Available,
	}, logger)

	logger.Infof("[Main] Server starting on port %s", cfg.Port)
	if err := handler.Start(ctx, ":"+cfg.Port); err != nil {
		logger.WithError(err).Error("[Main] Server stopped with error")
	}
}
