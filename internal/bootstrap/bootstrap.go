// Package bootstrap builds the object graph shared by the API server and the janitor CLI.
package bootstrap

import (
	"fmt"

	authrepo "inboxjanitor/internal/auth/repository"
	authusecase "inboxjanitor/internal/auth/usecase"
	emailrepo "inboxjanitor/internal/email/repository"
	emailusecase "inboxjanitor/internal/email/usecase"
	"inboxjanitor/pkg/ai"
	"inboxjanitor/pkg/config"
	"inboxjanitor/pkg/crypto"
	"inboxjanitor/pkg/database"
	"inboxjanitor/pkg/gmail"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options carries the runtime-tunable AI getters. Nil getters fall back to static config.
type Options struct {
	GetProvider      func() ai.ProviderType
	GetOllamaBaseURL func() string
	GetOllamaModel   func() string
}

type App struct {
	Config *config.Config
	Logger *logrus.Logger
	DB     *gorm.DB

	Users     authrepo.UserRepository
	FCMTokens authrepo.FCMTokenRepository
	Accounts  authrepo.MailboxAccountRepository

	Messages emailrepo.MessageRepository
	Progress emailrepo.SyncProgressRepository
	Senders  emailrepo.SenderStatisticRepository
	Batches  emailrepo.DeleteBatchRepository

	Box        *crypto.Box
	Gmail      *gmail.Service
	Clients    *emailusecase.MailboxClients
	Classifier *ai.FallbackService

	Auth           authusecase.AuthUsecase
	AccountManager authusecase.AccountUsecase
	Sync           emailusecase.SyncUsecase
	Classification emailusecase.ClassificationUsecase
	Learning       emailusecase.LearningUsecase
	Deletion       emailusecase.DeletionUsecase
}

// OpenDB connects and applies pending migrations
func OpenDB(cfg *config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := database.NewConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(db, logger); err != nil {
		return nil, err
	}
	return db, nil
}

// New wires repositories and usecases on an open database
func New(cfg *config.Config, db *gorm.DB, logger *logrus.Logger, opts Options) (*App, error) {
	box, err := crypto.NewBox(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token encryption: %w", err)
	}

	getBaseURL, getModel := opts.GetOllamaBaseURL, opts.GetOllamaModel
	if getBaseURL == nil {
		getBaseURL = func() string { return cfg.OllamaBaseURL }
	}
	if getModel == nil {
		getModel = func() string { return cfg.OllamaModel }
	}

	classifier, err := ai.NewClassifier(ai.Config{
		Provider:         ai.ProviderType(cfg.AIProvider),
		GetProvider:      opts.GetProvider,
		GeminiAPIKey:     cfg.GeminiApiKey,
		GeminiModel:      cfg.GeminiModel,
		GetOllamaBaseURL: getBaseURL,
		GetOllamaModel:   getModel,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIModel:      cfg.OpenAIModel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AI classifier: %w", err)
	}
	logger.WithField("providers", classifier.Available()).Info("[AI] Classifier initialized")

	app := &App{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Users:      authrepo.NewUserRepository(db),
		FCMTokens:  authrepo.NewFCMTokenRepository(db),
		Accounts:   authrepo.NewMailboxAccountRepository(db),
		Messages:   emailrepo.NewMessageRepository(db),
		Progress:   emailrepo.NewSyncProgressRepository(db),
		Senders:    emailrepo.NewSenderStatisticRepository(db),
		Batches:    emailrepo.NewDeleteBatchRepository(db),
		Box:        box,
		Gmail:      gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, logger),
		Classifier: classifier,
	}

	app.Clients = emailusecase.NewMailboxClients(app.Gmail, box, app.Accounts, cfg.IMAPTrashMailbox, logger)

	var watcher authusecase.Watcher
	if cfg.GooglePubSubTopic != "" {
		watcher = app.Clients
	}

	app.Auth = authusecase.NewAuthUsecase(app.Users, app.FCMTokens, cfg.JWTSecret)
	app.AccountManager = authusecase.NewAccountUsecase(app.Accounts, box, watcher, cfg.GooglePubSubTopic, logger)
	app.Learning = emailusecase.NewLearningUsecase(app.Accounts, app.Messages, app.Senders, logger)
	app.Sync = emailusecase.NewSyncUsecase(app.Accounts, app.Messages, app.Progress, app.Clients, cfg.Sync, logger)
	app.Classification = emailusecase.NewClassificationUsecase(app.Accounts, app.Messages, app.Learning, classifier, cfg.Classification, logger)
	app.Deletion = emailusecase.NewDeletionUsecase(app.Accounts, app.Messages, app.Batches, app.Learning, app.Clients, logger)

	return app, nil
}
