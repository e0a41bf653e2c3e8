package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	authDelivery "inboxjanitor/internal/auth/delivery"
	authUsecase "inboxjanitor/internal/auth/usecase"
	emailDelivery "inboxjanitor/internal/email/delivery"
	emailUsecase "inboxjanitor/internal/email/usecase"
	"inboxjanitor/pkg/ai"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Dependencies are the usecases served over HTTP. Jobs and Providers may be nil.
type Dependencies struct {
	Auth           authUsecase.AuthUsecase
	Accounts       authUsecase.AccountUsecase
	Sync           emailUsecase.SyncUsecase
	Classification emailUsecase.ClassificationUsecase
	Deletion       emailUsecase.DeletionUsecase
	Learning       emailUsecase.LearningUsecase
	Jobs           emailDelivery.JobQueue
	Providers      func() []ai.ProviderType
}

type Handler struct {
	authUsecase  authUsecase.AuthUsecase
	authHandler  *authDelivery.AuthHandler
	emailHandler *emailDelivery.EmailHandler
	providers    func() []ai.ProviderType
	logger       *logrus.Logger
}

func NewHandler(deps Dependencies, logger *logrus.Logger) *Handler {
	return &Handler{
		authUsecase:  deps.Auth,
		authHandler:  authDelivery.NewAuthHandler(deps.Auth, deps.Accounts),
		emailHandler: emailDelivery.NewEmailHandler(deps.Sync, deps.Classification, deps.Deletion, deps.Learning, deps.Jobs),
		providers:    deps.Providers,
		logger:       logger,
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Engine builds the gin engine with middleware and routes
func (h *Handler) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger), corsMiddleware())
	SetupRoutes(r, h)
	return r
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("[HTTP] Request served")
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests
func (h *Handler) Start(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		h.logger.Info("[HTTP] Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
