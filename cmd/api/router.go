package api

import (
	"net/http"

	"inboxjanitor/internal/auth/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	authHandler := h.authHandler
	emailHandler := h.emailHandler
	requireAuth := delivery.AuthMiddleware(h.authUsecase)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		api.GET("/me", requireAuth, authHandler.Me)
		api.DELETE("/me", requireAuth, authHandler.DeleteMe)

		// FCM routes (protected)
		fcm := api.Group("/fcm")
		fcm.Use(requireAuth)
		{
			fcm.POST("/register", authHandler.RegisterFCMToken)
			fcm.DELETE("/:token", authHandler.UnregisterFCMToken)
		}

		// Mailbox account routes (protected)
		accounts := api.Group("/accounts")
		accounts.Use(requireAuth)
		{
			accounts.GET("", authHandler.ListAccounts)
			accounts.POST("", authHandler.ConnectAccount)
			accounts.DELETE("/:accountId", authHandler.DeleteAccount)

			accounts.POST("/:accountId/sync", emailHandler.RunSync)
			accounts.GET("/:accountId/sync", emailHandler.GetSyncStatus)
			accounts.POST("/:accountId/suggest-deletes", emailHandler.SuggestDeletes)
			accounts.GET("/:accountId/delete-candidates", emailHandler.ListCandidates)
			accounts.POST("/:accountId/confirm-delete", emailHandler.ConfirmDelete)
			accounts.GET("/:accountId/delete-batches/:batchId", emailHandler.GetDeleteBatch)
			accounts.POST("/:accountId/messages/delete", emailHandler.ManualDelete)
			accounts.POST("/:accountId/messages/keep", emailHandler.KeepMessages)
			accounts.GET("/:accountId/senders", emailHandler.ListSenders)

			accounts.GET("/:accountId/settings/auto-include", authHandler.GetAutoInclude)
			accounts.PUT("/:accountId/settings/auto-include", authHandler.SetAutoInclude)
		}

		// Settings routes (protected) - Runtime AI configuration
		settings := api.Group("/settings")
		settings.Use(requireAuth)
		{
			settings.GET("/ai", GetAISettings(h.providers))
			settings.PUT("/ai", UpdateAISettings)
			settings.POST("/ai/ollama/test", TestOllamaConnection)
		}
	}
}
