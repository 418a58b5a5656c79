package api

import (
	"net/http"

	maildelivery "mailsense-backend/internal/mail/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, mailHandler *maildelivery.MailHandler) {
	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		accounts := api.Group("/accounts")
		{
			accounts.POST("/:id/sync", mailHandler.SyncAccount)
		}

		messages := api.Group("/messages")
		{
			messages.GET("/:id", mailHandler.GetMessage)
			messages.POST("/:id/enrich", mailHandler.EnrichMessage)
		}

		api.GET("/search", mailHandler.Search)
		api.POST("/enrichments/backfill", mailHandler.BackfillEmbeddings)

		users := api.Group("/users")
		{
			users.POST("/:id/workflows/missed-todo", mailHandler.RunMissedTodo)
			users.GET("/:id/subscriptions", mailHandler.GetSubscriptions)
			users.GET("/:id/contacts", mailHandler.GetContacts)
		}

		api.POST("/devices", mailHandler.RegisterDevice)
		api.GET("/jobs/stats", mailHandler.GetJobStats)
	}
}
